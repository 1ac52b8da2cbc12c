package email

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/bcrypt"

	"authbroker/pkg/broker"
	"authbroker/pkg/session"
)

// codeAlphabet is deliberately free of visually ambiguous characters
// (0/O, 1/I) since the code is read by a human out of an email.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// codeLength matches spec's "12-char base32 string" sizing.
const codeLength = 12

// maxAttempts bounds how many wrong codes a session tolerates before it is
// terminated rather than put back for another try.
const maxAttempts = 3

// codeTTL is how long a one-time code remains valid, independent of the
// session's own TTL (a code should not outlive a short confirmation window
// even if the session record itself has longer left to live).
const codeTTL = 10 * time.Minute

// Mailer delivers the login code to the end user. SMTP plumbing and
// template rendering are external collaborators; Bridge only needs
// something that can hand off a rendered message.
type Mailer interface {
	SendLoginCode(ctx context.Context, to, sessionID, code string) error
}

// Bridge implements the email proof-of-possession protocol: a short-lived
// one-time code, delivered out of band, redeemed at most a few times.
type Bridge struct {
	mailer Mailer
	log    logr.Logger
}

// New builds an email Bridge that sends codes through mailer.
func New(mailer Mailer, log logr.Logger) *Bridge {
	return &Bridge{mailer: mailer, log: log}
}

// Kind identifies this bridge as the email protocol.
func (b *Bridge) Kind() session.BridgeKind { return session.BridgeEmail }

// Start generates a one-time code, stores only its bcrypt hash, and sends
// the code to the user by mail.
func (b *Bridge) Start(ctx context.Context, sessionID, email string, params session.ReturnParams) (broker.BridgeStart, error) {
	code, err := generateCode()
	if err != nil {
		return broker.BridgeStart{}, fmt.Errorf("generate one-time code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return broker.BridgeStart{}, fmt.Errorf("hash one-time code: %w", err)
	}

	if err := b.mailer.SendLoginCode(ctx, email, sessionID, code); err != nil {
		return broker.BridgeStart{}, fmt.Errorf("send login code: %w", err)
	}

	b.log.Info("email bridge dispatched", "session_id", sessionID)
	return broker.BridgeStart{
		Data: session.BridgeData{
			Kind: session.BridgeEmail,
			Email: &session.EmailBridgeData{
				CodeHash:  string(hash),
				ExpiresAt: time.Now().Add(codeTTL),
				Attempts:  0,
			},
		},
	}, nil
}

// Verify checks the submitted code against the stored hash, enforcing
// attempts <= maxAttempts. A wrong code with attempts remaining is
// reported Retryable so the broker puts the (mutated) record back.
func (b *Bridge) Verify(_ context.Context, rec *session.SessionRecord, input broker.CallbackInput) (broker.VerifyResult, error) {
	data := rec.Bridge.Email
	if data == nil {
		return broker.VerifyResult{}, fmt.Errorf("session %s has no email bridge data", rec.SessionID)
	}

	if time.Now().After(data.ExpiresAt) {
		return broker.VerifyResult{Verified: false, Retryable: false}, nil
	}

	data.Attempts++

	if err := bcrypt.CompareHashAndPassword([]byte(data.CodeHash), []byte(input.EmailCode)); err != nil {
		retryable := data.Attempts < maxAttempts
		b.log.Info("email code mismatch", "session_id", rec.SessionID, "attempts", data.Attempts, "retryable", retryable)
		return broker.VerifyResult{Verified: false, Retryable: retryable}, nil
	}

	return broker.VerifyResult{Verified: true}, nil
}

// generateCode draws codeLength characters from codeAlphabet using
// crypto/rand, rejecting biased draws via the standard rejection-sampling
// trick (codeAlphabet's length, 32, divides 256 evenly, so in practice
// every draw is accepted; the check stays correct if the alphabet changes).
func generateCode() (string, error) {
	out := make([]byte, codeLength)
	buf := make([]byte, 1)
	bound := 256 - (256 % len(codeAlphabet))
	for i := 0; i < codeLength; {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if int(buf[0]) >= bound {
			continue
		}
		out[i] = codeAlphabet[int(buf[0])%len(codeAlphabet)]
		i++
	}
	return string(out), nil
}
