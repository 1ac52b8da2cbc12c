package email

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"authbroker/pkg/broker"
	"authbroker/pkg/session"
)

// stubMailer is a narrow Mailer stub that captures the last code sent,
// following the teacher's hand-written-stub testing style.
type stubMailer struct {
	lastTo, lastSession, lastCode string
	err                           error
}

func (m *stubMailer) SendLoginCode(_ context.Context, to, sessionID, code string) error {
	m.lastTo, m.lastSession, m.lastCode = to, sessionID, code
	return m.err
}

func TestBridgeStartSendsCodeAndStoresHash(t *testing.T) {
	mailer := &stubMailer{}
	b := New(mailer, logr.Discard())

	started, err := b.Start(context.Background(), "sess-1", "user@example.com", session.ReturnParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mailer.lastTo != "user@example.com" || mailer.lastSession != "sess-1" {
		t.Fatalf("mailer did not receive expected recipient/session: %+v", mailer)
	}
	if len(mailer.lastCode) != codeLength {
		t.Fatalf("expected a %d-char code, got %q", codeLength, mailer.lastCode)
	}
	if started.Data.Kind != session.BridgeEmail || started.Data.Email == nil {
		t.Fatalf("expected populated email bridge data, got %+v", started.Data)
	}
	if started.Data.Email.CodeHash == mailer.lastCode {
		t.Fatal("stored hash must not equal the plaintext code")
	}
}

func TestBridgeVerifyAcceptsCorrectCode(t *testing.T) {
	mailer := &stubMailer{}
	b := New(mailer, logr.Discard())
	started, err := b.Start(context.Background(), "sess-1", "user@example.com", session.ReturnParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := &session.SessionRecord{SessionID: "sess-1", Bridge: started.Data}
	result, err := b.Verify(context.Background(), rec, broker.CallbackInput{EmailCode: mailer.lastCode})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Verified {
		t.Fatal("expected correct code to verify")
	}
}

func TestBridgeVerifyRejectsWrongCodeButAllowsRetry(t *testing.T) {
	mailer := &stubMailer{}
	b := New(mailer, logr.Discard())
	started, err := b.Start(context.Background(), "sess-1", "user@example.com", session.ReturnParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := &session.SessionRecord{SessionID: "sess-1", Bridge: started.Data}
	result, err := b.Verify(context.Background(), rec, broker.CallbackInput{EmailCode: "wrong-code"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Verified {
		t.Fatal("expected wrong code to not verify")
	}
	if !result.Retryable {
		t.Fatal("expected first wrong attempt to be retryable")
	}
	if rec.Bridge.Email.Attempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", rec.Bridge.Email.Attempts)
	}
}

func TestBridgeVerifyExhaustsAttempts(t *testing.T) {
	mailer := &stubMailer{}
	b := New(mailer, logr.Discard())
	started, err := b.Start(context.Background(), "sess-1", "user@example.com", session.ReturnParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := &session.SessionRecord{SessionID: "sess-1", Bridge: started.Data}

	var last broker.VerifyResult
	for i := 0; i < maxAttempts; i++ {
		last, err = b.Verify(context.Background(), rec, broker.CallbackInput{EmailCode: "wrong-code"})
		if err != nil {
			t.Fatalf("Verify attempt %d: %v", i, err)
		}
	}
	if last.Verified {
		t.Fatal("expected verification to keep failing for a wrong code")
	}
	if last.Retryable {
		t.Fatalf("expected attempt %d to exhaust retries", maxAttempts)
	}
}

func TestBridgeVerifyRejectsExpiredCode(t *testing.T) {
	mailer := &stubMailer{}
	b := New(mailer, logr.Discard())
	started, err := b.Start(context.Background(), "sess-1", "user@example.com", session.ReturnParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	started.Data.Email.ExpiresAt = time.Now().Add(-time.Minute)
	rec := &session.SessionRecord{SessionID: "sess-1", Bridge: started.Data}

	result, err := b.Verify(context.Background(), rec, broker.CallbackInput{EmailCode: mailer.lastCode})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Verified || result.Retryable {
		t.Fatalf("expected an expired code to terminate the session, got %+v", result)
	}
}
