package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"

	"authbroker/pkg/domain"
	"authbroker/pkg/session"
	"authbroker/pkg/token"
)

// stubBridge is a narrow Bridge stub, following the teacher's pattern of
// hand-written interface stubs rather than a mocking framework.
type stubBridge struct {
	kind      session.BridgeKind
	result    BridgeStart
	err       error
	lastEmail string

	verifyResult VerifyResult
	verifyErr    error
}

func (s *stubBridge) Kind() session.BridgeKind { return s.kind }

func (s *stubBridge) Start(_ context.Context, sessionID, email string, params session.ReturnParams) (BridgeStart, error) {
	s.lastEmail = email
	if s.err != nil {
		return BridgeStart{}, s.err
	}
	return s.result, nil
}

func (s *stubBridge) Verify(_ context.Context, rec *session.SessionRecord, input CallbackInput) (VerifyResult, error) {
	if s.verifyErr != nil {
		return VerifyResult{}, s.verifyErr
	}
	return s.verifyResult, nil
}

type stubResolver struct {
	providers map[string]string
}

func (r *stubResolver) ResolveProvider(domain string) (string, bool) {
	id, ok := r.providers[domain]
	return id, ok
}

func newTestBroker(t *testing.T) (*Broker, *stubBridge, *stubBridge, session.Store) {
	t.Helper()
	v := domain.New()
	if err := v.AddValidTld("com"); err != nil {
		t.Fatal(err)
	}
	if err := v.AddValidSuffix("com"); err != nil {
		t.Fatal(err)
	}

	key := generateTestKey(t)
	ring, err := token.NewKeyRing([]token.NamedKey{key})
	if err != nil {
		t.Fatal(err)
	}
	codec := token.NewJwtCodec(ring, "https://broker.example", 0)

	store := session.NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	email := &stubBridge{
		kind:         session.BridgeEmail,
		result:       BridgeStart{Data: session.BridgeData{Kind: session.BridgeEmail, Email: &session.EmailBridgeData{}}},
		verifyResult: VerifyResult{Verified: true},
	}
	oidc := &stubBridge{
		kind: session.BridgeOidc,
		result: BridgeStart{
			Data:        session.BridgeData{Kind: session.BridgeOidc, Oidc: &session.OidcBridgeData{ProviderID: "upstream"}},
			RedirectURL: "https://upstream.example/auth",
		},
		verifyResult: VerifyResult{Verified: true},
	}
	resolver := &stubResolver{providers: map[string]string{"upstream.example.com": "upstream"}}

	b := New(v, codec, store, email, oidc, resolver, "https://broker.example", logr.Discard(), nil)
	return b, email, oidc, store
}

func validStartRequest() StartRequest {
	return StartRequest{
		LoginHint:    "user@example.com",
		ClientID:     "https://rp.example",
		RedirectURI:  "https://rp.example/callback",
		ResponseMode: "query",
		ResponseType: "id_token",
		Scope:        "openid email",
		State:        "state-1",
		Nonce:        "nonce-1",
	}
}

func TestBrokerStartSelectsEmailBridgeByDefault(t *testing.T) {
	b, email, oidc, _ := newTestBroker(t)
	result, err := b.Start(context.Background(), validStartRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Bridge != session.BridgeEmail {
		t.Errorf("expected email bridge, got %s", result.Bridge)
	}
	if email.lastEmail != "user@example.com" {
		t.Errorf("unexpected email passed to bridge: %q", email.lastEmail)
	}
	if oidc.lastEmail != "" {
		t.Errorf("oidc bridge should not have been dispatched")
	}
}

func TestBrokerStartSelectsOidcBridgeWhenProviderConfigured(t *testing.T) {
	b, _, oidc, _ := newTestBroker(t)
	req := validStartRequest()
	req.LoginHint = "user@upstream.example.com"
	result, err := b.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Bridge != session.BridgeOidc {
		t.Errorf("expected oidc bridge, got %s", result.Bridge)
	}
	if result.RedirectURL == "" {
		t.Error("expected a redirect URL from the oidc bridge")
	}
	if oidc.lastEmail != "user@upstream.example.com" {
		t.Errorf("unexpected email passed to oidc bridge: %q", oidc.lastEmail)
	}
}

func TestBrokerStartRejectsWrongResponseType(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	req := validStartRequest()
	req.ResponseType = "code"
	_, err := b.Start(context.Background(), req)
	assertKind(t, err, KindInput)
}

func TestBrokerStartRejectsMissingScope(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	req := validStartRequest()
	req.Scope = "openid"
	_, err := b.Start(context.Background(), req)
	assertKind(t, err, KindInput)
}

func TestBrokerStartRejectsOriginMismatch(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	req := validStartRequest()
	req.ClientID = "https://evil.example"
	_, err := b.Start(context.Background(), req)
	assertKind(t, err, KindInput)
}

func TestBrokerStartRejectsInvalidEmail(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	req := validStartRequest()
	req.LoginHint = "not-an-email"
	_, err := b.Start(context.Background(), req)
	assertKind(t, err, KindInput)
}

func TestBrokerStartRejectsInvalidDomain(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	req := validStartRequest()
	req.LoginHint = "user@nonexistent.invalidtld"
	_, err := b.Start(context.Background(), req)
	assertKind(t, err, KindDomain)
}

func TestBrokerCompleteEndToEnd(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	started, err := b.Start(context.Background(), validStartRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := b.Callback(context.Background(), started.SessionID, CallbackInput{})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if result.RedirectURL == "" {
		t.Error("expected a non-empty redirect URL")
	}
}

func TestBrokerCompleteTwiceFailsSecondTime(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	started, err := b.Start(context.Background(), validStartRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := b.Callback(context.Background(), started.SessionID, CallbackInput{}); err != nil {
		t.Fatalf("first Callback: %v", err)
	}
	_, err = b.Callback(context.Background(), started.SessionID, CallbackInput{})
	assertKind(t, err, KindUnknownSession)
}

func TestBrokerCompleteUnknownSession(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	_, err := b.Callback(context.Background(), "never-existed", CallbackInput{})
	assertKind(t, err, KindUnknownSession)
}

func TestBrokerCallbackRetryableFailurePutsSessionBack(t *testing.T) {
	b, email, _, store := newTestBroker(t)
	started, err := b.Start(context.Background(), validStartRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	email.verifyResult = VerifyResult{Verified: false, Retryable: true}
	_, err = b.Callback(context.Background(), started.SessionID, CallbackInput{EmailCode: "wrong"})
	assertKind(t, err, KindCrypto)

	email.verifyResult = VerifyResult{Verified: true}
	result, err := b.Callback(context.Background(), started.SessionID, CallbackInput{EmailCode: "right"})
	if err != nil {
		t.Fatalf("retry Callback: %v", err)
	}
	if result.RedirectURL == "" {
		t.Error("expected a non-empty redirect URL on the retried attempt")
	}

	if _, err := store.Take(context.Background(), started.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session consumed after successful retry, got %v", err)
	}
}

func TestBrokerCallbackNonRetryableFailureTerminatesSession(t *testing.T) {
	b, email, _, _ := newTestBroker(t)
	started, err := b.Start(context.Background(), validStartRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	email.verifyResult = VerifyResult{Verified: false, Retryable: false}
	_, err = b.Callback(context.Background(), started.SessionID, CallbackInput{EmailCode: "wrong"})
	assertKind(t, err, KindCrypto)

	_, err = b.Callback(context.Background(), started.SessionID, CallbackInput{EmailCode: "right"})
	assertKind(t, err, KindUnknownSession)
}

func TestBrokerCancelRemovesSession(t *testing.T) {
	b, _, _, _ := newTestBroker(t)
	started, err := b.Start(context.Background(), validStartRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Cancel(context.Background(), started.SessionID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err = b.Callback(context.Background(), started.SessionID, CallbackInput{})
	assertKind(t, err, KindUnknownSession)
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %s, got nil", want)
	}
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("expected *broker.Error, got %T: %v", err, err)
	}
	if berr.Kind != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, berr.Kind, err)
	}
}
