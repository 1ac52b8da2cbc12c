package broker

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"authbroker/pkg/domain"
	"authbroker/pkg/session"
	"authbroker/pkg/token"
)

// BridgeStart is what a bridge returns from Start: the in-flight bridge
// state to persist in the SessionRecord, and, for bridges that redirect the
// user agent onward (oidc), the URL to send them to.
type BridgeStart struct {
	Data        session.BridgeData
	RedirectURL string
}

// CallbackInput is the per-protocol data a bridge's callback endpoint
// collects from the user agent, passed through to Bridge.Verify.
type CallbackInput struct {
	EmailCode     string // email bridge: the submitted one-time code
	UpstreamState string // oidc bridge: the state query parameter
	UpstreamCode  string // oidc bridge: the authorization code query parameter
}

// VerifyResult is what Bridge.Verify reports about a callback attempt.
type VerifyResult struct {
	// Verified is true once the bridge's protocol has authenticated the user.
	Verified bool
	// Retryable is true when Verified is false but the session should be
	// put back for another attempt (e.g. a wrong email code with attempts
	// remaining), rather than terminating the session outright.
	Retryable bool
}

// Bridge is the per-protocol authentication handler a Broker dispatches to.
type Bridge interface {
	Kind() session.BridgeKind
	// Start begins the bridge's protocol for a newly allocated session.
	Start(ctx context.Context, sessionID, email string, params session.ReturnParams) (BridgeStart, error)
	// Verify checks a callback against rec, which the broker has already
	// taken out of the session store. Verify may mutate rec.Bridge (e.g.
	// incrementing an attempt counter) when it returns Retryable.
	Verify(ctx context.Context, rec *session.SessionRecord, input CallbackInput) (VerifyResult, error)
}

// ProviderResolver maps an email domain to a configured upstream OIDC
// provider id, when one exists for that domain.
type ProviderResolver interface {
	ResolveProvider(domain string) (providerID string, ok bool)
}

// StartRequest is the Relying Party's authentication request.
type StartRequest struct {
	LoginHint    string
	ClientID     string
	RedirectURI  string
	ResponseMode string
	ResponseType string
	Scope        string
	State        string
	Nonce        string
}

// StartResult is returned from a successful Broker.Start.
type StartResult struct {
	SessionID   string
	Bridge      session.BridgeKind
	RedirectURL string
}

// CompleteResult is returned from a successful Broker.Callback: the
// redirect the HTTP layer should issue back to the RP.
type CompleteResult struct {
	RedirectURL string
}

const maxSessionIDCollisionRetries = 3

// Broker orchestrates the RP request -> bridge dispatch -> token issuance
// state machine. Constructed once at startup with read-only collaborators;
// SessionStore is the only mutable shared state among its dependencies.
type Broker struct {
	Validator *domain.DomainValidator
	Codec     *token.JwtCodec
	Store     session.Store
	Email     Bridge
	Oidc      Bridge
	Providers ProviderResolver
	Issuer    string

	log     logr.Logger
	metrics *Metrics
}

// New builds a Broker. metrics may be nil to disable instrumentation.
func New(validator *domain.DomainValidator, codec *token.JwtCodec, store session.Store,
	email, oidc Bridge, providers ProviderResolver, issuer string, log logr.Logger, metrics *Metrics,
) *Broker {
	return &Broker{
		Validator: validator,
		Codec:     codec,
		Store:     store,
		Email:     email,
		Oidc:      oidc,
		Providers: providers,
		Issuer:    issuer,
		log:       log,
		metrics:   metrics,
	}
}

// Start validates req, selects a bridge, allocates a session, persists it,
// and dispatches to the bridge. On failure returns a typed *Error.
func (b *Broker) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := b.validateStart(req); err != nil {
		b.metrics.recordFailed(kindOf(err))
		return nil, err
	}

	addr, err := mail.ParseAddress(req.LoginHint)
	if err != nil {
		berr := InputError(fmt.Errorf("login_hint is not a valid email address: %w", err))
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}
	emailDomain := domainPart(addr.Address)

	if err := b.Validator.Validate(emailDomain); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			berr := DomainError(verr)
			b.metrics.recordFailed(berr.Kind)
			return nil, berr
		}
		berr := InternalError(err)
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	bridge := b.selectBridge(emailDomain)

	params := session.ReturnParams{
		ClientID:     req.ClientID,
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.ResponseMode,
		ResponseType: req.ResponseType,
		Scope:        req.Scope,
		State:        req.State,
		Nonce:        req.Nonce,
	}

	for attempt := 0; attempt < maxSessionIDCollisionRetries; attempt++ {
		sessionID, err := session.NewSessionID(addr.Address, req.ClientID)
		if err != nil {
			berr := InternalError(err)
			b.metrics.recordFailed(berr.Kind)
			return nil, berr
		}

		started, err := bridge.Start(ctx, sessionID, addr.Address, params)
		if err != nil {
			berr := UpstreamError(err)
			b.metrics.recordFailed(berr.Kind)
			return nil, berr
		}

		rec := session.SessionRecord{
			SessionID:    sessionID,
			ReturnParams: params,
			Email:        addr.Address,
			EmailAddr:    req.LoginHint,
			Bridge:       started.Data,
			CreatedAt:    time.Now(),
		}

		if err := b.Store.Put(ctx, sessionID, rec, session.DefaultTTL); err != nil {
			if errors.Is(err, session.ErrDuplicate) {
				continue // astronomically unlikely; retry with fresh randomness
			}
			berr := InternalError(err)
			b.metrics.recordFailed(berr.Kind)
			return nil, berr
		}

		b.metrics.recordStarted(string(bridge.Kind()))
		b.log.Info("authentication started", "bridge", bridge.Kind(), "client_id", req.ClientID)
		return &StartResult{SessionID: sessionID, Bridge: bridge.Kind(), RedirectURL: started.RedirectURL}, nil
	}

	berr := InternalError(fmt.Errorf("could not allocate a unique session id after %d attempts", maxSessionIDCollisionRetries))
	b.metrics.recordFailed(berr.Kind)
	return nil, berr
}

// Callback redeems sessionID, asks the matching bridge to verify input
// against the taken record, and on success mints the RP's token. A record
// that fails verification but still has attempts left is put back for
// another try (session.DefaultTTL measured from its original CreatedAt, not
// extended); otherwise the session terminates here.
func (b *Broker) Callback(ctx context.Context, sessionID string, input CallbackInput) (*CompleteResult, error) {
	rec, err := b.Store.Take(ctx, sessionID)
	if err != nil {
		var berr *Error
		switch {
		case errors.Is(err, session.ErrExpired):
			berr = ExpiredError(err)
		case errors.Is(err, session.ErrNotFound):
			berr = UnknownSessionError(err)
		default:
			berr = InternalError(err)
		}
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	bridge := b.bridgeFor(rec.Bridge.Kind)
	if bridge == nil {
		berr := InternalError(fmt.Errorf("session %s has unknown bridge kind %q", sessionID, rec.Bridge.Kind))
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	result, err := bridge.Verify(ctx, &rec, input)
	if err != nil {
		berr := UpstreamError(err)
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	if !result.Verified {
		if result.Retryable {
			if remaining := time.Until(rec.CreatedAt.Add(session.DefaultTTL)); remaining > 0 {
				if putErr := b.Store.Put(ctx, sessionID, rec, remaining); putErr != nil {
					berr := InternalError(putErr)
					b.metrics.recordFailed(berr.Kind)
					return nil, berr
				}
			}
		}
		berr := CryptoError(errors.New("bridge callback did not verify"))
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	return b.finalize(sessionID, rec)
}

func (b *Broker) finalize(sessionID string, rec session.SessionRecord) (*CompleteResult, error) {
	aud, err := originOf(rec.ReturnParams.RedirectURI)
	if err != nil {
		berr := InternalError(fmt.Errorf("session has invalid redirect_uri: %w", err))
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	jwt, err := b.Codec.CreateJWT(rec.Email, aud, rec.ReturnParams.Nonce)
	if err != nil {
		berr := CryptoError(err)
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	redirect, err := returnToRelier(rec.ReturnParams.RedirectURI, rec.ReturnParams.ResponseMode, map[string]string{
		"id_token": jwt,
		"state":    rec.ReturnParams.State,
	})
	if err != nil {
		berr := InternalError(err)
		b.metrics.recordFailed(berr.Kind)
		return nil, berr
	}

	b.metrics.recordCompleted()
	b.log.Info("authentication completed", "session_id", sessionID)
	return &CompleteResult{RedirectURL: redirect}, nil
}

func (b *Broker) bridgeFor(kind session.BridgeKind) Bridge {
	switch kind {
	case session.BridgeEmail:
		return b.Email
	case session.BridgeOidc:
		return b.Oidc
	default:
		return nil
	}
}

// Cancel removes sessionID, if present, terminating the attempt.
func (b *Broker) Cancel(ctx context.Context, sessionID string) error {
	if err := b.Store.Remove(ctx, sessionID); err != nil {
		return InternalError(err)
	}
	return nil
}

func (b *Broker) validateStart(req StartRequest) error {
	if req.ResponseType != "id_token" {
		return InputError(fmt.Errorf("response_type must be %q, got %q", "id_token", req.ResponseType))
	}
	if !hasScopes(req.Scope, "openid", "email") {
		return InputError(fmt.Errorf("scope must contain %q and %q, got %q", "openid", "email", req.Scope))
	}

	origin, err := originOf(req.RedirectURI)
	if err != nil {
		return InputError(fmt.Errorf("redirect_uri must be absolute: %w", err))
	}
	if origin != req.ClientID {
		return InputError(fmt.Errorf("redirect_uri origin %q does not match client_id %q", origin, req.ClientID))
	}
	return nil
}

func (b *Broker) selectBridge(emailDomain string) Bridge {
	if b.Providers != nil && b.Oidc != nil {
		if _, ok := b.Providers.ResolveProvider(emailDomain); ok {
			return b.Oidc
		}
	}
	return b.Email
}

func hasScopes(scope string, want ...string) bool {
	have := make(map[string]struct{})
	for _, s := range strings.Fields(scope) {
		have[s] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

func domainPart(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 {
		return ""
	}
	return email[i+1:]
}

func kindOf(err error) Kind {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind
	}
	return KindInternal
}
