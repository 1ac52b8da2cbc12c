package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"authbroker/pkg/broker"
	"authbroker/pkg/session"
	"authbroker/pkg/token"
)

// maxIatSkew bounds how old an upstream ID token's iat may be for it to
// still count as "fresh" per spec's exp/iat freshness requirement.
const maxIatSkew = 5 * time.Minute

// Bridge implements the upstream OIDC delegation protocol against a fixed
// set of configured providers, each routed to by email domain.
type Bridge struct {
	providers map[string]*upstreamProvider
	domains   map[string]string // email domain -> provider id
	log       logr.Logger
}

// New discovers every configured provider and returns a ready Bridge.
func New(ctx context.Context, configs []ProviderConfig, log logr.Logger) (*Bridge, error) {
	b := &Bridge{
		providers: make(map[string]*upstreamProvider, len(configs)),
		domains:   make(map[string]string),
		log:       log,
	}
	for _, cfg := range configs {
		up, err := discoverProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.providers[cfg.ID] = up
		for _, d := range cfg.Domains {
			b.domains[strings.ToLower(d)] = cfg.ID
		}
	}
	return b, nil
}

// Kind identifies this bridge as the oidc protocol.
func (b *Bridge) Kind() session.BridgeKind { return session.BridgeOidc }

// ResolveProvider implements broker.ProviderResolver: it reports the
// provider id configured for an email domain, if any.
func (b *Bridge) ResolveProvider(domain string) (string, bool) {
	id, ok := b.domains[strings.ToLower(domain)]
	return id, ok
}

// Start builds the upstream authorization-code URL. The broker's own
// sessionID doubles as the OAuth state, so /callback can locate the
// session directly from the state query parameter the upstream echoes
// back; a separate nonce is generated to bind the upstream ID token.
func (b *Bridge) Start(_ context.Context, sessionID, email string, params session.ReturnParams) (broker.BridgeStart, error) {
	providerID, ok := b.ResolveProvider(domainPart(email))
	if !ok {
		return broker.BridgeStart{}, fmt.Errorf("no oidc provider configured for domain of %q", email)
	}
	up := b.providers[providerID]

	state := sessionID
	nonce := uuid.NewString()
	authURL := up.oauth2Cfg.AuthCodeURL(state, gooidc.Nonce(nonce))

	b.log.Info("oidc bridge dispatched", "session_id", sessionID, "provider", providerID)
	return broker.BridgeStart{
		Data: session.BridgeData{
			Kind: session.BridgeOidc,
			Oidc: &session.OidcBridgeData{
				UpstreamState: state,
				UpstreamNonce: nonce,
				ProviderID:    providerID,
			},
		},
		RedirectURL: authURL,
	}, nil
}

// Verify exchanges the authorization code, verifies the upstream ID token
// against the provider's cached JWKS, and checks state, nonce, audience,
// issuer, freshness, and that the claimed email matches the session's.
// Every rejection here is terminal: nothing about a wrong upstream
// response improves on a second try with the same session.
func (b *Bridge) Verify(ctx context.Context, rec *session.SessionRecord, input broker.CallbackInput) (broker.VerifyResult, error) {
	data := rec.Bridge.Oidc
	if data == nil {
		return broker.VerifyResult{}, fmt.Errorf("session %s has no oidc bridge data", rec.SessionID)
	}
	up, ok := b.providers[data.ProviderID]
	if !ok {
		return broker.VerifyResult{}, fmt.Errorf("session %s references unknown provider %q", rec.SessionID, data.ProviderID)
	}

	reject := broker.VerifyResult{Verified: false, Retryable: false}

	if input.UpstreamState != data.UpstreamState {
		b.log.Info("oidc state mismatch", "session_id", rec.SessionID)
		return reject, nil
	}

	tok, err := up.oauth2Cfg.Exchange(ctx, input.UpstreamCode)
	if err != nil {
		return broker.VerifyResult{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return broker.VerifyResult{}, fmt.Errorf("token response for session %s has no id_token", rec.SessionID)
	}

	jwks, err := up.jwks.get(ctx)
	if err != nil {
		return broker.VerifyResult{}, fmt.Errorf("load upstream jwks: %w", err)
	}

	payload, err := token.VerifyJWS(rawIDToken, jwks)
	if err != nil {
		b.log.Info("upstream id_token failed verification", "session_id", rec.SessionID, "error", err.Error())
		return reject, nil
	}

	var claims idTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return broker.VerifyResult{}, fmt.Errorf("decode upstream claims: %w", err)
	}

	now := time.Now()
	switch {
	case claims.Iss != up.issuer:
		b.log.Info("oidc iss mismatch", "session_id", rec.SessionID, "got", claims.Iss, "want", up.issuer)
		return reject, nil
	case !claims.Aud.contains(up.clientID):
		b.log.Info("oidc aud mismatch", "session_id", rec.SessionID)
		return reject, nil
	case claims.Nonce != data.UpstreamNonce:
		b.log.Info("oidc nonce mismatch", "session_id", rec.SessionID)
		return reject, nil
	case now.After(time.Unix(claims.Exp, 0)):
		b.log.Info("oidc id_token expired", "session_id", rec.SessionID)
		return reject, nil
	case now.Sub(time.Unix(claims.Iat, 0)) > maxIatSkew:
		b.log.Info("oidc id_token too old", "session_id", rec.SessionID)
		return reject, nil
	case !claims.EmailVerified:
		b.log.Info("oidc email not verified", "session_id", rec.SessionID)
		return reject, nil
	case !sameEmail(claims.Email, rec.Email):
		b.log.Info("oidc email mismatch", "session_id", rec.SessionID)
		return reject, nil
	}

	return broker.VerifyResult{Verified: true}, nil
}

func domainPart(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 {
		return ""
	}
	return email[i+1:]
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
