// Package main is the entrypoint for the identity broker service. It wires
// the domain validator, key ring, session store, and bridges into a Broker
// and exposes the broker's HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"authbroker/pkg/bridge/email"
	"authbroker/pkg/bridge/oidc"
	"authbroker/pkg/broker"
	"authbroker/pkg/domain"
	"authbroker/pkg/session"
	"authbroker/pkg/token"
)

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := zapr.NewLogger(zapLog)

	cfg, err := loadConfig()
	if err != nil {
		log.Error(err, "Failed to load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring, err := buildKeyRing(cfg)
	if err != nil {
		log.Error(err, "Failed to load signing keys")
		os.Exit(1)
	}
	codec := token.NewJwtCodec(ring, cfg.PublicURL, cfg.TokenLifetime)

	validator, err := buildDomainValidator(cfg)
	if err != nil {
		log.Error(err, "Failed to build domain validator")
		os.Exit(1)
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		log.Error(err, "Failed to open session store")
		os.Exit(1)
	}
	defer store.Close()

	emailBridge := email.New(&email.SMTPMailer{
		Addr: cfg.SMTPAddr,
		From: cfg.SMTPFrom,
		ConfirmURL: func(sessionID, code string) string {
			return fmt.Sprintf("%s/confirm?session=%s&code=%s", cfg.PublicURL, sessionID, code)
		},
	}, log.WithName("email"))

	var oidcBridge *oidc.Bridge
	if len(cfg.OidcProviders) > 0 {
		oidcBridge, err = oidc.New(ctx, cfg.OidcProviders, log.WithName("oidc"))
		if err != nil {
			log.Error(err, "Failed to discover OIDC providers")
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := broker.NewMetrics(reg)

	var resolver broker.ProviderResolver
	var oidcDispatch broker.Bridge
	if oidcBridge != nil {
		resolver = oidcBridge
		oidcDispatch = oidcBridge
	}

	b := broker.New(validator, codec, store, emailBridge, oidcDispatch, resolver, cfg.PublicURL, log.WithName("broker"), metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", handleDiscovery(cfg))
	mux.HandleFunc("/keys.json", handleJWKS(ring))
	mux.HandleFunc("/auth", handleAuth(b, log))
	mux.HandleFunc("/confirm", handleConfirm(b, log))
	mux.HandleFunc("/callback", handleCallback(b, log))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Info("broker listening", "addr", srv.Addr, "public_url", cfg.PublicURL)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down broker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "server shutdown error")
		}
	case err := <-srvErr:
		if err != nil {
			log.Error(err, "server failed")
			os.Exit(1)
		}
	}
}

func buildKeyRing(cfg *config) (*token.KeyRing, error) {
	keys := make([]token.NamedKey, 0, len(cfg.SigningKeys))
	for _, k := range cfg.SigningKeys {
		named, err := token.LoadNamedKey(k.ID, k.Path)
		if err != nil {
			return nil, fmt.Errorf("load signing key %q: %w", k.ID, err)
		}
		keys = append(keys, named)
	}
	return token.NewKeyRing(keys)
}

func buildDomainValidator(cfg *config) (*domain.DomainValidator, error) {
	v := domain.New()
	v.AllowedDomainsOnly = cfg.Domain.AllowedOnly

	for _, d := range cfg.Domain.Allowed {
		if err := v.AddAllowedDomain(d); err != nil {
			return nil, fmt.Errorf("allowed domain %q: %w", d, err)
		}
	}
	for _, d := range cfg.Domain.Blocked {
		if err := v.AddBlockedDomain(d); err != nil {
			return nil, fmt.Errorf("blocked domain %q: %w", d, err)
		}
	}
	if err := domain.LoadTlds(v, domain.NewPublicSuffixLoader(cfg.Domain.Tlds)); err != nil {
		return nil, fmt.Errorf("load tlds: %w", err)
	}
	if err := domain.LoadSuffixes(v, domain.NewPublicSuffixLoader(cfg.Domain.Suffixes)); err != nil {
		return nil, fmt.Errorf("load suffixes: %w", err)
	}
	return v, nil
}

func buildSessionStore(cfg *config) (session.Store, error) {
	switch cfg.SessionStoreDriver {
	case "bbolt":
		return session.OpenBoltStore(cfg.SessionStorePath, 0)
	case "memory", "":
		return session.NewMemoryStore(0), nil
	default:
		return nil, fmt.Errorf("unknown session store driver %q", cfg.SessionStoreDriver)
	}
}

func handleDiscovery(cfg *config) http.HandlerFunc {
	doc := map[string]any{
		"issuer":                                cfg.PublicURL,
		"authorization_endpoint":                cfg.PublicURL + "/auth",
		"jwks_uri":                              cfg.PublicURL + "/keys.json",
		"response_types_supported":              []string{"id_token"},
		"subject_types_supported":                []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "email"},
		"claims_supported":                      []string{"sub", "email", "email_verified"},
	}
	body, err := json.Marshal(doc)
	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

func handleJWKS(ring *token.KeyRing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ring.JWKS()); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func handleAuth(b *broker.Broker, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		req := broker.StartRequest{
			LoginHint:    r.Form.Get("login_hint"),
			ClientID:     r.Form.Get("client_id"),
			RedirectURI:  r.Form.Get("redirect_uri"),
			ResponseMode: r.Form.Get("response_mode"),
			ResponseType: r.Form.Get("response_type"),
			Scope:        r.Form.Get("scope"),
			State:        r.Form.Get("state"),
			Nonce:        r.Form.Get("nonce"),
		}

		result, err := b.Start(r.Context(), req)
		if err != nil {
			writeBrokerError(w, log, err)
			return
		}

		if result.RedirectURL != "" {
			http.Redirect(w, r, result.RedirectURL, http.StatusFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Check your inbox for a sign-in code (session %s).\n", result.SessionID)
	}
}

func handleConfirm(b *broker.Broker, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result, err := b.Callback(r.Context(), q.Get("session"), broker.CallbackInput{EmailCode: q.Get("code")})
		if err != nil {
			writeBrokerError(w, log, err)
			return
		}
		http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
	}
}

func handleCallback(b *broker.Broker, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		state := q.Get("state")
		result, err := b.Callback(r.Context(), state, broker.CallbackInput{
			UpstreamState: state,
			UpstreamCode:  q.Get("code"),
		})
		if err != nil {
			writeBrokerError(w, log, err)
			return
		}
		http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
	}
}

func writeBrokerError(w http.ResponseWriter, log logr.Logger, err error) {
	kind := broker.KindInternal
	if berr, ok := err.(*broker.Error); ok {
		kind = berr.Kind
	}

	status := http.StatusInternalServerError
	switch kind {
	case broker.KindInput, broker.KindDomain:
		status = http.StatusBadRequest
	case broker.KindUnknownSession, broker.KindExpired:
		status = http.StatusGone
	case broker.KindUpstream:
		status = http.StatusBadGateway
	case broker.KindCrypto:
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		log.Error(err, "broker request failed")
	}
	http.Error(w, string(kind), status)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "required env var %q is not set\n", key)
		os.Exit(1)
	}
	return v
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
