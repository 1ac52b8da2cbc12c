package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"authbroker/pkg/token"
)

// jwksCacheTTL bounds how long an upstream's JWKS document is trusted
// before being refetched, per spec's "cacheable by TTL" requirement.
const jwksCacheTTL = 10 * time.Minute

// ProviderConfig describes one configured upstream OIDC provider and the
// email domains routed to it.
type ProviderConfig struct {
	ID           string   `json:"id"`
	IssuerURL    string   `json:"issuer_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURL  string   `json:"redirect_url"`
	Domains      []string `json:"domains"`
}

// upstreamProvider is a discovered, ready-to-use upstream provider: the
// oauth2 client for the authorization-code exchange, plus the issuer and a
// TTL cache over its JWKS for verifying returned ID tokens.
type upstreamProvider struct {
	id        string
	issuer    string
	clientID  string
	oauth2Cfg *oauth2.Config
	jwks      *jwksCache
}

func discoverProvider(ctx context.Context, cfg ProviderConfig) (*upstreamProvider, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover provider %q: %w", cfg.ID, err)
	}

	var discovery struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("read discovery document for %q: %w", cfg.ID, err)
	}

	return &upstreamProvider{
		id:       cfg.ID,
		issuer:   discovery.Issuer,
		clientID: cfg.ClientID,
		oauth2Cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{gooidc.ScopeOpenID, "email"},
		},
		jwks: &jwksCache{uri: discovery.JWKSURI, ttl: jwksCacheTTL, client: http.DefaultClient},
	}, nil
}

// jwksCache fetches and TTL-caches an upstream's JWKS document, decoded
// directly into token.Jwks so it can be handed to token.VerifyJWS.
type jwksCache struct {
	uri    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	jwks      token.Jwks
	fetchedAt time.Time
}

func (c *jwksCache) get(ctx context.Context) (token.Jwks, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.jwks.Keys) > 0 && time.Since(c.fetchedAt) < c.ttl {
		return c.jwks, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, nil)
	if err != nil {
		return token.Jwks{}, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return token.Jwks{}, fmt.Errorf("fetch jwks %q: %w", c.uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return token.Jwks{}, fmt.Errorf("fetch jwks %q: status %d", c.uri, resp.StatusCode)
	}

	var jwks token.Jwks
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return token.Jwks{}, fmt.Errorf("decode jwks %q: %w", c.uri, err)
	}

	c.jwks = jwks
	c.fetchedAt = time.Now()
	return jwks, nil
}
