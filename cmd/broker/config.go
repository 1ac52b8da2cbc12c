package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"authbroker/pkg/bridge/oidc"
)

// config is the broker's runtime configuration, assembled from environment
// variables. Structured lists (signing keys, OIDC providers) are supplied
// as JSON, following the teacher's AI_PROVIDERS_JSON convention; flat lists
// are comma-separated.
type config struct {
	ListenAddr    string
	PublicURL     string
	TokenLifetime time.Duration

	SigningKeys []signingKeyConfig

	Domain domainConfig

	SessionStoreDriver string
	SessionStorePath   string

	SMTPAddr string
	SMTPFrom string

	OidcProviders []oidc.ProviderConfig
}

type signingKeyConfig struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type domainConfig struct {
	Allowed     []string
	Blocked     []string
	AllowedOnly bool
	Tlds        []string
	Suffixes    []string
}

func loadConfig() (*config, error) {
	cfg := &config{
		ListenAddr:         ":" + envOr("PORT", "8080"),
		PublicURL:          mustEnv("PUBLIC_URL"),
		TokenLifetime:      0, // zero means token.DefaultLifetime
		SessionStoreDriver: envOr("SESSION_STORE_DRIVER", "memory"),
		SessionStorePath:   envOr("SESSION_STORE_PATH", "broker-sessions.db"),
		SMTPAddr:           mustEnv("SMTP_ADDR"),
		SMTPFrom:           mustEnv("SMTP_FROM"),
		Domain: domainConfig{
			Allowed:  splitList(os.Getenv("DOMAIN_ALLOWED")),
			Blocked:  splitList(os.Getenv("DOMAIN_BLOCKED")),
			Tlds:     splitList(os.Getenv("DOMAIN_TLDS")),
			Suffixes: splitList(os.Getenv("DOMAIN_SUFFIXES")),
		},
	}

	if err := unmarshalEnvJSON("SIGNING_KEYS_JSON", &cfg.SigningKeys, true); err != nil {
		return nil, err
	}
	if err := unmarshalEnvJSON("OIDC_PROVIDERS_JSON", &cfg.OidcProviders, false); err != nil {
		return nil, err
	}
	if len(cfg.SigningKeys) == 0 {
		return nil, fmt.Errorf("SIGNING_KEYS_JSON must configure at least one signing key")
	}

	return cfg, nil
}

func unmarshalEnvJSON(key string, v any, required bool) error {
	raw := os.Getenv(key)
	if raw == "" {
		if required {
			return fmt.Errorf("required env var %q is not set", key)
		}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}
