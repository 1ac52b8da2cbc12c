package oidc

import (
	"encoding/json"
	"testing"

	jose "github.com/go-jose/go-jose/v4"

	"authbroker/pkg/token"
)

// newTestSigner builds an RS256 compact-JWS signer for key, mirroring
// token.JwtCodec.CreateJWT's construction but exposed here so tests can
// mint upstream ID tokens with arbitrary claim sets.
func newTestSigner(key token.NamedKey) (jose.Signer, error) {
	return jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key.Key},
		(&jose.SignerOptions{}).WithHeader("kid", key.ID),
	)
}

func signJSON(t *testing.T, signer jose.Signer, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign claims: %v", err)
	}
	jws, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize jws: %v", err)
	}
	return jws
}
