package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// NamedKey is a broker signing key: the JWK kid it is published under, and
// its RSA private key.
type NamedKey struct {
	ID  string
	Key *rsa.PrivateKey
}

// LoadNamedKey reads an RSA private key from a PEM file and pairs it with id.
// Accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") blocks.
func LoadNamedKey(id, path string) (NamedKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return NamedKey{}, fmt.Errorf("read key file %q: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return NamedKey{}, fmt.Errorf("decode PEM block in %q: no block found", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return NamedKey{ID: id, Key: key}, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return NamedKey{}, fmt.Errorf("parse private key in %q: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return NamedKey{}, fmt.Errorf("key in %q is not an RSA private key", path)
	}
	return NamedKey{ID: id, Key: key}, nil
}

// KeyRing is an ordered, non-empty list of signing keys. The first entry is
// the current signer; every entry is published in the JWKS so recently
// rotated-out keys still verify. Constructed once at startup and read-only
// thereafter.
type KeyRing struct {
	keys []NamedKey
}

// NewKeyRing builds a KeyRing from keys, in order. The first key is the
// current signer. Returns ErrEmptyKeyRing if keys is empty.
func NewKeyRing(keys []NamedKey) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKeyRing
	}
	cp := make([]NamedKey, len(keys))
	copy(cp, keys)
	return &KeyRing{keys: cp}, nil
}

// Current returns the signer used for newly issued tokens: the first key.
func (r *KeyRing) Current() NamedKey {
	return r.keys[0]
}

// Jwks is the public view of a KeyRing: a pure function of its keys,
// containing no private key material.
type Jwks struct {
	Keys []jose.JSONWebKey `json:"keys"`
}

// JWKS returns the published key set, in the same order as the KeyRing.
func (r *KeyRing) JWKS() Jwks {
	keys := make([]jose.JSONWebKey, len(r.keys))
	for i, k := range r.keys {
		keys[i] = jose.JSONWebKey{
			Key:       &k.Key.PublicKey,
			KeyID:     k.ID,
			Algorithm: "RS256",
			Use:       "sig",
		}
	}
	return Jwks{Keys: keys}
}
