package token

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Claims are the RP-directed claims carried in a broker-issued ID token.
type Claims struct {
	Iss           string `json:"iss"`
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Iat           int64  `json:"iat"`
	Exp           int64  `json:"exp"`
	Nonce         string `json:"nonce,omitempty"`
}

// DefaultLifetime is the default validity period of a broker-issued token.
const DefaultLifetime = 10 * time.Minute

// JwtCodec builds and verifies compact-serialization RS256 JWS tokens.
type JwtCodec struct {
	ring     *KeyRing
	issuer   string
	lifetime time.Duration
}

// NewJwtCodec builds a JwtCodec that signs under ring's current key, setting
// iss to issuer and exp to iat+lifetime. A zero lifetime means DefaultLifetime.
func NewJwtCodec(ring *KeyRing, issuer string, lifetime time.Duration) *JwtCodec {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &JwtCodec{ring: ring, issuer: issuer, lifetime: lifetime}
}

// CreateJWT mints a broker-signed ID token for email, directed at aud (the
// relying party's origin), echoing back nonce.
func (c *JwtCodec) CreateJWT(email, aud, nonce string) (string, error) {
	key := c.ring.Current()
	now := time.Now()
	claims := Claims{
		Iss:           c.issuer,
		Aud:           aud,
		Sub:           email,
		Email:         email,
		EmailVerified: true,
		Iat:           now.Unix(),
		Exp:           now.Add(c.lifetime).Unix(),
		Nonce:         nonce,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	opts := (&jose.SignerOptions{}).WithHeader("kid", key.ID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key.Key}, opts)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	obj, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}

	compact, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize JWS: %w", err)
	}
	return compact, nil
}

type jwsHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// VerifyJWS verifies an upstream-issued compact JWS against jwks and returns
// its decoded payload. The key lookup requires exactly one entry matching
// the header's kid with use=="sig"; a missing use is not treated as "sig".
func VerifyJWS(jws string, jwks Jwks) ([]byte, error) {
	parts := strings.Split(jws, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	var header jwsHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if header.Alg != "RS256" {
		return nil, ErrUnsupportedAlg
	}

	pub, err := findSigningKey(jwks, header.Kid)
	if err != nil {
		return nil, err
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}

	signingInput := parts[0] + "." + parts[1]
	sum := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig); err != nil {
		return nil, ErrBadSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return payload, nil
}

// findSigningKey returns the unique key in jwks matching kid with use=="sig".
func findSigningKey(jwks Jwks, kid string) (*rsa.PublicKey, error) {
	var found *rsa.PublicKey
	matches := 0
	for _, k := range jwks.Keys {
		if k.KeyID != kid || k.Use != "sig" {
			continue
		}
		matches++
		if pub, ok := k.Key.(*rsa.PublicKey); ok {
			found = pub
		}
	}
	if matches != 1 || found == nil {
		return nil, ErrUnknownKey
	}
	return found, nil
}
