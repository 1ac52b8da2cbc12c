package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// ReturnParams captures the fields of the Relying Party's authentication
// request that must be remembered for the lifetime of the session and
// echoed back on completion. Immutable within a session.
type ReturnParams struct {
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	ResponseMode string `json:"response_mode"`
	ResponseType string `json:"response_type"`
	Scope        string `json:"scope"`
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
}

// BridgeKind discriminates which bridge protocol a session is running.
type BridgeKind string

const (
	BridgeEmail BridgeKind = "email"
	BridgeOidc  BridgeKind = "oidc"
)

// EmailBridgeData is the in-flight state of an email proof-of-possession bridge.
type EmailBridgeData struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// OidcBridgeData is the in-flight state of an upstream OIDC delegation bridge.
type OidcBridgeData struct {
	UpstreamState string `json:"upstream_state"`
	UpstreamNonce string `json:"upstream_nonce"`
	ProviderID    string `json:"provider_id"`
}

// BridgeData is a tagged union over the two bridge protocols' in-flight
// state. Exactly one of Email/Oidc is populated, matching Kind.
type BridgeData struct {
	Kind  BridgeKind       `json:"type"`
	Email *EmailBridgeData `json:"email,omitempty"`
	Oidc  *OidcBridgeData  `json:"oidc,omitempty"`
}

// SessionRecord is the persisted state of one in-flight login: the RP
// request that started it, the email address being authenticated, and
// whichever bridge's in-flight protocol state. Keyed by SessionID; at most
// one record exists per id at a time.
type SessionRecord struct {
	SessionID    string       `json:"session_id"`
	ReturnParams ReturnParams `json:"return_params"`
	Email        string       `json:"email"`
	EmailAddr    string       `json:"email_addr"`
	Bridge       BridgeData   `json:"bridge_data"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DefaultTTL is the lifetime of a session record before it is considered expired.
const DefaultTTL = 15 * time.Minute

// NewSessionID derives an opaque, URL-safe session identifier from the
// email address, the RP's client_id, and 16 bytes of randomness, matching
// the broker's use of the id as both a storage key and an OAuth state value.
func NewSessionID(email, clientID string) (string, error) {
	randBytes := make([]byte, 16)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("generate session id entropy: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(email))
	h.Write([]byte(clientID))
	h.Write(randBytes)

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}
