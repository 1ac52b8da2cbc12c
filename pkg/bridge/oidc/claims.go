package oidc

import "encoding/json"

// idTokenClaims is the subset of an upstream ID token's payload this
// bridge inspects. aud is accepted as either a bare string or an array,
// since both are valid under OIDC Core.
type idTokenClaims struct {
	Iss           string   `json:"iss"`
	Aud           audClaim `json:"aud"`
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Nonce         string   `json:"nonce"`
	Exp           int64    `json:"exp"`
	Iat           int64    `json:"iat"`
}

// audClaim normalizes the aud claim's two legal JSON shapes into a slice.
type audClaim []string

func (a *audClaim) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*a = audClaim{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*a = many
	return nil
}

func (a audClaim) contains(v string) bool {
	for _, x := range a {
		if x == v {
			return true
		}
	}
	return false
}
