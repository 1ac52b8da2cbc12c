// Package token loads the broker's RSA signing keys, publishes them as a
// JSON Web Key Set, signs RS256 compact JWS tokens for relying parties, and
// verifies RS256 compact JWS tokens returned by upstream OIDC providers.
package token
