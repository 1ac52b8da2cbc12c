// Package oidc implements the upstream-delegation bridge: it discovers a
// configured upstream provider, drives the authorization-code flow, and
// verifies the returned ID token against the upstream's own JWKS before
// handing the session back to the broker.
package oidc
