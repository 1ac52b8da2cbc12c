package token

import "errors"

// ErrMalformed means a JWS compact-serialization string did not split into
// exactly three parts, or its header did not decode.
var ErrMalformed = errors.New("token: malformed JWS")

// ErrUnsupportedAlg means the JWS header named an algorithm other than RS256.
var ErrUnsupportedAlg = errors.New("token: unsupported alg, only RS256 is accepted")

// ErrUnknownKey means the caller-supplied JWKS did not contain exactly one
// key matching the JWS header's kid with use=="sig". Exactly one match is
// required: defends against JWKS confusion where a kid collides with a
// non-signing or encryption key.
var ErrUnknownKey = errors.New("token: no unique signing key for kid")

// ErrBadSignature means the signature did not verify against the located key.
var ErrBadSignature = errors.New("token: signature verification failed")

// ErrEmptyKeyRing is returned by NewKeyRing when given no keys.
var ErrEmptyKeyRing = errors.New("token: key ring must contain at least one key")
