package broker

import (
	"fmt"

	"authbroker/pkg/domain"
)

// Kind classifies a broker-level error for HTTP mapping and telemetry.
type Kind string

const (
	// KindInput is a malformed or missing parameter; user-visible, can be
	// redirected to the RP with error=invalid_request when a redirect_uri
	// is already known.
	KindInput Kind = "input"
	// KindDomain is an Input error specifically from DomainValidator, kept
	// distinct so telemetry can tell failure reasons apart.
	KindDomain Kind = "domain"
	// KindUnknownSession is terminal for that completion attempt.
	KindUnknownSession Kind = "unknown_session"
	// KindExpired is terminal: the session existed but its TTL elapsed
	// before the bridge callback arrived.
	KindExpired Kind = "expired"
	// KindUpstream is a transient IdP/SMTP failure.
	KindUpstream Kind = "upstream"
	// KindCrypto is a signature failure on an inbound token; always fatal
	// for that request, never retried.
	KindCrypto Kind = "crypto"
	// KindInternal is an invariant violation or storage outage.
	KindInternal Kind = "internal"
)

// Error is the broker's typed error, wrapping an underlying cause.
type Error struct {
	Kind       Kind
	DomainKind domain.Kind // set only when Kind == KindDomain
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// InputError wraps err as a KindInput broker error.
func InputError(err error) *Error { return newError(KindInput, err) }

// DomainError wraps a domain validation failure as a KindDomain broker error.
func DomainError(verr *domain.ValidationError) *Error {
	return &Error{Kind: KindDomain, DomainKind: verr.Kind, Err: verr}
}

// UnknownSessionError wraps err as a KindUnknownSession broker error.
func UnknownSessionError(err error) *Error { return newError(KindUnknownSession, err) }

// ExpiredError wraps err as a KindExpired broker error.
func ExpiredError(err error) *Error { return newError(KindExpired, err) }

// UpstreamError wraps err as a KindUpstream broker error.
func UpstreamError(err error) *Error { return newError(KindUpstream, err) }

// CryptoError wraps err as a KindCrypto broker error.
func CryptoError(err error) *Error { return newError(KindCrypto, err) }

// InternalError wraps err as a KindInternal broker error.
func InternalError(err error) *Error { return newError(KindInternal, err) }
