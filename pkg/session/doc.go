// Package session models authentication-session state and its storage
// contract: a SessionRecord binds one Relying Party request to one in-flight
// bridge authentication, keyed by an opaque SessionId, with a TTL and an
// atomic take-and-delete redemption operation.
package session
