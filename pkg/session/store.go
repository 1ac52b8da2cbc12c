package session

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by Put when session_id already has a live record.
var ErrDuplicate = errors.New("session: duplicate session id")

// ErrNotFound is returned by Take when session_id was never created,
// already redeemed, or explicitly removed.
var ErrNotFound = errors.New("session: no such session")

// ErrExpired is returned by Take when a record for session_id existed but
// its TTL had already elapsed; distinguished from ErrNotFound so callers can
// tell "never existed / already used" apart from "arrived too late".
var ErrExpired = errors.New("session: session expired")

// Store is the broker's session persistence contract. Keys are opaque;
// values are an opaque encoding of SessionRecord from the store's
// perspective. Implementations must make Take atomic: a successful Take
// guarantees no subsequent Take or Remove for the same id can observe the
// record again. TTL enforcement is the store's responsibility.
type Store interface {
	// Put stores rec under id with the given ttl. Returns ErrDuplicate if a
	// live record already exists for id.
	Put(ctx context.Context, id string, rec SessionRecord, ttl time.Duration) error

	// Take atomically reads and deletes the record for id. Returns
	// ErrExpired if the record is still held but its ttl has elapsed, and
	// ErrNotFound if there is none (absent, already taken, removed, or
	// already reclaimed after expiry).
	Take(ctx context.Context, id string) (SessionRecord, error)

	// Remove idempotently deletes the record for id, if any.
	Remove(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}
