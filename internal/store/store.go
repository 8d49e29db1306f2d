// Package store is the replicated state store the engine coordinates through.
// Session state lives in a single document per key, and every
// read-then-conditionally-write against it goes through AtomicUpdate so that
// concurrent callers converge instead of overwriting each other.
package store

import (
	"context"
	"time"
)

// UpdateFunc computes the next value of a document from its current value.
// cur is nil when the key is absent. now is the store's server-resolved
// instant for this commit attempt: a value derived from it is committed in
// the same atomic step as the rest of the document. Returning a nil next
// value deletes the key.
type UpdateFunc func(cur []byte, now time.Time) (next []byte, err error)

// Store is the contract the engine is designed against. The Redis
// implementation (Client) is the production one; nothing in the engine
// depends on Redis specifics.
type Store interface {
	// AtomicUpdate applies fn to the document at key as a compare-and-swap.
	// Lost races are retried internally a bounded number of times and then
	// surfaced as a Conflict (Aborted) error. Errors returned by fn abort the
	// update and propagate unchanged.
	AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)

	// Read returns the document at key, or a NotFound error.
	Read(ctx context.Context, key string) ([]byte, error)

	// Set unconditionally overwrites the document at key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the document at key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Subscribe delivers the full document on every committed change until
	// the returned stop function is called. Deliveries may be coalesced or
	// reordered; consumers must recompute from the latest snapshot only.
	Subscribe(ctx context.Context, key string, onChange func([]byte)) (stop func(), err error)

	// ServerTime is the store's monotonic clock, shared by all clients.
	ServerTime(ctx context.Context) (time.Time, error)
}
