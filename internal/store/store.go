// Package store defines the key-value persistence contract backing session
// durability, with Redis and in-memory implementations.
package store

import "context"

// Store is the key-value persistence contract. Values are opaque bytes; a
// secondary set index tracks membership (used for the active-session listing).
// No transactional guarantees are assumed.
type Store interface {
	// Get returns the value at key, reporting whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the value at key unconditionally.
	Set(ctx context.Context, key string, value []byte) error
	// SetAdd adds member to the set at setKey.
	SetAdd(ctx context.Context, setKey, member string) error
	// SetRemove removes member from the set at setKey.
	SetRemove(ctx context.Context, setKey, member string) error
	// SetMembers returns all members of the set at setKey.
	SetMembers(ctx context.Context, setKey string) ([]string, error)
}
