// Package storage defines the key-value persistence boundary used for
// conversation snapshots, with in-memory and NATS JetStream backends.
package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("storage: key not found")

// KV is a minimal key-value store. Values are opaque byte slices;
// encoding is the caller's concern (see Codec).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
