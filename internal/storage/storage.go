package storage

import (
	"context"
	"errors"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrStoreClosed = errors.New("store closed")
)

// Change is one observed mutation of the key-value store. Every write emits a
// Change to all watchers, including the context that performed the write; this
// is the broadcast signal sibling contexts reconcile against.
type Change struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// KeyValueStore is the persistence layer shared by every context of one
// device. Values are opaque blobs; a key is written atomically or not at all.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Watch returns a feed of changes made through any context sharing the
	// store. The channel closes when ctx is cancelled or the store closes.
	Watch(ctx context.Context) (<-chan Change, error)

	Close() error
}
