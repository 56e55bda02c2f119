// Package storage provides the blob storage abstraction used to persist
// session snapshots.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// BlobStore is a flat key/object store. Put replaces the whole object;
// there are no partial updates and no versioning.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}
