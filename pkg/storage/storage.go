// Package storage persists transcript archives to blob storage.
//
// An archive is a self-contained JSON document holding every turn of one
// conversation at export time. The [BlobStore] interface abstracts where
// archives land so that the CLI can target local disk or any S3-compatible
// object store with the same code path. The conversation engine itself never
// depends on this package; archiving is an explicit user action.
package storage

import (
	"context"
	"io"
)

// BlobStore is a minimal interface for blob-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Read opens the named blob for reading.
	// The caller must close the returned ReadCloser when done.
	// If the blob does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named blob for writing.
	// If the blob already exists it is truncated.
	// The caller must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named blob.
	// If the blob does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named blob exists.
	Exists(ctx context.Context, path string) (bool, error)
}
