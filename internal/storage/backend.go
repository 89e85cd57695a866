// Package storage defines the Driver interface for content storage and the
// Storage type that exposes it to the rest of the service.
package storage

import (
	"context"
	"io"
	"io/fs"
)

// ErrNotFound is wrapped by drivers when the requested key does not exist.
// It aliases fs.ErrNotExist so driver packages do not need to import storage.
var ErrNotFound = fs.ErrNotExist

// Driver is the interface for content storage backends.
// Implementations handle raw object I/O (local filesystem, S3, MinIO) and
// report faults as errors; Storage turns those into sentinels.
type Driver interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned. The returned
	// size is the number of bytes the reader will deliver.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject uploads exactly size bytes from body to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. A missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// CopyObject copies an object from srcKey to dstKey.
	CopyObject(ctx context.Context, srcKey, dstKey string) error

	// StatObject returns the size of the object at key.
	StatObject(ctx context.Context, key string) (int64, error)

	// Type returns the backend type identifier ("local", "s3", "minio").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Renamer is implemented by drivers that can move an object atomically.
// Drivers without it are renamed with copy-then-delete.
type Renamer interface {
	RenameObject(ctx context.Context, oldKey, newKey string) error
}
