// Package storage describes the object store the raw dataset files can be
// pulled from and pushed to.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored table file. Table and Extension are set
// for keys that parse as "<Table>.<ext>".
type ObjectInfo struct {
	Key          string
	Table        string
	Extension    string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	// ContentType defaults to the type implied by the key's extension.
	ContentType string
}

// ObjectStore holds one dataset as flat table files. Keys are relative to
// the store's prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the table files directly under the prefix.
	List(ctx context.Context) ([]ObjectInfo, error)
}
