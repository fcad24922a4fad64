package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// Metadata is the user metadata carried with an object.
type Metadata map[string]string

// Buckets names the three logical locations a job's objects live in.
type Buckets struct {
	Raw    string
	Public string
	Trash  string
}

// ObjectStore is the minimal surface the lifecycle core needs from
// object storage: get, put-with-metadata, delete, head, list.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, Metadata, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, meta Metadata) error
	Delete(ctx context.Context, bucket, key string) error
	Head(ctx context.Context, bucket, key string) (int64, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}
