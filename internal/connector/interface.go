package connector

import (
	"context"
	"io"
	"time"
)

type BackendType string

const (
	BackendTypeBOS    BackendType = "bos"
	BackendTypeWebdav BackendType = "webdav"
)

type Object struct {
	Bucket string
	Key    string

	ContentType string
	Metadata    map[string]string

	SizeBytes uint64

	ModifiedTimestamp *time.Time
}

type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}

type UploadResult struct {
	URL  string
	Key  string
	ETag string
}

// Backend is the raw transport to a bucket. Implementations create or
// overwrite exactly one object per PutObject call and never retry.
type Backend interface {
	PutObject(ctx context.Context, obj Object, data []byte) (etag string, err error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Traverse(ctx context.Context, bucket, prefix string, objCh chan<- Object) error
}
