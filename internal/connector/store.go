package connector

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type ObjectStoreConfig struct {
	Bucket       string
	PublicDomain string
}

// ObjectStore uploads payloads through a Backend and derives public URLs
// from the configured domain. It performs no existence check: uploading to
// an existing key overwrites it.
type ObjectStore struct {
	backend      Backend
	bucket       string
	publicDomain string

	lg *zap.Logger
}

func NewObjectStore(backend Backend, cfg ObjectStoreConfig, lg *zap.Logger) *ObjectStore {
	return &ObjectStore{
		backend:      backend,
		bucket:       cfg.Bucket,
		publicDomain: strings.TrimSuffix(cfg.PublicDomain, "/"),
		lg:           lg,
	}
}

func (s *ObjectStore) Bucket() string {
	return s.bucket
}

func (s *ObjectStore) Upload(
	ctx context.Context,
	bucket string,
	key string,
	payload Payload,
	opts UploadOptions,
) (UploadResult, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return UploadResult{}, &Error{Op: "put", Code: ErrCodeBadRequest, Message: "empty object key"}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = payload.ContentType()
	}

	obj := Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		Metadata:    opts.Metadata,
		SizeBytes:   uint64(payload.Len()),
	}

	lg := s.lg.With(zap.String("bucket", bucket), zap.String("key", key))
	etag, err := s.backend.PutObject(ctx, obj, payload.Bytes())
	if err != nil {
		lg.Error("upload failed", zap.Error(err))
		return UploadResult{}, asStoreError("put", err)
	}
	lg.Info("object uploaded", zap.Int("size", payload.Len()), zap.String("content_type", contentType))

	return UploadResult{
		URL:  s.PublicURL(key),
		Key:  key,
		ETag: etag,
	}, nil
}

func (s *ObjectStore) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	rc, err := s.backend.GetObject(ctx, bucket, strings.TrimPrefix(key, "/"))
	if err != nil {
		return nil, asStoreError("get", err)
	}
	return rc, nil
}

// Traverse streams every object under prefix into objCh. It does not close
// objCh.
func (s *ObjectStore) Traverse(ctx context.Context, bucket, prefix string, objCh chan<- Object) error {
	if bucket == "" {
		bucket = s.bucket
	}
	if err := s.backend.Traverse(ctx, bucket, prefix, objCh); err != nil {
		return asStoreError("list", err)
	}
	return nil
}

// PublicURL is https://{publicDomain}/{key} with every path segment escaped.
func (s *ObjectStore) PublicURL(key string) string {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "https://" + s.publicDomain + "/" + strings.Join(segments, "/")
}

func asStoreError(op string, err error) error {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return storeErr
	}
	return &Error{Op: op, Code: ErrCodeTransport, Message: err.Error(), Err: err}
}
