package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baidubce/bce-sdk-go/bce"
	"github.com/baidubce/bce-sdk-go/services/bos"
	"github.com/baidubce/bce-sdk-go/services/bos/api"
)

const (
	bosUserMetaPrefix  = "x-bce-meta-"
	bosListPageSize    = 1000
	DefaultBOSEndpoint = "https://gz.bcebos.com"
)

type BOSBackendConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
}

type bosAPI interface {
	PutObjectFromBytes(bucket, object string, bytesArr []byte, args *api.PutObjectArgs) (string, error)
	BasicGetObject(bucket, object string) (*api.GetObjectResult, error)
	ListObjects(bucket string, args *api.ListObjectsArgs) (*api.ListObjectsResult, error)
}

// BOSBackend talks to Baidu Object Storage. Request signing is done by the
// SDK from the access/secret key pair.
type BOSBackend struct {
	client bosAPI
}

func NewBOSBackend(cfg BOSBackendConfig) (*BOSBackend, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultBOSEndpoint
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, &Error{Op: "init", Code: ErrCodeAuth, Message: "access key and secret key are required"}
	}

	client, err := bos.NewClient(cfg.AccessKey, cfg.SecretKey, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create bos client: %w", err)
	}

	return &BOSBackend{client: client}, nil
}

func (b *BOSBackend) PutObject(ctx context.Context, obj Object, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	args := &api.PutObjectArgs{
		ContentType: obj.ContentType,
		UserMeta:    bosUserMeta(obj.Metadata),
	}
	etag, err := b.client.PutObjectFromBytes(obj.Bucket, obj.Key, data, args)
	if err != nil {
		return "", bosError(err)
	}

	return strings.Trim(etag, `"`), nil
}

func (b *BOSBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := b.client.BasicGetObject(bucket, key)
	if err != nil {
		return nil, bosError(err)
	}

	return res.Body, nil
}

func (b *BOSBackend) Traverse(ctx context.Context, bucket, prefix string, objCh chan<- Object) error {
	marker := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := b.client.ListObjects(bucket, &api.ListObjectsArgs{
			Prefix:  prefix,
			Marker:  marker,
			MaxKeys: bosListPageSize,
		})
		if err != nil {
			return bosError(err)
		}

		for _, summary := range res.Contents {
			if strings.HasSuffix(summary.Key, "/") {
				continue
			}

			obj := Object{
				Bucket:    bucket,
				Key:       summary.Key,
				SizeBytes: uint64(summary.Size),
			}
			if ts, err := time.Parse(time.RFC3339, summary.LastModified); err == nil {
				obj.ModifiedTimestamp = &ts
			}

			select {
			case objCh <- obj:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !res.IsTruncated {
			return nil
		}
		marker = res.NextMarker
		if marker == "" && len(res.Contents) > 0 {
			marker = res.Contents[len(res.Contents)-1].Key
		}
	}
}

// bosUserMeta strips the x-bce-meta- prefix callers sometimes pass: the SDK
// adds it itself.
func bosUserMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}

	out := make(map[string]string, len(meta))
	for k, v := range meta {
		k = strings.ToLower(k)
		out[strings.TrimPrefix(k, bosUserMetaPrefix)] = v
	}
	return out
}

func bosError(err error) error {
	var svcErr *bce.BceServiceError
	if errors.As(err, &svcErr) {
		code := svcErr.Code
		if code == "" {
			code = codeForStatus(svcErr.StatusCode)
		}
		return &Error{
			Code:       code,
			Message:    svcErr.Message,
			StatusCode: svcErr.StatusCode,
			Err:        err,
		}
	}

	return &Error{Code: ErrCodeTransport, Message: err.Error(), Err: err}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeAuth
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	default:
		return ErrCodeTransport
	}
}
