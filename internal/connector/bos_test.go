package connector

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/baidubce/bce-sdk-go/bce"
	"github.com/baidubce/bce-sdk-go/services/bos/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBOS struct {
	putBucket string
	putKey    string
	putData   []byte
	putArgs   *api.PutObjectArgs
	putErr    error

	pages []*api.ListObjectsResult
	seen  []string
}

func (f *fakeBOS) PutObjectFromBytes(bucket, object string, data []byte, args *api.PutObjectArgs) (string, error) {
	f.putBucket, f.putKey, f.putData, f.putArgs = bucket, object, data, args
	if f.putErr != nil {
		return "", f.putErr
	}
	return `"etag-1"`, nil
}

func (f *fakeBOS) BasicGetObject(bucket, object string) (*api.GetObjectResult, error) {
	if object != f.putKey {
		return nil, &bce.BceServiceError{Code: "NoSuchKey", Message: "not found", StatusCode: 404}
	}
	res := &api.GetObjectResult{}
	res.Body = io.NopCloser(strings.NewReader(string(f.putData)))
	return res, nil
}

func (f *fakeBOS) ListObjects(bucket string, args *api.ListObjectsArgs) (*api.ListObjectsResult, error) {
	f.seen = append(f.seen, args.Marker)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func TestBOSBackendPutObject(t *testing.T) {
	fake := &fakeBOS{}
	backend := &BOSBackend{client: fake}

	etag, err := backend.PutObject(context.Background(), Object{
		Bucket:      "bucket",
		Key:         "products/a.jpg",
		ContentType: "image/jpeg",
		Metadata: map[string]string{
			"x-bce-meta-test-id": "test-123",
			"Description":        "plain",
		},
	}, []byte("jpeg"))

	require.NoError(t, err)
	assert.Equal(t, "etag-1", etag)
	assert.Equal(t, "bucket", fake.putBucket)
	assert.Equal(t, "products/a.jpg", fake.putKey)
	assert.Equal(t, "image/jpeg", fake.putArgs.ContentType)
	assert.Equal(t, map[string]string{"test-id": "test-123", "description": "plain"}, fake.putArgs.UserMeta)
}

func TestBOSBackendMapsServiceErrors(t *testing.T) {
	fake := &fakeBOS{putErr: &bce.BceServiceError{
		Code:       "InvalidAccessKeyId",
		Message:    "The access key id does not exist",
		StatusCode: 403,
	}}
	store := NewObjectStore(&BOSBackend{client: fake}, ObjectStoreConfig{Bucket: "b", PublicDomain: "d"}, zap.NewNop())

	_, err := store.Upload(context.Background(), "", "k", PayloadFromString("x", ""), UploadOptions{})

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "put", storeErr.Op)
	assert.Equal(t, "InvalidAccessKeyId", storeErr.Code)
	assert.Equal(t, 403, storeErr.StatusCode)
	assert.Equal(t, "The access key id does not exist", storeErr.Message)
}

func TestBOSBackendMapsTransportErrors(t *testing.T) {
	err := bosError(errors.New("dial tcp: connection refused"))

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, ErrCodeTransport, storeErr.Code)
}

func TestBOSBackendGetMissing(t *testing.T) {
	backend := &BOSBackend{client: &fakeBOS{putKey: "exists"}}

	_, err := backend.GetObject(context.Background(), "bucket", "missing")

	assert.True(t, IsNotFound(err))
}

func TestBOSBackendTraversePaginates(t *testing.T) {
	fake := &fakeBOS{pages: []*api.ListObjectsResult{
		{
			IsTruncated: true,
			NextMarker:  "p/b.jpg",
			Contents: []api.ObjectSummaryType{
				{Key: "p/", Size: 0},
				{Key: "p/a.jpg", Size: 10, LastModified: "2024-05-01T10:00:00Z"},
				{Key: "p/b.jpg", Size: 20},
			},
		},
		{
			Contents: []api.ObjectSummaryType{{Key: "p/c.jpg", Size: 30}},
		},
	}}
	backend := &BOSBackend{client: fake}

	objCh := make(chan Object, 8)
	require.NoError(t, backend.Traverse(context.Background(), "bucket", "p/", objCh))
	close(objCh)

	var keys []string
	for obj := range objCh {
		keys = append(keys, obj.Key)
		if obj.Key == "p/a.jpg" {
			require.NotNil(t, obj.ModifiedTimestamp)
			assert.Equal(t, 2024, obj.ModifiedTimestamp.Year())
		}
	}
	assert.Equal(t, []string{"p/a.jpg", "p/b.jpg", "p/c.jpg"}, keys)
	assert.Equal(t, []string{"", "p/b.jpg"}, fake.seen)
}

func TestNewBOSBackendRequiresKeys(t *testing.T) {
	_, err := NewBOSBackend(BOSBackendConfig{AccessKey: "ak"})

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, ErrCodeAuth, storeErr.Code)
}
