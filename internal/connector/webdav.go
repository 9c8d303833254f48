package connector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/studio-b12/gowebdav"
)

type WebdavBackendConfig struct {
	BaseURL  string
	BasePath string
	Username string
	Password string
}

// WebdavBackend maps buckets to top-level collections under BasePath.
// WebDAV has no user metadata, so Object.Metadata is not persisted.
type WebdavBackend struct {
	baseURL  string
	basePath string

	webdavClient *gowebdav.Client
}

func NewWebdavBackend(cfg WebdavBackendConfig) *WebdavBackend {
	return &WebdavBackend{
		baseURL:  cfg.BaseURL,
		basePath: cfg.BasePath,
		webdavClient: gowebdav.NewClient(
			cfg.BaseURL,
			cfg.Username,
			cfg.Password,
		),
	}
}

func (wb *WebdavBackend) PutObject(ctx context.Context, obj Object, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	err := wb.webdavClient.Write(wb.objectPath(obj.Bucket, obj.Key), data, 0o644)
	if err != nil {
		return "", webdavError(err)
	}

	return "", nil
}

func (wb *WebdavBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := wb.webdavClient.ReadStream(wb.objectPath(bucket, key))
	if err != nil {
		return nil, webdavError(err)
	}

	return rc, nil
}

func (wb *WebdavBackend) Traverse(ctx context.Context, bucket, prefix string, objCh chan<- Object) error {
	root := wb.objectPath(bucket, "")
	queue := make([]string, 0)
	queue = append(queue, wb.objectPath(bucket, prefix))

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := queue[0]
		queue = queue[1:]

		objects, err := wb.webdavClient.ReadDir(path)
		if err != nil {
			if gowebdav.IsErrNotFound(err) {
				continue
			}
			return webdavError(err)
		}

		for _, obj := range objects {
			objPath := gowebdav.Join(path, obj.Name())
			if obj.IsDir() {
				queue = append(queue, objPath)
				continue
			}

			modTime := obj.ModTime()
			select {
			case objCh <- Object{
				Bucket:            bucket,
				Key:               strings.TrimPrefix(strings.TrimPrefix(objPath, root), "/"),
				SizeBytes:         uint64(obj.Size()),
				ModifiedTimestamp: &modTime,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

func (wb *WebdavBackend) objectPath(bucket, key string) string {
	return gowebdav.Join(gowebdav.Join(wb.basePath, bucket), key)
}

func webdavError(err error) error {
	var statusErr gowebdav.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	code := codeForStatus(statusErr.Status)
	if statusErr.Status == http.StatusConflict {
		code = ErrCodeBadRequest
	}

	msg := err.Error()
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		msg = pathErr.Path + ": " + statusErr.Error()
	}

	return &Error{
		Code:       code,
		Message:    msg,
		StatusCode: statusErr.Status,
		Err:        err,
	}
}
