package mapping_repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	DefaultFilePath = "data/url_mapping.json"

	lockRetryDelay = 20 * time.Millisecond
)

// FileStore keeps the whole table in one pretty-printed JSON object and
// rewrites it on every change. Writers are serialized in-process by a mutex
// and across processes by an advisory lock on a sibling .lock file; the
// document itself is replaced atomically by rename.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex

	lg *zap.Logger
}

func NewFileStore(path string, lg *zap.Logger) (*FileStore, error) {
	if path == "" {
		path = DefaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &Error{Op: "init", Err: err}
	}

	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
		lg:   lg,
	}, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (string, bool, error) {
	if err := validate("get", id, ""); err != nil {
		return "", false, err
	}

	table, err := s.readShared(ctx)
	if err != nil {
		return "", false, &Error{Op: "get", ID: id, Err: err}
	}

	url, found := table[id]
	return url, found, nil
}

func (s *FileStore) All(ctx context.Context) (map[string]string, error) {
	table, err := s.readShared(ctx)
	if err != nil {
		return nil, &Error{Op: "all", Err: err}
	}
	return table, nil
}

func (s *FileStore) Put(ctx context.Context, id string, url string) error {
	if err := validate("put", id, url); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return &Error{Op: "put", ID: id, Err: lockErr(err)}
	}
	defer s.lock.Unlock()

	table, err := s.read()
	if err != nil {
		return &Error{Op: "put", ID: id, Err: err}
	}
	if existing, ok := table[id]; ok && existing == url {
		return nil
	}
	table[id] = url

	if err := s.write(table); err != nil {
		return &Error{Op: "put", ID: id, Err: err}
	}

	s.lg.Debug("url mapping stored", zap.String("id", id), zap.String("url", url), zap.Int("entries", len(table)))
	return nil
}

// readShared takes no file lock: writers replace the document by rename, so
// a reader always sees a complete version.
func (s *FileStore) readShared(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read()
}

// read returns an empty table when the document does not exist yet.
func (s *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	table := map[string]string{}
	if len(data) == 0 {
		return table, nil
	}
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return table, nil
}

func (s *FileStore) write(table map[string]string) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

func lockErr(err error) error {
	if err == nil {
		return errors.New("file lock not acquired")
	}
	return fmt.Errorf("acquire file lock: %w", err)
}
