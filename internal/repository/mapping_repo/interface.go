package mapping_repo

import (
	"context"
	"fmt"
	"strings"
)

// objectKeyPrefix marks entries keyed by object key rather than by a
// content signature. Signatures issued by the index never carry it.
const objectKeyPrefix = "key:"

// Store is a durable identifier → public URL table. Put is idempotent and
// last-writer-wins; entries are never deleted here.
type Store interface {
	Get(ctx context.Context, id string) (url string, found bool, err error)
	Put(ctx context.Context, id string, url string) error
	All(ctx context.Context) (map[string]string, error)
}

// ObjectKeyID is the identifier for an entry written when only the upload
// succeeded.
func ObjectKeyID(key string) string {
	return objectKeyPrefix + key
}

// IsObjectKeyID reports whether id was built by ObjectKeyID and returns the
// object key.
func IsObjectKeyID(id string) (string, bool) {
	return strings.CutPrefix(id, objectKeyPrefix)
}

type Error struct {
	Op  string
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("url mapping %s %q: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("url mapping %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validate(op, id, url string) error {
	if id == "" {
		return &Error{Op: op, Err: fmt.Errorf("empty identifier")}
	}
	if op == "put" && url == "" {
		return &Error{Op: op, ID: id, Err: fmt.Errorf("empty url")}
	}
	return nil
}
