package visualsearch

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindRegistration Kind = "registration"
	KindSearch       Kind = "search"
)

// Upstream error codes the client reacts to.
const (
	CodeOK           = 0
	CodeTokenInvalid = 110
	CodeTokenExpired = 111
	CodeQPSLimit     = 18
	CodeImageFormat  = 216201
	CodeImageSize    = 216202
	CodeNoSignature  = -1
)

// Error normalizes both failure shapes of the remote index: transport
// failures (Transport set, Code zero) and business rejections carried in a
// 200 response (Code and Message verbatim from upstream).
type Error struct {
	Kind      Kind
	Code      int
	Message   string
	Status    int
	Transport bool
	Err       error
}

func (e *Error) Error() string {
	if e.Transport {
		return fmt.Sprintf("%s transport failure (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s rejected: error_code=%d error_msg=%s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsImageRejected reports whether the index refused the image itself
// (format or dimensions), as opposed to a transport or auth failure.
func IsImageRejected(err error) bool {
	var vsErr *Error
	if !errors.As(err, &vsErr) {
		return false
	}
	return vsErr.Code == CodeImageFormat || vsErr.Code == CodeImageSize
}
