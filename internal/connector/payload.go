package connector

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Payload is an immutable blob ready for transmission. All constructors
// normalize their input to bytes up front.
type Payload struct {
	data        []byte
	contentType string
}

func PayloadFromBytes(data []byte, contentType string) Payload {
	buf := make([]byte, len(data))
	copy(buf, data)

	return newPayload(buf, contentType)
}

func PayloadFromString(s string, contentType string) Payload {
	return newPayload([]byte(s), contentType)
}

func PayloadFromReader(r io.Reader, contentType string) (Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Payload{}, fmt.Errorf("read payload: %w", err)
	}

	return newPayload(data, contentType), nil
}

func PayloadFromFile(path string, contentType string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("read payload file: %w", err)
	}

	return newPayload(data, contentType), nil
}

func newPayload(data []byte, contentType string) Payload {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	return Payload{data: data, contentType: contentType}
}

// Bytes returns the payload content. The slice must not be modified.
func (p Payload) Bytes() []byte {
	return p.data
}

func (p Payload) ContentType() string {
	return p.contentType
}

func (p Payload) Len() int {
	return len(p.data)
}

// Extension returns the canonical file extension for the payload content
// type, including the leading dot, or "" when unknown.
func (p Payload) Extension() string {
	mt := mimetype.Lookup(baseMediaType(p.contentType))
	if mt == nil {
		return ""
	}

	return mt.Extension()
}

func baseMediaType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(base)
}
