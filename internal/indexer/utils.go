package indexer

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SupportedContentTypes are the image formats the visual index accepts.
var SupportedContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/bmp",
}

func IsSupportedImage(contentType string) bool {
	return slices.Contains(SupportedContentTypes, baseMediaType(contentType))
}

func baseMediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// splitReader fans r out to n readers. A reader closed early stops
// receiving; the rest keep going.
func splitReader(r io.Reader, n int) []io.ReadCloser {
	prs := make([]*io.PipeReader, n)
	pws := make([]*io.PipeWriter, n)
	readers := make([]io.ReadCloser, n)

	for i := 0; i < n; i++ {
		pr, pw := io.Pipe()
		prs[i] = pr
		pws[i] = pw
		readers[i] = pr
	}

	go func() {
		var readErr error
		defer func() {
			for _, pw := range pws {
				pw.CloseWithError(readErr)
			}
		}()

		closedReaders := make([]int, 0)
		buf := make([]byte, 1024*32)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for i := 0; i < len(pws); i++ {
					if slices.Contains(closedReaders, i) {
						continue
					}

					_, wrErr := pws[i].Write(buf[:n])
					if wrErr != nil {
						closedReaders = append(closedReaders, i)
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					readErr = err
				}
				break
			}
		}
	}()

	return readers
}

func calculateSHA512(reader io.ReadCloser) (string, error) {
	defer reader.Close()

	hash := sha512.New()
	_, err := io.Copy(hash, reader)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

func detectContentType(reader io.ReadCloser) (string, error) {
	defer reader.Close()

	objMimetype, err := mimetype.DetectReader(reader)
	if err != nil {
		return "", err
	}

	return objMimetype.String(), nil
}

func readAll(reader io.ReadCloser) ([]byte, error) {
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
