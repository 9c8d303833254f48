package indexer

import (
	"encoding/json"
	"path"
	"time"
	"unicode/utf8"
)

// MaxBriefBytes is the largest brief the visual index accepts.
const MaxBriefBytes = 256

// Brief is the JSON document stored with each fingerprint in the remote
// index. Search returns it verbatim; nothing reads it back for URL
// resolution.
type Brief struct {
	FileName   string `json:"fileName"`
	FileSize   int    `json:"fileSize"`
	FileType   string `json:"fileType"`
	UploadTime string `json:"uploadTime"`
	Key        string `json:"key"`
}

// newBrief shortens fileName on a rune boundary, keeping its extension, until
// the encoded brief fits MaxBriefBytes.
func newBrief(fileName string, size int, contentType string, at time.Time, key string) Brief {
	b := Brief{
		FileName:   fileName,
		FileSize:   size,
		FileType:   contentType,
		UploadTime: at.UTC().Format(time.RFC3339),
		Key:        key,
	}

	ext := path.Ext(fileName)
	stem := fileName[:len(fileName)-len(ext)]
	for len(b.String()) > MaxBriefBytes && b.FileName != "" {
		switch {
		case stem != "":
			_, n := utf8.DecodeLastRuneInString(stem)
			stem = stem[:len(stem)-n]
		case ext != "":
			_, n := utf8.DecodeLastRuneInString(ext)
			ext = ext[:len(ext)-n]
		}
		b.FileName = stem + ext
	}

	return b
}

func (b Brief) String() string {
	data, err := json.Marshal(b)
	if err != nil {
		return "{}"
	}
	return string(data)
}
