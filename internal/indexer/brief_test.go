package indexer

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBriefForGeneratedKeyFitsLimit(t *testing.T) {
	idx := NewIndexer(nil, nil, nil, Config{}, nil, zap.NewNop())
	key := idx.objectKey(fixedNow, ".jpeg")

	brief := newBrief(key[strings.LastIndex(key, "/")+1:], 52428800, "image/jpeg", fixedNow, key)

	assert.LessOrEqual(t, len(brief.String()), MaxBriefBytes)
	assert.Equal(t, key, brief.Key)
	assert.True(t, strings.HasSuffix(brief.FileName, ".jpeg"))
}

func TestBriefTruncatesLongCJKFileName(t *testing.T) {
	name := strings.Repeat("红色运动鞋", 20) + ".jpg"
	key := "products/2025/03/2Mj7fTMfYFPkxvDqQyPPZ6sHfyz.jpg"

	brief := newBrief(name, 123456, "image/jpeg", fixedNow, key)
	encoded := brief.String()

	assert.LessOrEqual(t, len(encoded), MaxBriefBytes)
	assert.True(t, utf8.ValidString(brief.FileName))
	assert.True(t, strings.HasSuffix(brief.FileName, ".jpg"))
	assert.True(t, strings.HasPrefix(name, strings.TrimSuffix(brief.FileName, ".jpg")))
	assert.Equal(t, key, brief.Key)

	var decoded Brief
	require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))
	assert.Equal(t, brief, decoded)
}

func TestBriefKeepsShortFileName(t *testing.T) {
	brief := newBrief("shoe.jpg", 10, "image/jpeg", fixedNow, "products/a.jpg")

	assert.Equal(t, "shoe.jpg", brief.FileName)
}
