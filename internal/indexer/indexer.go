package indexer

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
	"github.com/alexeynavarkin/picsearch/internal/repository/mapping_repo"
	"github.com/alexeynavarkin/picsearch/internal/visualsearch"
)

const (
	DefaultKeyPrefix = "products"

	traverseChanSize = 1024
)

// ObjectStore is the part of *connector.ObjectStore the pipeline uses.
type ObjectStore interface {
	Bucket() string
	Upload(ctx context.Context, bucket, key string, payload connector.Payload, opts connector.UploadOptions) (connector.UploadResult, error)
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Traverse(ctx context.Context, bucket, prefix string, objCh chan<- connector.Object) error
	PublicURL(key string) string
}

// VisualIndex registers and searches images. *visualsearch.Client
// implements it.
type VisualIndex interface {
	Register(ctx context.Context, image []byte, brief string) (visualsearch.Registration, error)
	Search(ctx context.Context, image []byte) (*visualsearch.Matches, error)
}

type Config struct {
	KeyPrefix string
	// PersistPartial records key:{objectKey} → url when the upload
	// succeeded but registration did not.
	PersistPartial bool
	// BackfillWorkers bounds concurrent objects during Backfill.
	BackfillWorkers int
	Now             func() time.Time
}

type Indexer struct {
	store   ObjectStore
	index   VisualIndex
	mapping mapping_repo.Store

	keyPrefix      string
	persistPartial bool
	workers        int
	now            func() time.Time

	rec metrics.Recorder
	lg  *zap.Logger
}

func NewIndexer(
	store ObjectStore,
	index VisualIndex,
	mapping mapping_repo.Store,
	cfg Config,
	rec metrics.Recorder,
	lg *zap.Logger,
) *Indexer {
	if rec == nil {
		rec = metrics.Nop
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	workers := cfg.BackfillWorkers
	if workers <= 0 {
		workers = 1
	}

	return &Indexer{
		store:          store,
		index:          index,
		mapping:        mapping,
		keyPrefix:      prefix,
		persistPartial: cfg.PersistPartial,
		workers:        workers,
		now:            now,
		rec:            rec,
		lg:             lg,
	}
}

// objectKey is {prefix}/{yyyy}/{mm}/{ksuid}{ext}. The ksuid embeds the
// timestamp, so keys under one month sort by creation time.
func (i *Indexer) objectKey(at time.Time, ext string) string {
	id, err := ksuid.NewRandomWithTime(at)
	if err != nil {
		id = ksuid.New()
	}
	return path.Join(
		i.keyPrefix,
		at.UTC().Format("2006"),
		at.UTC().Format("01"),
		id.String()+ext,
	)
}
