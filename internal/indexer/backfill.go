package indexer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
	"github.com/alexeynavarkin/picsearch/internal/repository/mapping_repo"
)

type BackfillReport struct {
	Scanned    int `json:"scanned"`
	Registered int `json:"registered"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	// Failures maps object key to the failure message.
	Failures map[string]string `json:"failures,omitempty"`
}

type backfillOutcome int

const (
	outcomeRegistered backfillOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// Backfill registers objects already in the bucket under prefix that no
// signature maps to yet. Per-object failures are logged and counted; only
// a failed listing or a canceled context fails the run.
func (i *Indexer) Backfill(ctx context.Context, prefix string) (BackfillReport, error) {
	report := BackfillReport{Failures: map[string]string{}}

	done, err := i.mappedURLs(ctx)
	if err != nil {
		return report, err
	}

	objCh := make(chan connector.Object, traverseChanSize)
	var traverseErr error
	go func() {
		defer close(objCh)
		traverseErr = i.store.Traverse(ctx, "", prefix, objCh)
		if traverseErr != nil {
			i.lg.Error("traverse failed", zap.Error(traverseErr))
		}
	}()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)

	for obj := range objCh {
		g.Go(func() error {
			outcome, err := i.backfillObject(gctx, obj, done)

			mu.Lock()
			defer mu.Unlock()
			report.Scanned++
			switch outcome {
			case outcomeRegistered:
				report.Registered++
			case outcomeSkipped:
				report.Skipped++
			case outcomeFailed:
				report.Failed++
				report.Failures[obj.Key] = err.Error()
			}
			return nil
		})
	}

	_ = g.Wait()
	if traverseErr != nil {
		return report, traverseErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	i.lg.Info("backfill done",
		zap.String("prefix", prefix),
		zap.Int("scanned", report.Scanned),
		zap.Int("registered", report.Registered),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// mappedURLs collects URLs some content signature already points at.
// Partial entries do not count: those objects still need registering.
func (i *Indexer) mappedURLs(ctx context.Context) (map[string]struct{}, error) {
	table, err := i.mapping.All(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]struct{}, len(table))
	for id, url := range table {
		if _, partial := mapping_repo.IsObjectKeyID(id); partial {
			continue
		}
		done[url] = struct{}{}
	}
	return done, nil
}

func (i *Indexer) backfillObject(ctx context.Context, obj connector.Object, done map[string]struct{}) (outcome backfillOutcome, err error) {
	lg := i.lg.With(zap.String("key", obj.Key))
	url := i.store.PublicURL(obj.Key)
	if _, ok := done[url]; ok {
		lg.Debug("already registered, skipping")
		return outcomeSkipped, nil
	}

	defer metrics.Since(i.rec, metrics.StageBackfill, time.Now(), &err)

	lg.Info("scanning object")
	objReader, err := i.store.Fetch(ctx, obj.Bucket, obj.Key)
	if err != nil {
		lg.Error("fetch failed", zap.Error(err))
		return outcomeFailed, err
	}
	defer objReader.Close()

	var (
		wg          sync.WaitGroup
		contentType string
		sum         string
		data        []byte
		ctErr       error
		sumErr      error
		readErr     error
	)
	readers := splitReader(objReader, 3)

	// Detect content type.
	wg.Add(1)
	go func() {
		defer wg.Done()
		contentType, ctErr = detectContentType(readers[0])
	}()

	// Calculate SHA512 checksum.
	wg.Add(1)
	go func() {
		defer wg.Done()
		sum, sumErr = calculateSHA512(readers[1])
	}()

	// Buffer the body for registration.
	wg.Add(1)
	go func() {
		defer wg.Done()
		data, readErr = readAll(readers[2])
	}()

	wg.Wait()
	if err := errors.Join(ctErr, sumErr, readErr); err != nil {
		lg.Error("failed to read object", zap.Error(err))
		return outcomeFailed, err
	}

	if !IsSupportedImage(contentType) {
		lg.Info("not a supported image, skipping", zap.String("content_type", contentType))
		return outcomeSkipped, nil
	}

	at := i.now()
	if obj.ModifiedTimestamp != nil {
		at = *obj.ModifiedTimestamp
	}
	brief := newBrief(path.Base(obj.Key), len(data), baseMediaType(contentType), at, obj.Key)

	reg, err := i.index.Register(ctx, data, brief.String())
	if err != nil {
		lg.Error("registration failed", zap.Error(err))
		return outcomeFailed, stageError(metrics.StageRegister, err)
	}

	if err := i.putMapping(ctx, reg.ContentSign, url); err != nil {
		lg.Error("mapping write failed", zap.Error(err))
		return outcomeFailed, fmt.Errorf("map %s: %w", reg.ContentSign, err)
	}

	lg.Info("object registered", zap.String("cont_sign", reg.ContentSign), zap.String("sha512", sum))
	return outcomeRegistered, nil
}
