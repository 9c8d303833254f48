package indexer

import (
	"context"
	"net/url"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
	"github.com/alexeynavarkin/picsearch/internal/repository/mapping_repo"
	"github.com/alexeynavarkin/picsearch/internal/visualsearch"
)

// Ingest uploads payload under a fresh key and registers it with the visual
// index at the same time. Both stages always run to completion; the mapping
// write waits on both and needs the upload's URL.
func (i *Indexer) Ingest(ctx context.Context, payload connector.Payload, fileName string) IngestResult {
	if payload.Len() == 0 {
		return IngestResult{Stage: metrics.StageUpload, Error: inputError("empty payload")}
	}

	at := i.now()
	key := i.objectKey(at, payload.Extension())
	if fileName == "" {
		fileName = path.Base(key)
	}
	brief := newBrief(fileName, payload.Len(), payload.ContentType(), at, key)
	lg := i.lg.With(zap.String("key", key), zap.String("file_name", fileName))
	lg.Info("ingesting image", zap.Int("size", payload.Len()), zap.String("content_type", payload.ContentType()))

	var (
		wg       sync.WaitGroup
		uploaded connector.UploadResult
		upErr    error
		reg      visualsearch.Registration
		regErr   error
	)

	// Upload to the object store.
	wg.Add(1)
	go func() {
		defer wg.Done()
		uploaded, upErr = i.upload(ctx, key, payload, brief)
	}()

	// Register with the visual index.
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg, regErr = i.index.Register(ctx, payload.Bytes(), brief.String())
	}()

	wg.Wait()

	res := IngestResult{Key: key, Brief: &brief, ContentSign: reg.ContentSign}
	if upErr != nil {
		// Nothing to map without a URL, even if registration succeeded.
		res.Stage = metrics.StageUpload
		res.Error = stageError(metrics.StageUpload, upErr)
		lg.Error("upload failed", zap.Error(upErr), zap.String("cont_sign", reg.ContentSign))
		return res
	}
	res.URL = uploaded.URL

	if regErr != nil {
		res.Stage = metrics.StageRegister
		res.Error = stageError(metrics.StageRegister, regErr)
		lg.Error("registration failed", zap.Error(regErr))

		if i.persistPartial {
			id := mapping_repo.ObjectKeyID(key)
			if err := i.putMapping(ctx, id, uploaded.URL); err != nil {
				lg.Error("failed to record partial ingestion", zap.Error(err))
				return res
			}
			res.Partial = true
			res.MappingID = id
		}
		return res
	}

	if err := i.putMapping(ctx, reg.ContentSign, uploaded.URL); err != nil {
		res.Stage = metrics.StageMapping
		res.Error = stageError(metrics.StageMapping, err)
		lg.Error("mapping write failed", zap.Error(err), zap.String("cont_sign", reg.ContentSign))
		return res
	}

	res.Success = true
	res.MappingID = reg.ContentSign
	lg.Info("image ingested", zap.String("url", uploaded.URL), zap.String("cont_sign", reg.ContentSign))
	return res
}

func (i *Indexer) upload(ctx context.Context, key string, payload connector.Payload, brief Brief) (res connector.UploadResult, err error) {
	defer metrics.Since(i.rec, metrics.StageUpload, time.Now(), &err)

	res, err = i.store.Upload(ctx, "", key, payload, connector.UploadOptions{
		ContentType: payload.ContentType(),
		Metadata: map[string]string{
			"file-name":   url.QueryEscape(brief.FileName),
			"upload-time": brief.UploadTime,
		},
	})
	if err == nil {
		i.rec.AddUploadedBytes(payload.Len())
	}
	return res, err
}

func (i *Indexer) putMapping(ctx context.Context, id, publicURL string) (err error) {
	defer metrics.Since(i.rec, metrics.StageMapping, time.Now(), &err)
	return i.mapping.Put(ctx, id, publicURL)
}
