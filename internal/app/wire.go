package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/credential"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
	"github.com/alexeynavarkin/picsearch/internal/repository/mapping_repo"
	"github.com/alexeynavarkin/picsearch/internal/visualsearch"
)

func NewObjectStore(cfg ObjectStoreConfig, lg *zap.Logger) (*connector.ObjectStore, error) {
	var backend connector.Backend
	switch cfg.Backend {
	case BackendBOS, "":
		bos, err := connector.NewBOSBackend(connector.BOSBackendConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		backend = bos
	case BackendWebdav:
		backend = connector.NewWebdavBackend(connector.WebdavBackendConfig{
			BaseURL:  cfg.Endpoint,
			Username: cfg.WebdavUser,
			Password: cfg.WebdavPassword,
		})
	default:
		return nil, fmt.Errorf("unknown object store backend %q", cfg.Backend)
	}

	return connector.NewObjectStore(backend, connector.ObjectStoreConfig{
		Bucket:       cfg.Bucket,
		PublicDomain: cfg.PublicDomain,
	}, lg.With(zap.String("component", "object_store"), zap.String("backend", cfg.Backend))), nil
}

// NewVisualSearch wires the token cache and the index client. Both share
// one HTTP client with the configured timeout.
func NewVisualSearch(cfg VisualSearchConfig, rec metrics.Recorder, lg *zap.Logger) (*visualsearch.Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("visual_search.client_id and visual_search.client_secret are required")
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	tokens := credential.NewCache(
		credential.NewOAuthFetcher(httpClient, credential.OAuthConfig{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		}),
		credential.RealClock{},
		lg.With(zap.String("component", "credential")),
		credential.WithRecorder(rec),
	)

	return visualsearch.NewClient(httpClient, tokens, visualsearch.Config{
		BaseURL: cfg.BaseURL,
		QPS:     cfg.QPS,
	}, rec, lg.With(zap.String("component", "visual_search"), zap.String("app_id", cfg.AppID))), nil
}

// NewMapping opens the configured mapping backend behind an LRU cache. The
// returned closer releases the database handle, if any.
func NewMapping(ctx context.Context, cfg MappingConfig, lg *zap.Logger) (mapping_repo.Store, io.Closer, error) {
	var (
		store  mapping_repo.Store
		closer io.Closer = nopCloser{}
	)

	switch cfg.Backend {
	case MappingFile, "":
		fs, err := mapping_repo.NewFileStore(cfg.File, lg.With(zap.String("component", "mapping")))
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case MappingPostgres:
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping db: %w", err)
		}
		pg := mapping_repo.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store, closer = pg, db
	default:
		return nil, nil, fmt.Errorf("unknown mapping backend %q", cfg.Backend)
	}

	return mapping_repo.NewCachedStore(store, cfg.CacheSize, cfg.CacheTTL), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
