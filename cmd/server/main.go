package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	config "github.com/ThomasObenaus/go-conf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/app"
	"github.com/alexeynavarkin/picsearch/internal/indexer"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
	"github.com/alexeynavarkin/picsearch/internal/server"
)

type Config struct {
	ObjectStore  app.ObjectStoreConfig  `cfg:"{'name':'object_store'}"`
	VisualSearch app.VisualSearchConfig `cfg:"{'name':'visual_search'}"`
	Mapping      app.MappingConfig      `cfg:"{'name':'mapping'}"`
	HTTP         app.HTTPConfig         `cfg:"{'name':'http'}"`
	Ingest       app.IngestConfig       `cfg:"{'name':'ingest'}"`
}

func main() {
	lg := zap.Must(zap.NewProduction())
	defer lg.Sync()

	cfg := Config{}

	cfgProvider, err := config.NewConfigProvider(
		&cfg,
		"PICSEARCH_SERVER",
		"PICSEARCH_SERVER",
	)
	if err != nil {
		lg.Fatal("failed to build config provider", zap.Error(err))
	}

	err = cfgProvider.ReadConfig(os.Args)
	if err != nil {
		fmt.Println(cfgProvider.Usage())
		os.Exit(-1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewPrometheusRecorder("picsearch", reg)
	if err != nil {
		lg.Fatal("failed to register metrics", zap.Error(err))
	}

	store, err := app.NewObjectStore(cfg.ObjectStore, lg)
	if err != nil {
		lg.Fatal("failed to create object store", zap.Error(err))
	}

	index, err := app.NewVisualSearch(cfg.VisualSearch, rec, lg)
	if err != nil {
		lg.Fatal("failed to create visual search client", zap.Error(err))
	}

	mapping, closer, err := app.NewMapping(ctx, cfg.Mapping, lg)
	if err != nil {
		lg.Fatal("failed to open url mapping", zap.Error(err))
	}
	defer closer.Close()

	pipeline := indexer.NewIndexer(
		store,
		index,
		mapping,
		indexer.Config{
			KeyPrefix:      cfg.ObjectStore.KeyPrefix,
			PersistPartial: cfg.Ingest.PersistPartial,
		},
		rec,
		lg.With(zap.String("component", "indexer")),
	)

	srv := server.NewServer(
		server.Config{
			Listen:         cfg.HTTP.Listen,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			MaxUploadBytes: int64(cfg.HTTP.MaxUploadBytes),
			CORSOrigins:    app.SplitList(cfg.HTTP.CORSOrigins),
			Debug:          cfg.HTTP.Debug,
		},
		pipeline,
		mapping,
		server.Diagnostic{
			Options: app.OptionsSet(cfg.ObjectStore, cfg.VisualSearch, cfg.Mapping),
			ObjectStore: server.ObjectStoreDiagnostic{
				Backend:      cfg.ObjectStore.Backend,
				Bucket:       cfg.ObjectStore.Bucket,
				PublicDomain: cfg.ObjectStore.PublicDomain,
			},
		},
		reg,
		lg.With(zap.String("component", "http")),
	)

	err = srv.Run(ctx)
	if err != nil {
		lg.Fatal("http server failed", zap.Error(err))
	}
}
