package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	config "github.com/ThomasObenaus/go-conf"
	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/app"
	"github.com/alexeynavarkin/picsearch/internal/indexer"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
)

type Config struct {
	ObjectStore  app.ObjectStoreConfig  `cfg:"{'name':'object_store'}"`
	VisualSearch app.VisualSearchConfig `cfg:"{'name':'visual_search'}"`
	Mapping      app.MappingConfig      `cfg:"{'name':'mapping'}"`

	Backfill struct {
		Prefix  string `cfg:"{'name':'prefix','desc':'Only objects under this key prefix are registered.','default':''}"`
		Workers int    `cfg:"{'name':'workers','desc':'Objects processed concurrently.','default':1}"`
	} `cfg:"{'name':'backfill'}"`
}

func main() {
	lg := zap.Must(zap.NewProduction())
	defer lg.Sync()

	cfg := Config{}

	cfgProvider, err := config.NewConfigProvider(
		&cfg,
		"PICSEARCH_INDEXER",
		"PICSEARCH_INDEXER",
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

	store, err := app.NewObjectStore(cfg.ObjectStore, lg)
	if err != nil {
		lg.Fatal("failed to create object store", zap.Error(err))
	}

	index, err := app.NewVisualSearch(cfg.VisualSearch, metrics.Nop, lg)
	if err != nil {
		lg.Fatal("failed to create visual search client", zap.Error(err))
	}

	mapping, closer, err := app.NewMapping(ctx, cfg.Mapping, lg)
	if err != nil {
		lg.Fatal("failed to open url mapping", zap.Error(err))
	}
	defer closer.Close()

	indexBuilder := indexer.NewIndexer(
		store,
		index,
		mapping,
		indexer.Config{
			KeyPrefix:       cfg.ObjectStore.KeyPrefix,
			BackfillWorkers: cfg.Backfill.Workers,
		},
		metrics.Nop,
		lg,
	)

	report, err := indexBuilder.Backfill(ctx, cfg.Backfill.Prefix)
	if err != nil {
		lg.Fatal("backfill failed", zap.Error(err), zap.Any("report", report))
	}
	if report.Failed > 0 {
		lg.Warn("backfill finished with failures", zap.Any("failures", report.Failures))
	}
}
