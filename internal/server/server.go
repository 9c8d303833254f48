package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/connector"
	"github.com/alexeynavarkin/picsearch/internal/indexer"
	"github.com/alexeynavarkin/picsearch/internal/repository/mapping_repo"
)

const (
	DefaultListen         = ":8080"
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxUploadBytes = 50 << 20

	shutdownTimeout = 10 * time.Second
)

type Config struct {
	Listen         string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// CORSOrigins lists allowed origins; "*" or empty allows all.
	CORSOrigins []string
	Debug       bool
}

// Pipeline runs ingestion and lookup. *indexer.Indexer implements it.
type Pipeline interface {
	Ingest(ctx context.Context, payload connector.Payload, fileName string) indexer.IngestResult
	Search(ctx context.Context, payload connector.Payload) indexer.SearchResult
}

type Server struct {
	cfg      Config
	pipeline Pipeline
	mapping  mapping_repo.Store
	diag     Diagnostic
	gatherer prometheus.Gatherer

	engine     *gin.Engine
	httpServer *http.Server

	lg *zap.Logger
}

func NewServer(
	cfg Config,
	pipeline Pipeline,
	mapping mapping_repo.Store,
	diag Diagnostic,
	gatherer prometheus.Gatherer,
	lg *zap.Logger,
) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		mapping:  mapping,
		diag:     diag,
		gatherer: gatherer,
		engine:   gin.New(),
		lg:       lg,
	}

	s.engine.Use(requestLogger(lg), gin.Recovery())
	s.engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.Use(requestTimeout(s.cfg.RequestTimeout))
	{
		api.POST("/images", bodyLimit(s.cfg.MaxUploadBytes), s.uploadImage)
		api.POST("/search", bodyLimit(s.cfg.MaxUploadBytes), s.searchImage)
		api.GET("/urls/mapping", s.urlMapping)
		api.GET("/diagnostic", s.diagnostic)
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.lg.Info("http server listening", zap.String("addr", s.cfg.Listen))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.lg.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
