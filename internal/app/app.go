// Package app provides the main application lifecycle management for the
// imagesearch service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mediascout/imagesearch/internal/api"
	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/cachestore"
	"github.com/mediascout/imagesearch/internal/config"
	"github.com/mediascout/imagesearch/internal/embed"
	"github.com/mediascout/imagesearch/internal/events"
	"github.com/mediascout/imagesearch/internal/fetch"
	"github.com/mediascout/imagesearch/internal/index"
	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/metrics"
	"github.com/mediascout/imagesearch/internal/parse"
	"github.com/mediascout/imagesearch/internal/session"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second
	// cleanupInterval is how often expired sessions are swept
	cleanupInterval = time.Hour
	// startupTimeout bounds index bootstrap at startup
	startupTimeout = 30 * time.Second
)

// App represents the imagesearch application with all its dependencies
type App struct {
	config       *config.Config
	logger       logger.Logger
	redisClient  *redis.Client
	esClient     *index.Client
	orchestrator *session.Orchestrator
	httpServer   *http.Server
	version      string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	appLogger, err := logger.New(level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "imagesearch"),
		logger.String("version", opts.Version),
	)

	redisClient, err := cachestore.NewRedisClient(cfg.Redis)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	prom := metrics.New(prometheus.DefaultRegisterer)
	cacheService := cache.NewService(
		cachestore.NewRedisStore(redisClient, appLogger),
		prom,
		appLogger,
		cache.WithTTLConfig(cfg.Cache.TTL),
	)

	esClient, err := index.NewClient(cfg.Elasticsearch)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Elasticsearch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	indexStore, err := index.NewStore(ctx, esClient, cfg.Elasticsearch.Index, appLogger)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("prepare index: %w", err)
	}

	fetcher, err := fetch.NewClient(cfg.Crawler.URL, cfg.Crawler.APIKey, appLogger,
		fetch.WithPollInterval(cfg.Crawler.PollInterval),
		fetch.WithMaxCrawlTime(cfg.Crawler.MaxCrawlTime),
	)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create crawler client: %w", err)
	}

	var embedOpts []embed.ClientOption
	if cfg.Embeddings.Model != "" {
		embedOpts = append(embedOpts, embed.WithModel(cfg.Embeddings.Model))
	}
	embedClient, err := embed.NewClient(cfg.Embeddings.URL, cfg.Embeddings.APIKey, appLogger, embedOpts...)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create embeddings client: %w", err)
	}
	embedder := embed.NewCachedEmbedder(embedClient, cacheService, appLogger)

	extractor := parse.NewImageExtractor()

	orchestrator := session.NewOrchestrator(cfg.Sessions, session.Deps{
		Cache:     cacheService,
		Fetcher:   fetcher,
		Extractor: extractor,
		Embedder:  embedder,
		Indexer:   indexStore,
		Retriever: indexStore,
		Metrics:   prom,
		Logger:    appLogger,
		Text:      parse.EmbeddingText,
	})

	router := api.NewRouter(
		orchestrator,
		cacheService,
		events.NewStreamer(appLogger),
		cfg,
		appLogger,
		api.WithRedisHealthCheck(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		api.WithSearchHealthCheck(func(ctx context.Context) error {
			return esClient.HealthCheck(ctx)
		}),
	)

	return &App{
		config:       cfg,
		logger:       appLogger,
		redisClient:  redisClient,
		esClient:     esClient,
		orchestrator: orchestrator,
		httpServer:   router.NewServer(),
		version:      opts.Version,
	}, nil
}

// Run starts the HTTP server and the session janitor, blocking until
// shutdown.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server",
			logger.String("address", a.config.Server.Address),
			logger.Bool("debug", a.config.Debug),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	janitorCtx, janitorCancel := context.WithCancel(ctx)
	defer janitorCancel()
	go a.runJanitor(janitorCtx)

	return a.waitForShutdown(ctx, serverErr)
}

// runJanitor periodically sweeps expired sessions.
func (a *App) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := a.orchestrator.Cleanup(ctx, 0)
			if removed > 0 {
				a.logger.Info("janitor swept sessions", logger.Int("removed", removed))
			}
		}
	}
}

// waitForShutdown handles graceful shutdown
func (a *App) waitForShutdown(ctx context.Context, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownErr error

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully",
			logger.String("signal", sig.String()),
		)
	case <-ctx.Done():
		a.logger.Info("Shutting down, context cancelled")
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Server error", logger.Error(err))
			shutdownErr = err
		}
	}

	a.shutdownHTTPServer()
	a.orchestrator.Stop()
	a.logger.Info("Service stopped")
	return shutdownErr
}

// shutdownHTTPServer gracefully shuts down the HTTP server
func (a *App) shutdownHTTPServer() {
	if a.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("HTTP server stopped")
	}
}

// Close cleans up resources
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}
