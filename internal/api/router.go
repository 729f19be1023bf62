package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/config"
	"github.com/mediascout/imagesearch/internal/events"
	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/metrics"
	"github.com/mediascout/imagesearch/internal/session"
)

const serviceVersion = "1.0.0"

// HealthChecker reports whether a backing service is reachable.
type HealthChecker func(ctx context.Context) error

// Router holds the API dependencies
type Router struct {
	orchestrator *session.Orchestrator
	cache        *cache.Service
	streamer     *events.Streamer
	logger       logger.Logger
	cfg          *config.Config

	redisCheck  HealthChecker
	searchCheck HealthChecker
}

// Option configures the Router.
type Option func(*Router)

// WithRedisHealthCheck attaches a Redis reachability probe to /health.
func WithRedisHealthCheck(check HealthChecker) Option {
	return func(r *Router) { r.redisCheck = check }
}

// WithSearchHealthCheck attaches a search backend probe to /health.
func WithSearchHealthCheck(check HealthChecker) Option {
	return func(r *Router) { r.searchCheck = check }
}

// NewRouter creates a new API router
func NewRouter(
	orchestrator *session.Orchestrator,
	cacheService *cache.Service,
	streamer *events.Streamer,
	cfg *config.Config,
	log logger.Logger,
	opts ...Option,
) *Router {
	r := &Router{
		orchestrator: orchestrator,
		cache:        cacheService,
		streamer:     streamer,
		logger:       log,
		cfg:          cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Engine builds the gin engine with all routes registered.
func (r *Router) Engine() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(r.logger))
	engine.Use(corsMiddleware())

	h := NewHandlers(r.orchestrator, r.cache, r.streamer, r.logger)

	engine.GET("/health", r.health)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	engine.POST("/crawl", h.StartCrawl)
	engine.GET("/crawl/:id/status", h.StreamStatus)
	engine.GET("/crawl/:id/status-simple", h.SimpleStatus)

	engine.POST("/search", h.Search)

	engine.GET("/sessions", h.ListSessions)
	engine.DELETE("/sessions/:id", h.DeleteSession)
	engine.POST("/cleanup", h.Cleanup)

	engine.GET("/cache/stats", h.CacheStats)
	engine.POST("/cache/invalidate", h.InvalidateCache)

	return engine
}

// NewServer wraps the engine in an http.Server with configured timeouts.
func (r *Router) NewServer() *http.Server {
	return &http.Server{
		Addr:         r.cfg.Server.Address,
		Handler:      r.Engine(),
		ReadTimeout:  r.cfg.Server.ReadTimeout,
		WriteTimeout: r.cfg.Server.WriteTimeout,
	}
}

// health reports overall service health plus per-dependency status.
func (r *Router) health(c *gin.Context) {
	status := "healthy"
	deps := gin.H{}

	check := func(name string, fn HealthChecker) {
		if fn == nil {
			return
		}
		if err := fn(c.Request.Context()); err != nil {
			deps[name] = "unreachable"
			status = "degraded"
			return
		}
		deps[name] = "ok"
	}
	check("redis", r.redisCheck)
	check("search", r.searchCheck)

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":       status,
		"service":      "imagesearch",
		"version":      serviceVersion,
		"dependencies": deps,
	})
}
