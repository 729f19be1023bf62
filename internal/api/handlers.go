package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/events"
	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/session"
)

// Handlers provides HTTP handlers for the API
type Handlers struct {
	orchestrator *session.Orchestrator
	cache        *cache.Service
	streamer     *events.Streamer
	logger       logger.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	orchestrator *session.Orchestrator,
	cacheService *cache.Service,
	streamer *events.Streamer,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		cache:        cacheService,
		streamer:     streamer,
		logger:       log,
	}
}

type crawlRequest struct {
	URL       string `json:"url" binding:"required"`
	Limit     int    `json:"limit"`
	SkipCache bool   `json:"skip_cache"`
}

// StartCrawl handles POST /crawl
func (h *Handlers) StartCrawl(c *gin.Context) {
	var req crawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	sessionID, err := h.orchestrator.StartSession(req.URL, req.Limit, req.SkipCache)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "maximum concurrent crawls reached, try again later",
			})
			return
		}
		h.logger.Error("failed to start crawl",
			logger.Error(err),
			logger.String("url", req.URL),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sessionID,
		"status":     "started",
	})
}

// SimpleStatus handles GET /crawl/:id/status-simple
func (h *Handlers) SimpleStatus(c *gin.Context) {
	snapshot, pending, err := h.orchestrator.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": snapshot,
		"events":  pending,
	})
}

type searchRequest struct {
	SessionID  string   `json:"session_id" binding:"required"`
	Query      string   `json:"query" binding:"required"`
	Formats    []string `json:"formats"`
	MaxResults int      `json:"max_results"`
	SkipCache  bool     `json:"skip_cache"`
}

// Search handles POST /search
func (h *Handlers) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and query are required"})
		return
	}

	result, err := h.orchestrator.Search(
		c.Request.Context(), req.SessionID, req.Query,
		req.Formats, req.MaxResults, req.SkipCache,
	)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, domain.ErrSessionNotIndexed):
			c.JSON(http.StatusConflict, gin.H{"error": "session is not ready for search"})
		default:
			h.logger.Error("search failed",
				logger.Error(err),
				logger.String("session_id", req.SessionID),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListSessions handles GET /sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.orchestrator.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// DeleteSession handles DELETE /sessions/:id
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.orchestrator.DeleteSession(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to delete session",
			logger.Error(err),
			logger.String("session_id", id),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type cleanupRequest struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// Cleanup handles POST /cleanup
func (h *Handlers) Cleanup(c *gin.Context) {
	var req cleanupRequest
	// Body is optional; an empty body means the configured default age.
	_ = c.ShouldBindJSON(&req)

	removed := h.orchestrator.Cleanup(
		c.Request.Context(),
		time.Duration(req.MaxAgeHours)*time.Hour,
	)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// CacheStats handles GET /cache/stats
func (h *Handlers) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"available": h.cache.Available(c.Request.Context()),
		"stats":     h.cache.PerformanceStats(),
	})
}

type invalidateRequest struct {
	Class string `json:"class" binding:"required"`
}

// InvalidateCache handles POST /cache/invalidate
func (h *Handlers) InvalidateCache(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class is required"})
		return
	}

	switch req.Class {
	case cache.ClassContent, cache.ClassQuery, cache.ClassEmbedding:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "class must be one of content, query, embedding",
		})
		return
	}

	deleted := h.cache.InvalidateClass(c.Request.Context(), req.Class)
	c.JSON(http.StatusOK, gin.H{
		"class":   req.Class,
		"deleted": deleted,
	})
}
