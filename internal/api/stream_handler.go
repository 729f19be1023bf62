package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StreamStatus handles GET /crawl/:id/status as a server-sent event
// stream. The stream ends when the session reaches a terminal state,
// the client disconnects, or the stream hits its maximum duration.
func (h *Handlers) StreamStatus(c *gin.Context) {
	outbox, err := h.orchestrator.OutboxFor(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ch := h.streamer.Stream(c.Request.Context(), outbox)
	c.Stream(func(w io.Writer) bool {
		event, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(event.Type, event)
		return true
	})
}
