// Package events buffers per-session progress events and exposes them as
// a stream suitable for Server-Sent Events delivery.
package events

import "time"

// Event is a single progress notification emitted by a crawl session.
// Format on the wire: event: <Type>\ndata: <JSON payload>\n\n
type Event struct {
	// Seq is a per-outbox monotonically increasing sequence number.
	Seq uint64 `json:"seq"`
	// Type is the event type (e.g. "session:status", "heartbeat").
	Type string `json:"type"`
	// Message is a human-readable progress line.
	Message string `json:"message,omitempty"`
	// Data is an optional JSON-serializable payload.
	Data any `json:"data,omitempty"`
	// Timestamp is the emission time in UTC.
	Timestamp string `json:"timestamp"`
}

// Event types emitted by session workers.
const (
	TypeStatus    = "session:status"
	TypeProgress  = "session:progress"
	TypeCompleted = "session:completed"
	TypeError     = "session:error"
)

// Event types injected by the streamer.
const (
	TypeHeartbeat = "heartbeat"
	TypeTimeout   = "timeout"
)

// StatusData is the payload for session:status events.
type StatusData struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// ProgressData is the payload for session:progress events.
type ProgressData struct {
	SessionID     string `json:"session_id"`
	PagesFetched  int    `json:"pages_fetched,omitempty"`
	ImagesFound   int    `json:"images_found,omitempty"`
	ImagesIndexed int    `json:"images_indexed,omitempty"`
	BatchesFailed int    `json:"batches_failed,omitempty"`
	FromCache     bool   `json:"from_cache,omitempty"`
	ContentAge    string `json:"content_age,omitempty"`
}

// CompletedData is the payload for session:completed events.
type CompletedData struct {
	SessionID     string `json:"session_id"`
	ImagesIndexed int    `json:"images_indexed"`
	DurationMs    int64  `json:"duration_ms"`
}

// ErrorData is the payload for session:error events.
type ErrorData struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Error     string `json:"error"`
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewStatusEvent creates a session:status event.
func NewStatusEvent(sessionID, state, message string) Event {
	return Event{
		Type:      TypeStatus,
		Message:   message,
		Data:      StatusData{SessionID: sessionID, State: state},
		Timestamp: stamp(),
	}
}

// NewProgressEvent creates a session:progress event.
func NewProgressEvent(message string, data ProgressData) Event {
	return Event{
		Type:      TypeProgress,
		Message:   message,
		Data:      data,
		Timestamp: stamp(),
	}
}

// NewCompletedEvent creates a session:completed event.
func NewCompletedEvent(sessionID string, imagesIndexed int, duration time.Duration) Event {
	return Event{
		Type:    TypeCompleted,
		Message: "session completed",
		Data: CompletedData{
			SessionID:     sessionID,
			ImagesIndexed: imagesIndexed,
			DurationMs:    duration.Milliseconds(),
		},
		Timestamp: stamp(),
	}
}

// NewErrorEvent creates a session:error event.
func NewErrorEvent(sessionID, phase string, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{
		Type:      TypeError,
		Message:   "session failed",
		Data:      ErrorData{SessionID: sessionID, Phase: phase, Error: msg},
		Timestamp: stamp(),
	}
}
