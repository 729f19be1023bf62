package events

import (
	"context"
	"time"

	"github.com/mediascout/imagesearch/internal/logger"
)

// Streamer defaults.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxStreamDuration = 10 * time.Minute
)

// Streamer turns an Outbox into an event channel for SSE delivery.
// Heartbeats are injected when the outbox stays idle, and the stream is
// force-closed with a timeout event after a maximum duration regardless
// of session progress.
type Streamer struct {
	logger            logger.Logger
	heartbeatInterval time.Duration
	maxDuration       time.Duration
}

// StreamerOption configures a Streamer.
type StreamerOption func(*Streamer)

// WithHeartbeatInterval overrides the idle heartbeat interval.
func WithHeartbeatInterval(interval time.Duration) StreamerOption {
	return func(s *Streamer) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
	}
}

// WithMaxStreamDuration overrides the absolute stream lifetime.
func WithMaxStreamDuration(max time.Duration) StreamerOption {
	return func(s *Streamer) {
		if max > 0 {
			s.maxDuration = max
		}
	}
}

// NewStreamer creates a Streamer.
func NewStreamer(log logger.Logger, opts ...StreamerOption) *Streamer {
	s := &Streamer{
		logger:            log,
		heartbeatInterval: DefaultHeartbeatInterval,
		maxDuration:       DefaultMaxStreamDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream drains the outbox into the returned channel until the outbox
// closes, the context is cancelled, or the maximum duration elapses. The
// channel is closed when the stream ends. On timeout a final timeout
// event is emitted before closing.
func (s *Streamer) Stream(ctx context.Context, outbox *Outbox) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		heartbeat := time.NewTicker(s.heartbeatInterval)
		defer heartbeat.Stop()

		deadline := time.NewTimer(s.maxDuration)
		defer deadline.Stop()

		// Deliver anything buffered before the subscription started.
		if !s.flush(ctx, outbox, out) {
			return
		}
		// An outbox closed before this subscriber attached never fires
		// its notification again; end the stream instead of idling on
		// heartbeats until the deadline.
		if outbox.Closed() {
			s.flush(ctx, outbox, out)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return

			case <-deadline.C:
				s.logger.Warn("event stream exceeded maximum duration",
					logger.Duration("max_duration", s.maxDuration),
				)
				s.emit(ctx, out, Event{
					Type:      TypeTimeout,
					Message:   "stream timeout",
					Timestamp: stamp(),
				})
				return

			case <-heartbeat.C:
				if !s.emit(ctx, out, Event{
					Type:      TypeHeartbeat,
					Timestamp: stamp(),
				}) {
					return
				}

			case <-outbox.Wait():
				if !s.flush(ctx, outbox, out) {
					return
				}
				if outbox.Closed() {
					// A final drain catches appends that raced Close.
					if !s.flush(ctx, outbox, out) {
						return
					}
					return
				}
				heartbeat.Reset(s.heartbeatInterval)
			}
		}
	}()

	return out
}

// flush drains the outbox into out. Returns false when the context ended.
func (s *Streamer) flush(ctx context.Context, outbox *Outbox, out chan<- Event) bool {
	for _, event := range outbox.Drain() {
		if !s.emit(ctx, out, event) {
			return false
		}
	}
	return true
}

func (s *Streamer) emit(ctx context.Context, out chan<- Event, event Event) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
