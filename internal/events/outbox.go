package events

import (
	"sync"
)

// DefaultOutboxCapacity bounds the number of buffered events per session.
const DefaultOutboxCapacity = 256

// Outbox is a bounded per-session event buffer. Appends never block: when
// the buffer is full the oldest event is dropped to make room. Events carry
// a monotonically increasing sequence number so consumers can detect gaps
// left by drops.
type Outbox struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	nextSeq  uint64
	dropped  uint64
	closed   bool

	// notify wakes a pending Wait without carrying data.
	notify chan struct{}
}

// NewOutbox creates an Outbox. A non-positive capacity falls back to
// DefaultOutboxCapacity.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Append buffers an event, assigning its sequence number. When the outbox
// is full the oldest buffered event is discarded. Appends to a closed
// outbox are ignored.
func (o *Outbox) Append(event Event) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	o.nextSeq++
	event.Seq = o.nextSeq

	if len(o.buf) >= o.capacity {
		o.buf = o.buf[1:]
		o.dropped++
	}
	o.buf = append(o.buf, event)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Drain returns all buffered events in append order and clears the buffer.
func (o *Outbox) Drain() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.buf) == 0 {
		return nil
	}
	out := o.buf
	o.buf = nil
	return out
}

// Wait returns a channel that is signalled when new events arrive. The
// signal is level-triggered: a single receive may cover several appends,
// so callers drain after every wake-up.
func (o *Outbox) Wait() <-chan struct{} {
	return o.notify
}

// Close marks the outbox terminal. Buffered events stay drainable; further
// appends are dropped.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Dropped returns how many events were discarded to keep the buffer
// within capacity.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
