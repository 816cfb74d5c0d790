package buffer

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	models "kadmin/internal/model"
)

// Handler is the sink a consumer session delivers records into.
// It buffers the most recent records and answers time-window queries.
type Handler struct {
	ring            *Ring
	total           atomic.Int64
	lastReadTime    atomic.Int64
	lastMessageTime atomic.Int64
	now             func() time.Time
}

// Option configures a Handler
type Option func(*Handler)

// WithClock replaces the wall clock used for arrival and read timestamps
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a handler buffering at most capacity messages (clamped)
func NewHandler(capacity int, opts ...Option) *Handler {
	h := &Handler{
		ring: NewRing(capacity),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.lastReadTime.Store(-1)
	h.lastMessageTime.Store(-1)
	return h
}

// Ingest stamps the record with the current time and buffers it
func (h *Handler) Ingest(rec models.Record) {
	total := h.total.Add(1)
	now := h.now().UnixMilli()
	h.lastMessageTime.Store(now)

	h.ring.Add(models.BufferedMessage{
		WriteTime: now,
		Key:       rec.Key,
		Payload:   rec.Value,
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Headers:   rec.Headers,
	})

	log.Debug().
		Str("topic", rec.Topic).
		Int64("received", total).
		Int("queued", h.ring.Len()).
		Msg("Record buffered")
}

// Query returns buffered messages written strictly after since, oldest first.
// A negative since returns everything currently buffered.
func (h *Handler) Query(since int64) []models.BufferedMessage {
	h.lastReadTime.Store(h.now().UnixMilli())

	snapshot := h.ring.Snapshot()
	if since < 0 {
		return snapshot
	}

	out := snapshot[:0]
	for _, msg := range snapshot {
		if msg.WriteTime > since {
			out = append(out, msg)
		}
	}
	return out
}

// Count returns how many buffered messages Query(since) would return
func (h *Handler) Count(since int64) int {
	if since < 0 {
		return h.ring.Len()
	}
	n := 0
	for _, msg := range h.ring.Snapshot() {
		if msg.WriteTime > since {
			n++
		}
	}
	return n
}

// Total returns the number of records ingested since the last Clear
func (h *Handler) Total() int64 {
	return h.total.Load()
}

// Capacity returns the configured maximum buffer size
func (h *Handler) Capacity() int {
	return h.ring.Cap()
}

// Len returns the number of currently buffered messages
func (h *Handler) Len() int {
	return h.ring.Len()
}

// Clear resets the total and empties the buffer. Ingestion continues afterwards.
func (h *Handler) Clear() {
	h.total.Store(0)
	h.ring.Clear()
}

// LastReadTime is the millisecond timestamp of the last Query, -1 if never read
func (h *Handler) LastReadTime() int64 {
	return h.lastReadTime.Load()
}

// LastMessageTime is the millisecond timestamp of the last Ingest, -1 if none
func (h *Handler) LastMessageTime() int64 {
	return h.lastMessageTime.Load()
}

// NewestWriteTime is the write time of the newest buffered message, -1 when empty
func (h *Handler) NewestWriteTime() int64 {
	if msg, ok := h.ring.Newest(); ok {
		return msg.WriteTime
	}
	return -1
}
