package buffer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "kadmin/internal/model"
)

// stepClock is a settable millisecond clock
type stepClock struct {
	ms atomic.Int64
}

func (c *stepClock) now() time.Time {
	return time.UnixMilli(c.ms.Load())
}

func (c *stepClock) set(ms int64) {
	c.ms.Store(ms)
}

func ingestAt(h *Handler, clock *stepClock, ts int64) {
	clock.set(ts)
	h.Ingest(models.Record{Key: "k", Value: []byte("v"), Topic: "orders", Offset: ts})
}

func TestHandler_TotalIsCapacityIndependent(t *testing.T) {
	clock := &stepClock{}
	h := NewHandler(5, WithClock(clock.now))

	for i := int64(1); i <= 12; i++ {
		ingestAt(h, clock, i)
	}

	assert.Equal(t, int64(12), h.Total())
	assert.Equal(t, 5, h.Len())
	assert.Equal(t, 5, h.Capacity())
}

func TestHandler_ClearResetsTotal(t *testing.T) {
	clock := &stepClock{}
	h := NewHandler(5, WithClock(clock.now))
	for i := int64(1); i <= 3; i++ {
		ingestAt(h, clock, i)
	}

	h.Clear()
	assert.Equal(t, int64(0), h.Total())
	assert.Empty(t, h.Query(-1))

	ingestAt(h, clock, 10)
	assert.Equal(t, int64(1), h.Total())
	assert.Len(t, h.Query(-1), 1)
}

func TestHandler_QueryWindow(t *testing.T) {
	clock := &stepClock{}
	h := NewHandler(50, WithClock(clock.now))
	for i := int64(1); i <= 10; i++ {
		ingestAt(h, clock, i*10)
	}

	all := h.Query(-1)
	require.Len(t, all, 10)

	// query(t) with t = k-th message's time returns exactly the messages after k
	for k := range all {
		got := h.Query(all[k].WriteTime)
		assert.Equal(t, all[k+1:], got, "k=%d", k)
	}

	assert.Len(t, h.Query(0), 10)
	assert.Empty(t, h.Query(100))
	assert.Equal(t, 5, h.Count(50))
	assert.Equal(t, 10, h.Count(-1))
}

func TestHandler_QueryIsNotDestructive(t *testing.T) {
	clock := &stepClock{}
	h := NewHandler(10, WithClock(clock.now))
	ingestAt(h, clock, 1)
	ingestAt(h, clock, 2)

	first := h.Query(-1)
	second := h.Query(-1)
	assert.Equal(t, first, second)
}

func TestHandler_CapacityFiftySixtyMessages(t *testing.T) {
	clock := &stepClock{}
	h := NewHandler(50, WithClock(clock.now))
	for i := int64(1); i <= 60; i++ {
		ingestAt(h, clock, i)
	}

	got := h.Query(30)
	require.Len(t, got, 30)
	assert.Equal(t, int64(31), got[0].WriteTime)
	assert.Equal(t, int64(60), got[29].WriteTime)

	assert.Equal(t, int64(60), h.Total())
	all := h.Query(-1)
	require.Len(t, all, 50)
	assert.Equal(t, int64(11), all[0].WriteTime)
}

func TestHandler_Timestamps(t *testing.T) {
	clock := &stepClock{}
	h := NewHandler(10, WithClock(clock.now))

	assert.Equal(t, int64(-1), h.LastMessageTime())
	assert.Equal(t, int64(-1), h.LastReadTime())
	assert.Equal(t, int64(-1), h.NewestWriteTime())

	ingestAt(h, clock, 5)
	ingestAt(h, clock, 7)
	assert.Equal(t, int64(7), h.LastMessageTime())
	assert.Equal(t, int64(7), h.NewestWriteTime())

	clock.set(9)
	h.Query(-1)
	assert.Equal(t, int64(9), h.LastReadTime())

	msg := h.Query(-1)[0]
	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, []byte("v"), msg.Payload)
	assert.Equal(t, int64(5), msg.Offset)
}
