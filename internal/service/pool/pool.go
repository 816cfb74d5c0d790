package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kadmin/internal/service/buffer"
	"kadmin/internal/session"
)

// ErrPoolClosed is returned by GetOrCreate after Close
var ErrPoolClosed = errors.New("consumer pool closed")

// Entry is a pooled session together with the buffer it delivers into
type Entry struct {
	Session   session.Session
	Handler   *buffer.Handler
	CreatedAt int64
}

// Snapshot is a read-only view of a pooled entry
type Snapshot struct {
	Key          Key
	Entry        *Entry
	LastAccessed int64
}

// slot is a pool position. ready is closed once creation finished, entry or err is set then.
type slot struct {
	ready chan struct{}
	entry *TimedEntry[*Entry]
	err   error
}

func (s *slot) isReady() bool {
	select {
	case <-s.ready:
		return s.err == nil
	default:
		return false
	}
}

// ConsumerPool lazily creates one session per key.
// At most one creation per key is in flight; concurrent callers wait for it.
type ConsumerPool struct {
	mu          sync.Mutex
	slots       map[Key]*slot
	closed      bool
	now         func() time.Time
	handlerOpts []buffer.Option
	logger      zerolog.Logger
}

// Option configures a ConsumerPool
type Option func(*ConsumerPool)

// WithClock sets the clock used for access times and buffered message timestamps
func WithClock(now func() time.Time) Option {
	return func(p *ConsumerPool) {
		if now != nil {
			p.now = now
			p.handlerOpts = append(p.handlerOpts, buffer.WithClock(now))
		}
	}
}

// New creates an empty pool
func New(opts ...Option) *ConsumerPool {
	p := &ConsumerPool{
		slots:  make(map[Key]*slot),
		now:    time.Now,
		logger: log.With().Str("component", "pool").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreate returns the entry for key, creating its session and buffer on a miss.
// A hit marks the entry accessed. capacity only applies to a newly created buffer.
func (p *ConsumerPool) GetOrCreate(ctx context.Context, key Key, capacity int, factory session.Factory) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if s, ok := p.slots[key]; ok {
			if s.isReady() {
				entry := s.entry.Access()
				p.mu.Unlock()
				return entry, nil
			}
			p.mu.Unlock()

			select {
			case <-s.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if s.err != nil {
				return nil, s.err
			}
			// re-check under the lock; the entry may have been killed meanwhile
			continue
		}

		s := &slot{ready: make(chan struct{})}
		p.slots[key] = s
		p.mu.Unlock()

		return p.create(ctx, key, s, capacity, factory)
	}
}

func (p *ConsumerPool) create(ctx context.Context, key Key, s *slot, capacity int, factory session.Factory) (*Entry, error) {
	handler := buffer.NewHandler(capacity, p.handlerOpts...)
	sess, err := createSession(ctx, key, factory, handler.Ingest)

	p.mu.Lock()
	if err != nil {
		s.err = fmt.Errorf("create session for %s: %w", key, err)
		if p.slots[key] == s {
			delete(p.slots, key)
		}
		close(s.ready)
		p.mu.Unlock()

		p.logger.Warn().Err(err).Str("key", key.String()).Msg("Session creation failed")
		return nil, s.err
	}

	entry := &Entry{
		Session:   sess,
		Handler:   handler,
		CreatedAt: p.now().UnixMilli(),
	}
	s.entry = NewTimedEntry(entry, p.now)
	close(s.ready)
	closed := p.closed
	if closed && p.slots[key] == s {
		delete(p.slots, key)
	}
	p.mu.Unlock()

	if closed {
		p.shutdown(key, entry)
		return nil, ErrPoolClosed
	}

	p.logger.Info().
		Str("key", key.String()).
		Str("group_id", sess.GroupID()).
		Int("capacity", handler.Capacity()).
		Msg("Consumer session created")
	return entry, nil
}

// createSession runs the factory, turning a panic into an error so the slot is always resolved
func createSession(ctx context.Context, key Key, factory session.Factory, deliver session.DeliverFunc) (sess session.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess = nil
			err = fmt.Errorf("session factory panicked: %v", r)
		}
	}()
	return factory.Create(ctx, key.SessionConfig(), deliver)
}

// Peek returns the entry for key without marking it accessed
func (p *ConsumerPool) Peek(key Key) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[key]
	if !ok || !s.isReady() {
		return nil, false
	}
	return s.entry.Peek(), true
}

// Remove drops the entry from the pool without shutting it down
func (p *ConsumerPool) Remove(key Key) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(key)
}

func (p *ConsumerPool) removeLocked(key Key) (*Entry, bool) {
	s, ok := p.slots[key]
	if !ok || !s.isReady() {
		return nil, false
	}
	delete(p.slots, key)
	return s.entry.Peek(), true
}

// ClearBuffer empties the buffer of key and resets its total; the session keeps running
func (p *ConsumerPool) ClearBuffer(key Key) bool {
	entry, ok := p.Peek(key)
	if !ok {
		return false
	}
	entry.Handler.Clear()
	return true
}

// Kill removes key from the pool, then shuts its session down, then clears its buffer.
// Entries still being created are not killed.
func (p *ConsumerPool) Kill(key Key) bool {
	entry, ok := p.Remove(key)
	if !ok {
		return false
	}
	p.shutdown(key, entry)
	return true
}

func (p *ConsumerPool) shutdown(key Key, entry *Entry) error {
	err := shutdownSession(entry.Session)
	if err != nil {
		p.logger.Error().Err(err).Str("key", key.String()).Msg("Session shutdown failed")
	}
	entry.Handler.Clear()
	return err
}

// shutdownSession stops sess, reporting a panic as an error
func shutdownSession(sess session.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session shutdown panicked: %v", r)
		}
	}()
	return sess.Shutdown()
}

// ListAll returns every ready entry ordered by key without touching access times
func (p *ConsumerPool) ListAll() []Snapshot {
	p.mu.Lock()
	out := make([]Snapshot, 0, len(p.slots))
	for k, s := range p.slots {
		if !s.isReady() {
			continue
		}
		out = append(out, Snapshot{
			Key:          k,
			Entry:        s.entry.Peek(),
			LastAccessed: s.entry.LastAccessed(),
		})
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Keys returns the keys of every ready entry
func (p *ConsumerPool) Keys() []Key {
	snaps := p.ListAll()
	keys := make([]Key, len(snaps))
	for i, s := range snaps {
		keys[i] = s.Key
	}
	return keys
}

// Len returns the number of ready entries
func (p *ConsumerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.isReady() {
			n++
		}
	}
	return n
}

// Close kills every entry. Creations still in flight are shut down when they finish.
func (p *ConsumerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for _, k := range p.Keys() {
		p.Kill(k)
	}
	p.logger.Info().Msg("Consumer pool closed")
}
