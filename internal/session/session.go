// Package session provides consumer sessions against the supported message logs.
//
// A session subscribes to one topic and hands every consumed record to a
// DeliverFunc on its own goroutine until Shutdown is called. Backends are picked
// from the broker URL scheme by a Dispatcher:
//
//	kafka://host:9092 or host:9092   confluent-kafka-go consumer
//	pulsar://host:6650               apache pulsar exclusive subscription
//	redis://host:6379/0              redis stream read with XREAD BLOCK
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	models "kadmin/internal/model"
)

var (
	// ErrUnsupportedScheme is returned for broker URLs no backend is registered for
	ErrUnsupportedScheme = errors.New("unsupported broker scheme")
	// ErrBrokerUnavailable is returned while a broker's circuit breaker is open
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// shutdownWait bounds how long Shutdown waits for the receive loop to exit
const shutdownWait = 10 * time.Second

// DeliverFunc receives every record consumed by a session
type DeliverFunc func(models.Record)

// Config is the configuration a session was created with
type Config struct {
	Topic       string `json:"topic"`
	BrokerURL   string `json:"broker_url"`
	RegistryURL string `json:"registry_url"`
	KeyDecoder  string `json:"key_decoder"`
	DecoderID   string `json:"decoder_id"`
	DecoderName string `json:"decoder_name"`
}

// Session is a live subscription against one topic
type Session interface {
	GroupID() string
	Config() Config
	// Shutdown releases every network and goroutine resource. Safe to call more than once.
	Shutdown() error
}

// Factory creates sessions
type Factory interface {
	Create(ctx context.Context, cfg Config, deliver DeliverFunc) (Session, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, cfg Config, deliver DeliverFunc) (Session, error)

// Create calls f
func (f FactoryFunc) Create(ctx context.Context, cfg Config, deliver DeliverFunc) (Session, error) {
	return f(ctx, cfg, deliver)
}

// NewGroupID returns a fresh consumer group id
func NewGroupID() string {
	return "kadmin-" + uuid.NewString()
}

// Scheme returns the lower-cased scheme of a broker URL, "kafka" when it has none
func Scheme(brokerURL string) string {
	if i := strings.Index(brokerURL, "://"); i > 0 {
		return strings.ToLower(brokerURL[:i])
	}
	return "kafka"
}

// loopSession runs a receive loop on its own goroutine and tears it down once
type loopSession struct {
	groupID string
	cfg     Config
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closeFn func() error
	once    sync.Once
	err     error
	logger  zerolog.Logger
}

func newLoopSession(groupID string, cfg Config, closeFn func() error) *loopSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &loopSession{
		groupID: groupID,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		closeFn: closeFn,
		logger: log.With().
			Str("component", "session").
			Str("group_id", groupID).
			Str("topic", cfg.Topic).
			Logger(),
	}
}

// start runs loop until the session context is canceled
func (s *loopSession) start(loop func(ctx context.Context)) {
	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("Session receive loop panicked")
			}
		}()
		loop(s.ctx)
	}()
	s.logger.Info().Str("broker", s.cfg.BrokerURL).Msg("Session started")
}

func (s *loopSession) GroupID() string {
	return s.groupID
}

func (s *loopSession) Config() Config {
	return s.cfg
}

// Shutdown cancels the loop, waits for it and closes the client
func (s *loopSession) Shutdown() error {
	s.once.Do(func() {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(shutdownWait):
			s.logger.Warn().Dur("waited", shutdownWait).Msg("Receive loop did not stop in time")
		}
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
		s.logger.Info().Err(s.err).Msg("Session shut down")
	})
	return s.err
}

// sleepCtx waits d or until ctx is done; it reports whether ctx is still alive
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
