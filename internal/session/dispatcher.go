package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerSettings tune the per-broker circuit breakers
type BreakerSettings struct {
	// MinRequests is how many attempts a window needs before the ratio is considered
	MinRequests uint32
	// FailureRatio trips the breaker once reached
	FailureRatio float64
	// OpenTimeout is how long a tripped breaker rejects before probing again
	OpenTimeout time.Duration
	// Interval resets the closed-state counts
	Interval time.Duration
}

// DefaultBreakerSettings trips after 3 attempts with at least 60% failures, for 30s
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  3,
		FailureRatio: 0.6,
		OpenTimeout:  30 * time.Second,
		Interval:     time.Minute,
	}
}

// Dispatcher routes session creation to a backend by broker URL scheme
type Dispatcher struct {
	mu       sync.Mutex
	backends map[string]Factory
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(settings BreakerSettings) *Dispatcher {
	return &Dispatcher{
		backends: make(map[string]Factory),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
	}
}

// NewDefaultDispatcher registers the kafka, pulsar and redis backends
func NewDefaultDispatcher(settings BreakerSettings) *Dispatcher {
	d := NewDispatcher(settings)
	d.Register("kafka", NewKafkaFactory(nil))
	d.Register("pulsar", NewPulsarFactory())
	d.Register("pulsar+ssl", NewPulsarFactory())
	d.Register("redis", NewRedisFactory())
	d.Register("rediss", NewRedisFactory())
	return d
}

// Register binds a backend to a scheme, replacing any previous one
func (d *Dispatcher) Register(scheme string, f Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[scheme] = f
}

// Schemes returns the registered schemes
func (d *Dispatcher) Schemes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.backends))
	for s := range d.backends {
		out = append(out, s)
	}
	return out
}

// Create picks the backend for cfg.BrokerURL and creates a session through its breaker
func (d *Dispatcher) Create(ctx context.Context, cfg Config, deliver DeliverFunc) (Session, error) {
	scheme := Scheme(cfg.BrokerURL)

	d.mu.Lock()
	backend, ok := d.backends[scheme]
	var cb *gobreaker.CircuitBreaker
	if ok {
		cb = d.breakerLocked(cfg.BrokerURL)
	}
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	out, err := cb.Execute(func() (interface{}, error) {
		return backend.Create(ctx, cfg, deliver)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v", ErrBrokerUnavailable, cfg.BrokerURL, err)
		}
		return nil, err
	}
	return out.(Session), nil
}

// BreakerState reports the breaker state for a broker, "closed" when none exists yet
func (d *Dispatcher) BreakerState(brokerURL string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[brokerURL]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

func (d *Dispatcher) breakerLocked(brokerURL string) *gobreaker.CircuitBreaker {
	if cb, ok := d.breakers[brokerURL]; ok {
		return cb
	}

	settings := d.settings
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        brokerURL,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// caller-side problems say nothing about broker health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "session").
				Str("broker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Broker circuit breaker state changed")
		},
	})
	d.breakers[brokerURL] = cb
	return cb
}
