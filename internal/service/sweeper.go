package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"kadmin/internal/service/pool"
)

const (
	// DefaultSweepInterval is how often idle consumers are looked for
	DefaultSweepInterval = time.Hour
	// DefaultIdleThreshold is how long a consumer may go unread before it is evicted
	DefaultIdleThreshold = 15 * time.Minute
)

// SweepReport is the outcome of one sweep
type SweepReport struct {
	StartedAt  int64    `json:"started_at"`
	DurationMS int64    `json:"duration_ms"`
	Evicted    []string `json:"evicted"`
	Failed     int      `json:"failed"`
	Manual     bool     `json:"manual"`
}

// SweepStats summarizes the sweeper state
type SweepStats struct {
	Running      bool         `json:"running"`
	Interval     string       `json:"interval"`
	Threshold    string       `json:"threshold"`
	Runs         int64        `json:"runs"`
	TotalEvicted int64        `json:"total_evicted"`
	NextRunAt    int64        `json:"next_run_at"`
	LastRun      *SweepReport `json:"last_run,omitempty"`
}

// Sweeper evicts idle consumers from the pool on a cron schedule
type Sweeper struct {
	pool   *pool.ConsumerPool
	cron   *cron.Cron
	logger zerolog.Logger

	mu        sync.RWMutex
	entryID   cron.EntryID
	interval  time.Duration
	threshold time.Duration
	running   bool
	runs      int64
	evicted   int64
	lastRun   *SweepReport

	// serializes sweeps so a manual run never overlaps a scheduled one
	runMu sync.Mutex
}

// NewSweeper creates a sweeper; non-positive durations fall back to the defaults
func NewSweeper(p *pool.ConsumerPool, interval, threshold time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	logger := GetLogger("sweeper")
	cl := cronLogger{logger: logger}
	return &Sweeper{
		pool:      p,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Start schedules the sweep and starts the cron runner
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	if err := s.scheduleLocked(); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("threshold", s.threshold).
		Msg("Sweeper started")
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Sweeper stopped")
}

// Update changes interval and threshold; a running schedule is replaced
func (s *Sweeper) Update(interval, threshold time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	if interval == s.interval && threshold == s.threshold {
		return nil
	}

	s.threshold = threshold
	if interval != s.interval {
		s.interval = interval
		if err := s.scheduleLocked(); err != nil {
			return err
		}
	}

	s.logger.Info().
		Dur("interval", interval).
		Dur("threshold", threshold).
		Msg("Sweeper settings updated")
	return nil
}

func (s *Sweeper) scheduleLocked() error {
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.run(false)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.entryID = id
	return nil
}

// RunNow sweeps immediately and returns the report
func (s *Sweeper) RunNow() SweepReport {
	return s.run(true)
}

// Threshold returns the current idle threshold
func (s *Sweeper) Threshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

func (s *Sweeper) run(manual bool) SweepReport {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	threshold := s.Threshold()
	start := time.Now()
	results := s.pool.Sweep(threshold)

	report := SweepReport{
		StartedAt: start.UnixMilli(),
		Evicted:   make([]string, 0, len(results)),
		Manual:    manual,
	}
	for _, r := range results {
		report.Evicted = append(report.Evicted, r.Key.String())
		if r.Err != nil {
			report.Failed++
		}
	}
	report.DurationMS = time.Since(start).Milliseconds()

	s.mu.Lock()
	s.runs++
	s.evicted += int64(len(results))
	last := report
	s.lastRun = &last
	s.mu.Unlock()

	s.logger.Info().
		Bool("manual", manual).
		Int("evicted", len(results)).
		Int("failed", report.Failed).
		Int("remaining", s.pool.Len()).
		Dur("threshold", threshold).
		Msg("Idle sweep finished")
	return report
}

// Stats returns the sweeper state
func (s *Sweeper) Stats() SweepStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SweepStats{
		Running:      s.running,
		Interval:     s.interval.String(),
		Threshold:    s.threshold.String(),
		Runs:         s.runs,
		TotalEvicted: s.evicted,
		LastRun:      s.lastRun,
	}
	if s.running && s.entryID != 0 {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			stats.NextRunAt = next.UnixMilli()
		}
	}
	return stats
}
