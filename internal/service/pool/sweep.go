package pool

import (
	"time"
)

// SweepResult describes one entry evicted by Sweep
type SweepResult struct {
	Key  Key
	Idle time.Duration
	Err  error
}

// Sweep kills every entry idle for longer than threshold.
// Idle time is read with peek semantics and re-checked under the pool lock before removal,
// so an entry read concurrently survives. Shutdown errors are reported, never fatal.
func (p *ConsumerPool) Sweep(threshold time.Duration) []SweepResult {
	var results []SweepResult

	for _, snap := range p.ListAll() {
		p.mu.Lock()
		s, ok := p.slots[snap.Key]
		if !ok || !s.isReady() || s.entry.Peek() != snap.Entry {
			p.mu.Unlock()
			continue
		}
		idle := s.entry.IdleFor()
		if idle <= threshold {
			p.mu.Unlock()
			continue
		}
		delete(p.slots, snap.Key)
		p.mu.Unlock()

		err := p.shutdown(snap.Key, snap.Entry)
		p.logger.Info().
			Str("key", snap.Key.String()).
			Dur("idle", idle).
			Msg("Idle consumer evicted")
		results = append(results, SweepResult{Key: snap.Key, Idle: idle, Err: err})
	}
	return results
}
