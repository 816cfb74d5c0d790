package core

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is a point-in-time view of the host and this process
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	Cores         int     `json:"cores"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemPercent    float64 `json:"mem_percent"`
	HeapBytes     uint64  `json:"heap_bytes"`
	Goroutines    int     `json:"goroutines"`
	CollectedAt   int64   `json:"collected_at"`
}

// HostStatsCollector samples host stats, caching the result for a short while
type HostStatsCollector struct {
	mu       sync.Mutex
	ttl      time.Duration
	last     *HostStats
	lastTime time.Time
}

// NewHostStatsCollector creates a collector reusing a sample for ttl
func NewHostStatsCollector(ttl time.Duration) *HostStatsCollector {
	return &HostStatsCollector{ttl: ttl}
}

// Collect returns fresh stats, or the cached sample when it is younger than ttl.
// Readings that fail leave their fields zero.
func (c *HostStatsCollector) Collect() HostStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last != nil && time.Since(c.lastTime) < c.ttl {
		return *c.last
	}

	stats := HostStats{
		Cores:       runtime.NumCPU(),
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now().UnixMilli(),
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		stats.Cores = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemTotalBytes = vm.Total
		stats.MemUsedBytes = vm.Used
		stats.MemPercent = vm.UsedPercent
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.HeapBytes = ms.HeapAlloc

	c.last = &stats
	c.lastTime = time.Now()
	return stats
}
