// Package metrics periodically logs the memory and CPU footprint of the
// import so operators can confirm memory stays flat on large inputs.
package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot holds one sample of process metrics
type Snapshot struct {
	RSSBytes          uint64  // resident set size of this process
	HeapBytes         uint64  // Go heap in use
	ProcessCPUPercent float64 // can exceed 100% on multi-core
	SystemMemPercent  float64
	Goroutines        int
	Timestamp         time.Time
}

// Collector periodically collects and logs process metrics
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	mu       sync.RWMutex
	last     *Snapshot
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	// A nil handle only disables the process-level fields
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// Start samples immediately and then every interval until ctx is done
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log(c.Collect())

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.log(c.Collect())
		}
	}
}

// Last returns the most recent snapshot, or nil before the first sample
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Collect takes a snapshot and stores it as the latest
func (c *Collector) Collect() *Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := &Snapshot{
		HeapBytes:  ms.HeapInuse,
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}

	if c.proc != nil {
		if info, err := c.proc.MemoryInfo(); err == nil {
			s.RSSBytes = info.RSS
		}
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		s.SystemMemPercent = vmem.UsedPercent
	}

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	return s
}

func (c *Collector) log(s *Snapshot) {
	c.logger.Info("Process metrics",
		zap.String("rss", formatMB(s.RSSBytes)),
		zap.String("heap", formatMB(s.HeapBytes)),
		zap.Float64("proc_cpu", s.ProcessCPUPercent),
		zap.Float64("sys_mem_pct", s.SystemMemPercent),
		zap.Int("goroutines", s.Goroutines),
	)
}

// formatMB formats a byte count as megabytes with one decimal place
func formatMB(b uint64) string {
	return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
}
