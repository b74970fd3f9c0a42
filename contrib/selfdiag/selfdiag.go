// Package selfdiag periodically samples this process's own resource
// usage — goroutines, heap, and CPU — and reports threshold breaches as
// log records through a transport.Transport, so the same query/sink
// machinery that handles application logs also carries this module's
// internal health signal.
package selfdiag

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"logtransport/record"
	"logtransport/transport"
)

func currentPID() int { return os.Getpid() }

// Config controls sampling interval and alert thresholds. A zero
// threshold disables that particular check.
type Config struct {
	CheckInterval      time.Duration
	GoroutineThreshold int
	MemoryThresholdMB  int64
}

// DefaultConfig samples every 30s with no thresholds armed.
func DefaultConfig() Config {
	return Config{CheckInterval: 30 * time.Second}
}

// Snapshot is one resource sample.
type Snapshot struct {
	Timestamp     time.Time
	Goroutines    int
	MemoryAllocMB int64
	HeapObjects   uint64
	CPUPercent    float64
}

// Monitor samples process resource usage on a ticker and logs both
// routine snapshots (DEBUG) and threshold breaches (WARN) to sink.
type Monitor struct {
	cfg    Config
	sink   transport.Transport
	proc   *process.Process
	mu     sync.Mutex
	last   Snapshot
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Monitor for the current process.
func New(cfg Config, sink transport.Transport) (*Monitor, error) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	proc, err := process.NewProcess(int32(currentPID()))
	if err != nil {
		return nil, fmt.Errorf("selfdiag: %w", err)
	}
	return &Monitor{cfg: cfg, sink: sink, proc: proc}, nil
}

// Start begins sampling until ctx is canceled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop cancels sampling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.collect()
			m.mu.Lock()
			m.last = snap
			m.mu.Unlock()

			m.sink.Log(record.New("DEBUG", "resource snapshot").
				WithMeta("goroutines", snap.Goroutines).
				WithMeta("memory_alloc_mb", snap.MemoryAllocMB).
				WithMeta("cpu_percent", snap.CPUPercent))

			m.checkThresholds(snap)
		}
	}
}

func (m *Monitor) collect() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	cpuPercent, _ := m.proc.CPUPercent()

	return Snapshot{
		Timestamp:     time.Now().UTC(),
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: int64(memStats.Alloc / 1024 / 1024),
		HeapObjects:   memStats.HeapObjects,
		CPUPercent:    cpuPercent,
	}
}

func (m *Monitor) checkThresholds(snap Snapshot) {
	if m.cfg.GoroutineThreshold > 0 && snap.Goroutines > m.cfg.GoroutineThreshold {
		m.sink.Log(record.New("WARN", fmt.Sprintf(
			"goroutine count %d exceeded threshold %d", snap.Goroutines, m.cfg.GoroutineThreshold)).
			WithMeta("alert_type", "goroutine").
			WithMeta("current_value", snap.Goroutines).
			WithMeta("threshold", m.cfg.GoroutineThreshold))
	}
	if m.cfg.MemoryThresholdMB > 0 && snap.MemoryAllocMB > m.cfg.MemoryThresholdMB {
		m.sink.Log(record.New("WARN", fmt.Sprintf(
			"memory usage %dMB exceeded threshold %dMB", snap.MemoryAllocMB, m.cfg.MemoryThresholdMB)).
			WithMeta("alert_type", "memory").
			WithMeta("current_value", snap.MemoryAllocMB).
			WithMeta("threshold", m.cfg.MemoryThresholdMB))
	}
}

// LastSnapshot returns the most recently collected sample.
func (m *Monitor) LastSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
