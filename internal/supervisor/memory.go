package supervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/fetchd/internal/eventlog"
	"github.com/loykin/fetchd/internal/metrics"
)

// restartRequester is the narrow slice of the supervisor the monitor needs.
// The monitor never restarts anything itself; it only requests.
type restartRequester interface {
	RequestRestart(reason string)
}

// Monitor samples process memory on a fixed interval and feeds readings to
// the restart policy. Heap figures come from runtime.MemStats; RSS comes
// from a gopsutil handle on our own pid.
type Monitor struct {
	warnMB     int
	criticalMB int
	interval   time.Duration
	events     *eventlog.Logger
	policy     restartRequester
	clk        clock.Clock
	proc       *process.Process

	// onSample, when set, observes every snapshot taken (used by the facade
	// to feed the supervisor's status and by tests).
	onSample func(eventlog.Snapshot)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMonitor(cfg Config, events *eventlog.Logger, policy restartRequester) *Monitor {
	interval := cfg.MemorySampleInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &Monitor{
		warnMB:     cfg.MemoryWarnMB,
		criticalMB: cfg.MemoryCriticalMB,
		interval:   interval,
		events:     events,
		policy:     policy,
		clk:        clock.New(),
		stopCh:     make(chan struct{}),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

// SetOnSample registers an observer for every taken snapshot.
func (m *Monitor) SetOnSample(fn func(eventlog.Snapshot)) { m.onSample = fn }

// Start launches the sampling loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := m.clk.Ticker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.check(m.Sample())
			}
		}
	}()
}

// Stop terminates the sampling loop and waits for it to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Sample takes a memory snapshot of the current process.
func (m *Monitor) Sample() eventlog.Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap := eventlog.Snapshot{
		HeapUsedMB:  float64(ms.HeapAlloc) / 1024 / 1024,
		HeapTotalMB: float64(ms.HeapSys) / 1024 / 1024,
		StackMB:     float64(ms.StackSys) / 1024 / 1024,
	}
	if m.proc != nil {
		if mi, err := m.proc.MemoryInfo(); err == nil {
			snap.RSSMB = float64(mi.RSS) / 1024 / 1024
		}
	}
	return snap
}

// check applies the warn/critical thresholds to one snapshot. Crossing the
// critical threshold issues a restart request carrying the measured value;
// crossing only the warn threshold emits a non-fatal high_memory event.
func (m *Monitor) check(snap eventlog.Snapshot) {
	metrics.SetMemory(snap.HeapUsedMB, snap.RSSMB)
	if m.onSample != nil {
		m.onSample(snap)
	}
	heapUsed := int(snap.HeapUsedMB)
	if m.criticalMB > 0 && heapUsed > m.criticalMB {
		m.policy.RequestRestart(fmt.Sprintf("heap used %dMB exceeds critical threshold %dMB", heapUsed, m.criticalMB))
		return
	}
	if m.warnMB > 0 && heapUsed > m.warnMB {
		_ = m.events.Log("high_memory", map[string]any{
			"heap_used_mb": heapUsed,
			"warn_mb":      m.warnMB,
			"rss_mb":       int(snap.RSSMB),
		})
	}
}
