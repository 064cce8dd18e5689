package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/fetchd/internal/eventlog"
	"github.com/loykin/fetchd/internal/history"
	"github.com/loykin/fetchd/internal/metrics"
	"github.com/loykin/fetchd/internal/state"
)

// CauseMaxRestarts is the graceful-shutdown cause emitted when the daily
// restart limit is exhausted. It is the only cause that exits with code 1.
const CauseMaxRestarts = "MAX_RESTARTS_REACHED"

// Config is the immutable policy configuration supplied at construction.
type Config struct {
	MaxRestarts           int
	Cooldown              time.Duration
	CriticalErrorPatterns []string
	MemoryWarnMB          int
	MemoryCriticalMB      int
	MemorySampleInterval  time.Duration
	// FlushDelay is the pre-exit pause that lets log writers drain.
	FlushDelay time.Duration
}

// Supervisor owns the restart/shutdown state machine. Every restart or
// shutdown request in the process funnels through RequestRestart or
// GracefulShutdown; the shuttingDown latch guarantees that only the first
// trigger's sequence runs to completion.
//
// The supervisor never re-execs the process. Exiting with code 0 is a
// contract with the hosting process manager (container runtime, systemd
// Restart=on-success) which is expected to relaunch the binary.
type Supervisor struct {
	cfg     Config
	events  *eventlog.Logger
	store   *state.Store
	cleanup *CleanupManager
	hist    history.Sink

	shuttingDown atomic.Bool

	mu           sync.Mutex
	restartCount int
	lastRestart  time.Time
	lastMem      eventlog.Snapshot
	child        *os.Process

	start time.Time
	now   func() time.Time
	exit  func(code int)
	sleep func(d time.Duration)
}

// Status is a read-only snapshot of the supervisor for the status API.
type Status struct {
	RestartCount  int               `json:"restart_count"`
	MaxRestarts   int               `json:"max_restarts"`
	LastRestart   time.Time         `json:"last_restart,omitempty"`
	ShuttingDown  bool              `json:"shutting_down"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	PID           int               `json:"pid"`
	Memory        eventlog.Snapshot `json:"memory"`
}

func New(cfg Config, events *eventlog.Logger, st *state.Store, cleanup *CleanupManager) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		events:  events,
		store:   st,
		cleanup: cleanup,
		start:   time.Now(),
		now:     time.Now,
		exit:    os.Exit,
		sleep:   time.Sleep,
	}
}

// SetHistorySink attaches an optional decision sink. Must be called before
// the supervisor starts receiving requests.
func (s *Supervisor) SetHistorySink(sink history.Sink) { s.hist = sink }

// Restore seeds counters from persisted state, typically the result of
// state.Store.Load at startup.
func (s *Supervisor) Restore(st state.RestartState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartCount = st.RestartCount
	if st.LastRestartMs > 0 {
		s.lastRestart = time.UnixMilli(st.LastRestartMs)
	}
	metrics.SetRestartCount(s.restartCount)
}

// TrackChild registers a child process to signal during graceful shutdown.
func (s *Supervisor) TrackChild(p *os.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.child = p
}

// ObserveMemory records the latest memory sample for status and state
// snapshots. Called by the memory monitor.
func (s *Supervisor) ObserveMemory(snap eventlog.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMem = snap
}

// ShuttingDown reports whether the one-way shutdown latch has been set.
func (s *Supervisor) ShuttingDown() bool { return s.shuttingDown.Load() }

// Status returns a consistent snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		RestartCount:  s.restartCount,
		MaxRestarts:   s.cfg.MaxRestarts,
		LastRestart:   s.lastRestart,
		ShuttingDown:  s.shuttingDown.Load(),
		UptimeSeconds: s.now().Sub(s.start).Seconds(),
		PID:           os.Getpid(),
		Memory:        s.lastMem,
	}
}

// CurrentState builds the RestartState snapshot persisted on every
// restart/shutdown decision.
func (s *Supervisor) CurrentState() state.RestartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentStateLocked()
}

func (s *Supervisor) currentStateLocked() state.RestartState {
	var lastMs int64
	if !s.lastRestart.IsZero() {
		lastMs = s.lastRestart.UnixMilli()
	}
	mem := s.lastMem
	if mem == (eventlog.Snapshot{}) {
		mem = eventlog.RuntimeSnapshot()
	}
	return state.RestartState{
		RestartCount:  s.restartCount,
		LastRestartMs: lastMs,
		Memory:        mem,
		UptimeSeconds: s.now().Sub(s.start).Seconds(),
	}
}

// RequestRestart asks the policy to restart the process for the given
// reason. The checks run strictly in order: latch, cooldown, limit. A
// blocked or limited request leaves the counters untouched.
func (s *Supervisor) RequestRestart(reason string) {
	s.mu.Lock()

	if s.shuttingDown.Load() {
		s.mu.Unlock()
		return
	}

	now := s.now()
	if !s.lastRestart.IsZero() {
		if elapsed := now.Sub(s.lastRestart); elapsed < s.cfg.Cooldown {
			_ = s.events.Log("restart_blocked", map[string]any{
				"reason":       reason,
				"cooldown_ms":  s.cfg.Cooldown.Milliseconds(),
				"remaining_ms": (s.cfg.Cooldown - elapsed).Milliseconds(),
			})
			metrics.IncRestartBlocked()
			s.recordLocked(history.DecisionBlocked, reason)
			s.mu.Unlock()
			return
		}
	}

	if s.restartCount >= s.cfg.MaxRestarts {
		_ = s.events.Log("restart_limit", map[string]any{
			"reason": reason,
			"count":  s.restartCount,
			"max":    s.cfg.MaxRestarts,
		})
		metrics.IncRestartLimit()
		s.recordLocked(history.DecisionLimit, reason)
		s.mu.Unlock()
		s.GracefulShutdown(CauseMaxRestarts)
		return
	}

	// Latch before any blocking operation; later triggers become no-ops.
	s.restartCount++
	s.lastRestart = now
	s.shuttingDown.Store(true)
	count := s.restartCount
	_ = s.events.Log("restart_initiated", map[string]any{
		"reason": reason,
		"count":  count,
		"max":    s.cfg.MaxRestarts,
	})
	metrics.IncRestart()
	metrics.SetRestartCount(count)
	s.recordLocked(history.DecisionInitiated, reason)
	st := s.currentStateLocked()
	s.mu.Unlock()

	s.finishRestart(st)
}

// finishRestart runs cleanup and bookkeeping, then exits. The process must
// terminate even when bookkeeping itself fails: any panic below degrades to
// a forced exit with code 1.
func (s *Supervisor) finishRestart(st state.RestartState) {
	defer func() {
		if r := recover(); r != nil {
			_ = s.events.Log("restart_error", map[string]any{"error": fmt.Sprint(r)})
			s.exit(1)
		}
	}()

	s.cleanup.RunEmergency()
	if err := s.store.Save(st); err != nil {
		// Persistence failure does not stop the exit; next run starts from
		// whatever state survived.
		_ = s.events.Log("state_save_failed", map[string]any{"error": err.Error()})
		slog.Warn("failed to save restart state", "error", err)
	}
	_ = s.events.Sync()
	s.sleep(s.cfg.FlushDelay)
	s.exit(0)
}

// GracefulShutdown drives the terminal exit sequence at most once per
// process lifetime. cause MAX_RESTARTS_REACHED exits 1, everything else 0.
func (s *Supervisor) GracefulShutdown(cause string) {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	_ = s.events.Log("graceful_shutdown", map[string]any{"cause": cause})
	metrics.IncShutdown(cause)

	s.mu.Lock()
	s.recordLocked(history.DecisionShutdown, cause)
	st := s.currentStateLocked()
	child := s.child
	s.mu.Unlock()

	if err := s.store.Save(st); err != nil {
		slog.Warn("failed to save state during shutdown", "error", err)
	}
	if err := s.store.RemovePIDFile(); err != nil {
		slog.Warn("failed to remove pid file", "error", err)
	}
	if child != nil {
		_ = terminateProcess(child)
	}
	runtime.GC()
	_ = s.events.Sync()
	s.sleep(s.cfg.FlushDelay)
	if cause == CauseMaxRestarts {
		s.exit(1)
		return
	}
	s.exit(0)
}

// ForceExit is the logging-distrust escape hatch: best-effort state save,
// then an immediate exit with code 1. No events are written because the
// event log itself is the thing that failed.
func (s *Supervisor) ForceExit() {
	s.shuttingDown.Store(true)
	_ = s.store.Save(s.CurrentState())
	s.exit(1)
}

func (s *Supervisor) recordLocked(d history.Decision, reason string) {
	if s.hist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.hist.Record(ctx, history.Event{
		Decision:     d,
		Reason:       reason,
		RestartCount: s.restartCount,
		PID:          os.Getpid(),
		OccurredAt:   s.now(),
	}); err != nil {
		slog.Warn("failed to record supervisor decision", "decision", string(d), "error", err)
	}
}
