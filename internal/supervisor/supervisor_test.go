package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/fetchd/internal/eventlog"
	"github.com/loykin/fetchd/internal/state"
)

type fixture struct {
	sup    *Supervisor
	store  *state.Store
	events *eventlog.Logger
	path   string // event log path
	codes  *[]int // recorded exit codes
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	eventPath := filepath.Join(dir, "events.log")
	events, err := eventlog.New(eventPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	st := state.New(filepath.Join(dir, "state.json"), filepath.Join(dir, "fetchd.pid"))
	cleanup := NewCleanupManager(filepath.Join(dir, "tmp"), nil)

	sup := New(cfg, events, st, cleanup)
	codes := &[]int{}
	sup.exit = func(c int) { *codes = append(*codes, c) }
	sup.sleep = func(time.Duration) {}

	return &fixture{sup: sup, store: st, events: events, path: eventPath, codes: codes}
}

func defaultConfig() Config {
	return Config{
		MaxRestarts:           5,
		Cooldown:              time.Minute,
		CriticalErrorPatterns: DefaultCriticalPatterns(),
		MemoryWarnMB:          512,
		MemoryCriticalMB:      1024,
		MemorySampleInterval:  time.Second,
	}
}

func countEvents(t *testing.T, path, typ string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	count := 0
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		if e["type"] == typ {
			count++
		}
	}
	return count
}

func TestRequestRestartInitiatesAndExitsZero(t *testing.T) {
	f := newFixture(t, defaultConfig())

	f.sup.RequestRestart("critical error: ENOSPC")

	require.Equal(t, []int{0}, *f.codes)
	assert.Equal(t, 1, f.sup.Status().RestartCount)
	assert.True(t, f.sup.ShuttingDown())
	assert.Equal(t, 1, countEvents(t, f.path, "restart_initiated"))

	// Bookkeeping survived to disk and reloads with the same count.
	st, ok := f.store.Load()
	require.True(t, ok)
	assert.Equal(t, 1, st.RestartCount)
	assert.Greater(t, st.LastRestartMs, int64(0))

	// Pid file written as part of the save.
	pid, err := state.ReadPIDFile(f.store.PIDPath())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRequestRestartAtLimitExitsOne(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.sup.Restore(state.RestartState{
		RestartCount:  5,
		LastRestartMs: time.Now().Add(-2 * time.Hour).UnixMilli(),
	})

	f.sup.RequestRestart("critical error: ENOSPC")

	require.Equal(t, []int{1}, *f.codes)
	assert.Equal(t, 5, f.sup.Status().RestartCount)
	assert.Equal(t, 1, countEvents(t, f.path, "restart_limit"))
	assert.Equal(t, 1, countEvents(t, f.path, "graceful_shutdown"))
	assert.Equal(t, 0, countEvents(t, f.path, "restart_initiated"))
}

func TestRequestRestartBlockedByCooldown(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.sup.Restore(state.RestartState{
		RestartCount:  1,
		LastRestartMs: time.Now().Add(-10 * time.Second).UnixMilli(),
	})

	f.sup.RequestRestart("flapping condition")

	assert.Empty(t, *f.codes, "blocked request must not exit")
	assert.False(t, f.sup.ShuttingDown())
	assert.Equal(t, 1, f.sup.Status().RestartCount, "counters unchanged")
	assert.Equal(t, 1, countEvents(t, f.path, "restart_blocked"))
	assert.Equal(t, 0, countEvents(t, f.path, "restart_initiated"))
}

func TestCooldownElapsedAllowsRestart(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.sup.Restore(state.RestartState{
		RestartCount:  1,
		LastRestartMs: time.Now().Add(-2 * time.Minute).UnixMilli(),
	})

	f.sup.RequestRestart("critical error: ENOMEM")

	require.Equal(t, []int{0}, *f.codes)
	assert.Equal(t, 2, f.sup.Status().RestartCount)
}

func TestShutdownLatchIsOneWay(t *testing.T) {
	f := newFixture(t, defaultConfig())

	f.sup.RequestRestart("first trigger")
	require.Equal(t, []int{0}, *f.codes)

	// Later triggers observe the latch and become no-ops.
	f.sup.RequestRestart("second trigger")
	f.sup.GracefulShutdown("SIGTERM")

	assert.Equal(t, []int{0}, *f.codes, "no further exits")
	assert.Equal(t, 1, countEvents(t, f.path, "restart_initiated"))
	assert.Equal(t, 0, countEvents(t, f.path, "graceful_shutdown"))
	assert.Equal(t, 1, f.sup.Status().RestartCount)
}

func TestGracefulShutdownExitCodes(t *testing.T) {
	tests := []struct {
		cause string
		code  int
	}{
		{"SIGTERM", 0},
		{"SIGINT", 0},
		{CauseMaxRestarts, 1},
	}
	for _, tt := range tests {
		t.Run(tt.cause, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			f.sup.GracefulShutdown(tt.cause)
			require.Equal(t, []int{tt.code}, *f.codes)
			assert.Equal(t, 1, countEvents(t, f.path, "graceful_shutdown"))
		})
	}
}

func TestGracefulShutdownIdempotent(t *testing.T) {
	f := newFixture(t, defaultConfig())

	f.sup.GracefulShutdown("SIGTERM")
	f.sup.GracefulShutdown("SIGINT")
	f.sup.RequestRestart("late trigger")

	assert.Equal(t, []int{0}, *f.codes)
	assert.Equal(t, 1, countEvents(t, f.path, "graceful_shutdown"))
	assert.Equal(t, 0, countEvents(t, f.path, "restart_initiated"))
}

func TestGracefulShutdownRemovesPIDFile(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.NoError(t, f.store.WritePIDFile())

	f.sup.GracefulShutdown("SIGTERM")

	_, err := os.Stat(f.store.PIDPath())
	assert.True(t, os.IsNotExist(err), "pid file should be removed")
}

func TestCoordinatorRoutesCriticalError(t *testing.T) {
	f := newFixture(t, defaultConfig())
	coord := NewCoordinator(f.sup, NewClassifier(DefaultCriticalPatterns()), f.events)

	coord.HandleError(fmt.Errorf("write chunk: %w", syscall.ENOSPC))

	require.Equal(t, []int{0}, *f.codes)
	assert.Equal(t, 1, f.sup.Status().RestartCount)
	assert.Equal(t, 1, countEvents(t, f.path, "critical_error"))
	assert.Equal(t, 1, countEvents(t, f.path, "restart_initiated"))
}

func TestCoordinatorLogsNonCriticalAndContinues(t *testing.T) {
	f := newFixture(t, defaultConfig())
	coord := NewCoordinator(f.sup, NewClassifier(DefaultCriticalPatterns()), f.events)

	coord.HandleError(fmt.Errorf("transient parse failure"))

	assert.Empty(t, *f.codes, "non-critical errors never exit")
	assert.False(t, f.sup.ShuttingDown())
	assert.Equal(t, 1, countEvents(t, f.path, "uncaught_error"))
}

func TestCoordinatorRecoversPanicThroughIngestion(t *testing.T) {
	f := newFixture(t, defaultConfig())
	coord := NewCoordinator(f.sup, NewClassifier(DefaultCriticalPatterns()), f.events)

	func() {
		defer coord.Recover()
		panic("unexpected state")
	}()

	assert.Equal(t, 1, countEvents(t, f.path, "uncaught_error"))
	assert.False(t, f.sup.ShuttingDown())
}

func TestLoggingFailureForcesExit(t *testing.T) {
	f := newFixture(t, defaultConfig())
	coord := NewCoordinator(f.sup, NewClassifier(DefaultCriticalPatterns()), f.events)

	// Close the event log so the next write fails while handling an error.
	require.NoError(t, f.events.Close())

	coord.HandleError(fmt.Errorf("write chunk: %w", syscall.ENOSPC))

	require.Equal(t, []int{1}, *f.codes, "logging distrust forces exit code 1")
	assert.True(t, f.sup.ShuttingDown())
}

func TestRestoreSeedsCounters(t *testing.T) {
	f := newFixture(t, defaultConfig())
	last := time.Now().Add(-3 * time.Hour)
	f.sup.Restore(state.RestartState{RestartCount: 3, LastRestartMs: last.UnixMilli()})

	st := f.sup.Status()
	assert.Equal(t, 3, st.RestartCount)
	assert.WithinDuration(t, last, st.LastRestart, time.Second)
}
