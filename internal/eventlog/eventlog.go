// Package eventlog writes the daemon's supervision events as one JSON
// object per line. The file is append-only so events survive the abrupt
// exits the supervisor performs on purpose.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Snapshot is a point-in-time memory reading attached to every entry.
type Snapshot struct {
	HeapUsedMB  float64 `json:"heap_used_mb"`
	HeapTotalMB float64 `json:"heap_total_mb"`
	RSSMB       float64 `json:"rss_mb"`
	StackMB     float64 `json:"stack_mb"`
}

// RuntimeSnapshot samples the Go runtime's own memory statistics. It has no
// RSS figure; callers that need one use the memory monitor instead.
func RuntimeSnapshot() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Snapshot{
		HeapUsedMB:  float64(ms.HeapAlloc) / 1024 / 1024,
		HeapTotalMB: float64(ms.HeapSys) / 1024 / 1024,
		StackMB:     float64(ms.StackSys) / 1024 / 1024,
	}
}

// Entry is one logged event.
type Entry struct {
	Timestamp     time.Time      `json:"timestamp"`
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	PID           int            `json:"pid"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Memory        Snapshot       `json:"memory"`
}

// Logger appends entries to a single NDJSON file. It is safe for
// concurrent use.
type Logger struct {
	mu    sync.Mutex
	f     *os.File
	start time.Time

	now    func() time.Time
	sample func() Snapshot
}

// New opens (or creates) the event log at path, creating parent
// directories as needed. The file is always opened in append mode.
func New(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create event log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Logger{
		f:      f,
		start:  time.Now(),
		now:    time.Now,
		sample: RuntimeSnapshot,
	}, nil
}

// SetSampler replaces the memory sampler attached to each entry.
func (l *Logger) SetSampler(fn func() Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sample = fn
}

// Uptime reports how long this logger (and in practice the process) has
// been up.
func (l *Logger) Uptime() time.Duration { return time.Since(l.start) }

// Log appends one event. Write failures are returned to the caller: the
// shutdown coordinator treats a failing event log as grounds to stop
// trusting the process entirely.
func (l *Logger) Log(typ string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("event log is closed")
	}
	e := Entry{
		Timestamp:     l.now(),
		Type:          typ,
		Data:          data,
		PID:           os.Getpid(),
		UptimeSeconds: l.now().Sub(l.start).Seconds(),
		Memory:        l.sample(),
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := l.f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Sync flushes the underlying file to stable storage.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.f.Sync()
}

// Close closes the log file. Subsequent Log calls return an error.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
