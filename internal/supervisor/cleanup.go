package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultRemoveTimeout bounds each temp-file removal during emergency
// cleanup.
const DefaultRemoveTimeout = 5 * time.Second

// DefaultTempPatterns matches the partial artifacts the download pipeline
// leaves behind.
var DefaultTempPatterns = []string{"*.part", "*.tmp", "*.download", "*.ytdl"}

// CleanupManager reclaims resources on the way to process exit. Every step
// is best-effort and fault-isolated: a failing step is logged as a warning
// and never prevents the remaining steps, because the process intends to
// terminate regardless of the outcome.
type CleanupManager struct {
	tempDir       string
	patterns      []string
	removeTimeout time.Duration

	mu     sync.Mutex
	caches []func()
}

func NewCleanupManager(tempDir string, patterns []string) *CleanupManager {
	if len(patterns) == 0 {
		patterns = DefaultTempPatterns
	}
	return &CleanupManager{
		tempDir:       tempDir,
		patterns:      patterns,
		removeTimeout: DefaultRemoveTimeout,
	}
}

// RegisterCache adds a process-wide cache clearing function to run during
// emergency cleanup. clear must be safe to call at any time.
func (c *CleanupManager) RegisterCache(clear func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches = append(c.caches, clear)
}

// RunEmergency executes the cleanup sequence: forced GC, registered cache
// clears, bounded temp-file removal. It never returns an error and never
// panics.
func (c *CleanupManager) RunEmergency() {
	c.forceGC()
	c.clearCaches()
	c.removeTempFiles()
}

func (c *CleanupManager) forceGC() {
	defer recoverStep("gc")
	runtime.GC()
	debug.FreeOSMemory()
}

func (c *CleanupManager) clearCaches() {
	c.mu.Lock()
	caches := make([]func(), len(c.caches))
	copy(caches, c.caches)
	c.mu.Unlock()
	for _, clear := range caches {
		func() {
			defer recoverStep("cache")
			clear()
		}()
	}
}

// removeTempFiles lists the temp directory explicitly and removes entries
// matching the recognized name patterns, one bounded attempt per file, so a
// single stuck removal cannot block the rest.
func (c *CleanupManager) removeTempFiles() {
	defer recoverStep("tempfiles")
	if c.tempDir == "" {
		return
	}
	entries, err := os.ReadDir(c.tempDir)
	if err != nil {
		slog.Warn("emergency cleanup: cannot list temp dir", "dir", c.tempDir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !c.matches(e.Name()) {
			continue
		}
		path := filepath.Join(c.tempDir, e.Name())
		if err := c.removeWithTimeout(path); err != nil {
			slog.Warn("emergency cleanup: failed to remove temp file", "path", path, "error", err)
		}
	}
}

func (c *CleanupManager) matches(name string) bool {
	for _, p := range c.patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (c *CleanupManager) removeWithTimeout(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.removeTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- os.Remove(path) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recoverStep(step string) {
	if r := recover(); r != nil {
		slog.Warn("emergency cleanup step panicked", "step", step, "panic", r)
	}
}
