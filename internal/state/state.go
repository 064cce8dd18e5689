// Package state persists the supervisor's restart bookkeeping across
// process lifetimes, plus the conventional pid file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/fetchd/internal/eventlog"
)

// RestartState is the on-disk snapshot written on every restart or
// shutdown decision.
type RestartState struct {
	RestartCount  int               `json:"restart_count"`
	LastRestartMs int64             `json:"last_restart_ms"`
	SavedAt       time.Time         `json:"saved_at"`
	PID           int               `json:"pid"`
	Memory        eventlog.Snapshot `json:"memory"`
	UptimeSeconds float64           `json:"uptime_seconds"`
}

// Store reads and writes the state file and the pid file.
type Store struct {
	statePath string
	pidPath   string

	now func() time.Time
}

func New(statePath, pidPath string) *Store {
	return &Store{statePath: statePath, pidPath: pidPath, now: time.Now}
}

func (s *Store) StatePath() string { return s.statePath }
func (s *Store) PIDPath() string   { return s.pidPath }

// Save writes the state atomically (temp file then rename) and refreshes
// the pid file. SavedAt and PID are stamped here, not by the caller.
func (s *Store) Save(st RestartState) error {
	st.SavedAt = s.now()
	st.PID = os.Getpid()

	if dir := filepath.Dir(s.statePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o640); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return s.WritePIDFile()
}

// Load reads the persisted state. A missing or malformed file is treated
// as no state at all, never as an error. A snapshot saved on an earlier
// calendar day yields zeroed counters; the file itself is left untouched
// until the next Save.
func (s *Store) Load() (RestartState, bool) {
	b, err := os.ReadFile(s.statePath)
	if err != nil {
		return RestartState{}, false
	}
	var st RestartState
	if err := json.Unmarshal(b, &st); err != nil {
		return RestartState{}, false
	}
	if !sameDay(st.SavedAt, s.now()) {
		return RestartState{}, true
	}
	if st.RestartCount < 0 {
		st.RestartCount = 0
	}
	return st, true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// WritePIDFile records the current process id.
func (s *Store) WritePIDFile() error {
	if dir := filepath.Dir(s.pidPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create pid dir: %w", err)
		}
	}
	return os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o640)
}

// RemovePIDFile deletes the pid file. A file that is already gone is not
// an error.
func (s *Store) RemovePIDFile() error {
	if err := os.Remove(s.pidPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPIDFile parses the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}
