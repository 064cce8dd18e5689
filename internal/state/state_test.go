package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "state.json"), filepath.Join(dir, "fetchd.pid"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Save(RestartState{RestartCount: 3, LastRestartMs: 1700000000000}))

	st, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, 3, st.RestartCount)
	assert.Equal(t, int64(1700000000000), st.LastRestartMs)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.False(t, st.SavedAt.IsZero())
}

func TestLoadMissingFileIsAbsent(t *testing.T) {
	s := newStore(t)
	_, ok := s.Load()
	assert.False(t, ok)
}

func TestLoadMalformedFileIsAbsent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.StatePath(), []byte("{not json"), 0o640))

	_, ok := s.Load()
	assert.False(t, ok)
}

func TestLoadNegativeCountClamped(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.StatePath(), []byte(`{"restart_count":-2,"saved_at":"2099-01-01T00:00:00Z"}`), 0o640))

	s.now = func() time.Time { return time.Date(2099, 1, 1, 12, 0, 0, 0, time.UTC) }
	st, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, 0, st.RestartCount)
}

func TestDailyReset(t *testing.T) {
	s := newStore(t)
	dayD := time.Date(2026, 8, 30, 15, 0, 0, 0, time.Local)
	s.now = func() time.Time { return dayD }
	require.NoError(t, s.Save(RestartState{RestartCount: 4, LastRestartMs: dayD.Add(-time.Hour).UnixMilli()}))

	// Same calendar day: counters survive.
	s.now = func() time.Time { return dayD.Add(5 * time.Hour) }
	st, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, 4, st.RestartCount)
	assert.NotZero(t, st.LastRestartMs)

	// Next day: counters reset, file untouched.
	s.now = func() time.Time { return dayD.Add(24 * time.Hour) }
	st, ok = s.Load()
	require.True(t, ok)
	assert.Equal(t, 0, st.RestartCount)
	assert.Zero(t, st.LastRestartMs)

	// The file on disk still holds the old values until the next save.
	s.now = func() time.Time { return dayD.Add(6 * time.Hour) }
	st, ok = s.Load()
	require.True(t, ok)
	assert.Equal(t, 4, st.RestartCount)
}

func TestSaveIsAtomicReplacement(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(RestartState{RestartCount: 1}))
	require.NoError(t, s.Save(RestartState{RestartCount: 2}))

	// No temp artifact left behind.
	_, err := os.Stat(s.StatePath() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	st, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, 2, st.RestartCount)
}

func TestPIDFileLifecycle(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WritePIDFile())

	pid, err := ReadPIDFile(s.PIDPath())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, s.RemovePIDFile())
	_, err = os.Stat(s.PIDPath())
	assert.True(t, os.IsNotExist(err))

	// Removing again is not an error.
	assert.NoError(t, s.RemovePIDFile())
}

func TestReadPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o640))
	_, err := ReadPIDFile(path)
	assert.Error(t, err)
}
