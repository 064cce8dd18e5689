package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Status{
			RestartCount: 3,
			MaxRestarts:  5,
			PID:          777,
			Memory:       Memory{HeapUsedMB: 120.5},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/api", 5*time.Second)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.RestartCount)
	assert.Equal(t, 5, st.MaxRestarts)
	assert.Equal(t, 777, st.PID)
	assert.Equal(t, 120.5, st.Memory.HeapUsedMB)
}

func TestHistoryPassesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/history", r.URL.Path)
		require.Equal(t, "7", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]HistoryEvent{
			{ID: 1, Decision: "restart_initiated", Reason: "critical error: ENOSPC"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", 5*time.Second)
	events, err := c.History(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "restart_initiated", events[0].Decision)
}

func TestServerErrorIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"history disabled"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.History(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history disabled")
}

func TestNonJSONErrorFallsBackToStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
