package client

import "time"

// Status mirrors the daemon's status response.
type Status struct {
	RestartCount  int       `json:"restart_count"`
	MaxRestarts   int       `json:"max_restarts"`
	LastRestart   time.Time `json:"last_restart,omitempty"`
	ShuttingDown  bool      `json:"shutting_down"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	PID           int       `json:"pid"`
	Memory        Memory    `json:"memory"`
}

// Memory mirrors the daemon's memory snapshot.
type Memory struct {
	HeapUsedMB  float64 `json:"heap_used_mb"`
	HeapTotalMB float64 `json:"heap_total_mb"`
	RSSMB       float64 `json:"rss_mb"`
	StackMB     float64 `json:"stack_mb"`
}

// HistoryEvent mirrors one recorded supervisor decision.
type HistoryEvent struct {
	ID           int64     `json:"id"`
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason"`
	RestartCount int       `json:"restart_count"`
	PID          int       `json:"pid"`
	OccurredAt   time.Time `json:"occurred_at"`
}
