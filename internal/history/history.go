package history

import (
	"context"
	"time"
)

// Decision identifies the outcome of one pass through the restart policy.
type Decision string

const (
	DecisionInitiated Decision = "restart_initiated"
	DecisionBlocked   Decision = "restart_blocked"
	DecisionLimit     Decision = "restart_limit"
	DecisionShutdown  Decision = "graceful_shutdown"
)

// Event is one supervisor decision to be persisted for post-mortem review.
type Event struct {
	ID           int64     `json:"id,omitempty"`
	Decision     Decision  `json:"decision"`
	Reason       string    `json:"reason"`
	RestartCount int       `json:"restart_count"`
	PID          int       `json:"pid"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Sink is a destination for supervisor decisions. Implementations must be
// safe for concurrent use. Recording is best-effort from the supervisor's
// point of view: a failing sink never blocks or aborts a decision.
type Sink interface {
	Record(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}
