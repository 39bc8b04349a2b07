// Package ledger is the persistent deduplication store guaranteeing
// at-most-once side-effecting completion per idempotency key. Two backends
// share the contract: an embedded SQLite store for single-worker
// deployments and a shared Redis store for horizontal scaling.
package ledger

import (
	"context"
	"time"
)

// State of one ledger entry.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ClaimResult is the outcome of attempting to claim an idempotency key.
type ClaimResult int

const (
	// Claimed: this worker owns the key and must process the message.
	Claimed ClaimResult = iota
	// AlreadyCompleted: the key finished a previous attempt; acknowledge
	// without side effects.
	AlreadyCompleted
	// InFlight: another attempt holds a fresh pending claim; back off.
	InFlight
)

// Entry is one ledger row.
type Entry struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Ledger is the dedup capability the orchestrator is written against.
// Begin must be atomic with respect to concurrent workers: exactly one
// racing claimant observes Claimed. Pending claims older than the backend's
// staleness horizon are treated as abandoned and re-claimable.
type Ledger interface {
	Begin(ctx context.Context, key string) (ClaimResult, error)
	Complete(ctx context.Context, key string) error
	Fail(ctx context.Context, key string, reason string) error
	Get(ctx context.Context, key string) (*Entry, error)
	Close() error
}
