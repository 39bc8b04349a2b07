package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// sqlite driver registration
	_ "github.com/mattn/go-sqlite3"

	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processing_ledger (
	idempotency_key TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	last_error TEXT
);
`

// OpenSQLite opens (or creates) the single-file embedded ledger database.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger at %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	// The embedded backend serves exactly one worker process.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLiteLedger is the embedded single-instance backend. Not safe for
// multi-worker deployments; use RedisLedger there.
type SQLiteLedger struct {
	db         *sql.DB
	pendingTTL time.Duration
	logger     *zap.Logger
}

// NewSQLiteLedger wraps an opened ledger database. pendingTTL is the
// staleness horizon after which an abandoned pending claim is re-claimable.
func NewSQLiteLedger(db *sql.DB, pendingTTL time.Duration, logger *zap.Logger) *SQLiteLedger {
	return &SQLiteLedger{
		db:         db,
		pendingTTL: pendingTTL,
		logger:     logger,
	}
}

func (l *SQLiteLedger) Begin(ctx context.Context, key string) (ClaimResult, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	var state string
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT state, updated_at FROM processing_ledger WHERE idempotency_key = ?`, key).
		Scan(&state, &updatedAt)

	switch {
	case err == sql.ErrNoRows:
		// New key: claim it.
	case err != nil:
		return 0, fmt.Errorf("failed to read ledger entry: %w", err)
	case State(state) == StateCompleted:
		return AlreadyCompleted, nil
	case State(state) == StatePending && time.Since(updatedAt) < l.pendingTTL:
		return InFlight, nil
	}

	// Claim: insert or take over a failed/stale-pending entry.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO processing_ledger (idempotency_key, state, updated_at, last_error)
		 VALUES (?, ?, ?, '')
		 ON CONFLICT(idempotency_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		key, string(StatePending), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to claim ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ledger claim: %w", err)
	}
	return Claimed, nil
}

func (l *SQLiteLedger) Complete(ctx context.Context, key string) error {
	return l.setState(ctx, key, StateCompleted, "")
}

func (l *SQLiteLedger) Fail(ctx context.Context, key string, reason string) error {
	return l.setState(ctx, key, StateFailed, reason)
}

func (l *SQLiteLedger) setState(ctx context.Context, key string, state State, lastError string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO processing_ledger (idempotency_key, state, updated_at, last_error)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at, last_error = excluded.last_error`,
		key, string(state), time.Now().UTC(), lastError)
	if err != nil {
		return fmt.Errorf("failed to set ledger state %s: %w", state, err)
	}
	return nil
}

func (l *SQLiteLedger) Get(ctx context.Context, key string) (*Entry, error) {
	var entry Entry
	var state string
	err := l.db.QueryRowContext(ctx,
		`SELECT state, updated_at, last_error FROM processing_ledger WHERE idempotency_key = ?`, key).
		Scan(&state, &entry.Timestamp, &entry.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	entry.Key = key
	entry.State = State(state)
	return &entry, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
