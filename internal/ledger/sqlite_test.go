package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteLedgerTest(t *testing.T) (*SQLiteLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteLedger(db, 5*time.Minute, zap.NewNop()), mock
}

func TestSQLiteBegin_NewKeyClaimed(t *testing.T) {
	l, mock := newSQLiteLedgerTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT state, updated_at FROM processing_ledger").
		WithArgs("key-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO processing_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := l.Begin(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, Claimed, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBegin_CompletedShortCircuits(t *testing.T) {
	l, mock := newSQLiteLedgerTest(t)

	rows := sqlmock.NewRows([]string{"state", "updated_at"}).
		AddRow(string(StateCompleted), time.Now().UTC())
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT state, updated_at FROM processing_ledger").
		WithArgs("key-1").
		WillReturnRows(rows)
	mock.ExpectRollback()

	result, err := l.Begin(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, AlreadyCompleted, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBegin_FreshPendingInFlight(t *testing.T) {
	l, mock := newSQLiteLedgerTest(t)

	rows := sqlmock.NewRows([]string{"state", "updated_at"}).
		AddRow(string(StatePending), time.Now().UTC())
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT state, updated_at FROM processing_ledger").
		WithArgs("key-1").
		WillReturnRows(rows)
	mock.ExpectRollback()

	result, err := l.Begin(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, InFlight, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBegin_StalePendingReclaimed(t *testing.T) {
	l, mock := newSQLiteLedgerTest(t)

	// An abandoned pending claim older than the TTL is taken over.
	rows := sqlmock.NewRows([]string{"state", "updated_at"}).
		AddRow(string(StatePending), time.Now().UTC().Add(-time.Hour))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT state, updated_at FROM processing_ledger").
		WithArgs("key-1").
		WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO processing_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := l.Begin(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, Claimed, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBegin_FailedReclaimed(t *testing.T) {
	l, mock := newSQLiteLedgerTest(t)

	rows := sqlmock.NewRows([]string{"state", "updated_at"}).
		AddRow(string(StateFailed), time.Now().UTC())
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT state, updated_at FROM processing_ledger").
		WithArgs("key-1").
		WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO processing_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := l.Begin(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, Claimed, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteCompleteAndFail(t *testing.T) {
	l, mock := newSQLiteLedgerTest(t)

	mock.ExpectExec("INSERT INTO processing_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, l.Complete(context.Background(), "key-1"))

	mock.ExpectExec("INSERT INTO processing_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, l.Fail(context.Background(), "key-1", "upstream unavailable"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteGet(t *testing.T) {
	l, mock := newSQLiteLedgerTest(t)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"state", "updated_at", "last_error"}).
		AddRow(string(StateFailed), ts, "timeout")
	mock.ExpectQuery("SELECT state, updated_at, last_error FROM processing_ledger").
		WithArgs("key-1").
		WillReturnRows(rows)

	entry, err := l.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, "key-1", entry.Key)
	require.Equal(t, StateFailed, entry.State)
	require.Equal(t, "timeout", entry.Error)

	mock.ExpectQuery("SELECT state, updated_at, last_error FROM processing_ledger").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	entry, err = l.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, entry)

	require.NoError(t, mock.ExpectationsWereMet())
}
