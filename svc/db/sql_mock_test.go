package db

import (
	"context"
	"database/sql"
	"pastebox/pkg/domain"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, dialect Dialect) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewSQLWithDB(conn, dialect, Options{QueryTimeout: time.Second}), mock
}

func TestSQLInsertDuplicateSQLite(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)
	mock.ExpectExec("INSERT INTO pastes").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey})

	err := s.Insert(context.Background(), newPaste("dup", time.Hour, nil))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLInsertDuplicatePostgres(t *testing.T) {
	s, mock := newMockStore(t, DialectPostgres)
	mock.ExpectExec("INSERT INTO pastes").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := s.Insert(context.Background(), newPaste("dup", time.Hour, nil))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLInsertFailureIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)
	mock.ExpectExec("INSERT INTO pastes").WillReturnError(errors.New("disk I/O error"))

	err := s.Insert(context.Background(), newPaste("x", time.Hour, nil))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, "error", domain.Reason(err))
}

func TestSQLFindMapsNoRows(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)
	mock.ExpectQuery("SELECT id, content").WithArgs("gone").WillReturnError(sql.ErrNoRows)

	_, err := s.FindByID(context.Background(), "gone")
	assert.ErrorIs(t, err, domain.ErrPasteNotFound)
}

func TestSQLFindRebindsForPostgres(t *testing.T) {
	s, mock := newMockStore(t, DialectPostgres)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "content", "created_at", "expires_at", "max_views", "view_count", "dead_reason"}).
		AddRow("pg1", append([]byte{0}, "hi"...), now, nil, int64(4), 1, nil)
	mock.ExpectQuery(`WHERE id = \$1`).WithArgs("pg1").WillReturnRows(rows)

	p, err := s.FindByID(context.Background(), "pg1")
	require.NoError(t, err)
	assert.Equal(t, "hi", p.Content)
	assert.Nil(t, p.ExpiresAt)
	require.NotNil(t, p.MaxViews)
	assert.Equal(t, 4, *p.MaxViews)
	assert.Equal(t, 1, p.ViewCount)
	assert.Empty(t, p.DeadReason)
}

func TestSQLMarkDead(t *testing.T) {
	s, mock := newMockStore(t, DialectPostgres)
	mock.ExpectQuery(`SET dead_reason = COALESCE\(dead_reason, \$1\) WHERE id = \$2`).
		WithArgs(domain.ReasonExpired, "m").
		WillReturnRows(sqlmock.NewRows([]string{"dead_reason"}).AddRow(domain.ReasonViewLimit))
	reason, err := s.MarkDead(context.Background(), "m", domain.ReasonExpired)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonViewLimit, reason)

	mock.ExpectQuery("SET dead_reason").WithArgs(domain.ReasonExpired, "gone").WillReturnError(sql.ErrNoRows)
	_, err = s.MarkDead(context.Background(), "gone", domain.ReasonExpired)
	assert.ErrorIs(t, err, domain.ErrPasteNotFound)

	mock.ExpectQuery("SET dead_reason").WillReturnError(errors.New("connection reset"))
	_, err = s.MarkDead(context.Background(), "m", domain.ReasonExpired)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLIncrementLimitVersusMissing(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)
	limit := 2

	mock.ExpectQuery("UPDATE pastes SET view_count").
		WithArgs(2, domain.ReasonViewLimit, "a", 2).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT dead_reason FROM pastes").WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"dead_reason"}).AddRow(nil))
	_, err := s.IncrementView(context.Background(), "a", &limit)
	assert.ErrorIs(t, err, domain.ErrViewLimit)

	mock.ExpectQuery("UPDATE pastes SET view_count").
		WithArgs(2, domain.ReasonViewLimit, "b", 2).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT dead_reason FROM pastes").WithArgs("b").WillReturnError(sql.ErrNoRows)
	_, err = s.IncrementView(context.Background(), "b", &limit)
	assert.ErrorIs(t, err, domain.ErrPasteNotFound)

	mock.ExpectQuery("UPDATE pastes SET view_count").WithArgs("c").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT dead_reason FROM pastes").WithArgs("c").
		WillReturnRows(sqlmock.NewRows([]string{"dead_reason"}).AddRow(domain.ReasonExpired))
	_, err = s.IncrementView(context.Background(), "c", nil)
	assert.ErrorIs(t, err, domain.ErrPasteExpired)
	assert.Zero(t, s.breaker.failures, "a dead paste is not a store failure")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBreakerShortCircuits(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)
	for i := 0; i < maxFailures; i++ {
		mock.ExpectQuery("SELECT id, content").WillReturnError(errors.New("database is locked"))
	}
	for i := 0; i < maxFailures; i++ {
		_, err := s.FindByID(context.Background(), "x")
		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	}
	_, err := s.FindByID(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPurgeDeadBatches(t *testing.T) {
	s, mock := newMockStore(t, DialectSQLite)
	mock.ExpectExec("DELETE FROM pastes").WillReturnResult(sqlmock.NewResult(0, purgeBatch))
	mock.ExpectExec("DELETE FROM pastes").WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.PurgeDead(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, purgeBatch+7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
