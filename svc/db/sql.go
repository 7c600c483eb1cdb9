package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"pastebox/pkg/domain"
	"pastebox/pkg/seal"
	"pastebox/svc/util"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"

	purgeBatch          = 100
	defaultQueryTimeout = 5 * time.Second
)

type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
	Sealer       *seal.Sealer
}

// SQL stores pastes in a relational database through sqlx. Every statement
// is written with ? placeholders and rebound for the dialect.
type SQL struct {
	db           *sqlx.DB
	dialect      Dialect
	sealer       *seal.Sealer
	queryTimeout time.Duration
	breaker      breaker
}

type pasteRecord struct {
	ID         string         `db:"id"`
	Content    []byte         `db:"content"`
	CreatedAt  time.Time      `db:"created_at"`
	ExpiresAt  sql.NullTime   `db:"expires_at"`
	MaxViews   sql.NullInt64  `db:"max_views"`
	ViewCount  int            `db:"view_count"`
	DeadReason sql.NullString `db:"dead_reason"`
}

func NewSQLite(path string, opts Options) (*SQL, error) {
	q := url.Values{}
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "FULL")
	q.Set("_txlock", "immediate")
	q.Set("_foreign_keys", "on")
	if path != ":memory:" {
		q.Set("_journal_mode", "WAL")
	} else {
		opts.MaxOpenConns = 1
		opts.MaxIdleConns = 1
	}
	dsn := fmt.Sprintf("file:%s?%s", path, q.Encode())
	db, err := sqlx.Open(string(DialectSQLite), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	return newSQL(db, DialectSQLite, opts)
}

func NewPostgres(dsn string, opts Options) (*SQL, error) {
	db, err := sqlx.Open(string(DialectPostgres), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return newSQL(db, DialectPostgres, opts)
}

// NewSQLWithDB wraps an already open handle without migrating it.
func NewSQLWithDB(db *sql.DB, dialect Dialect, opts Options) *SQL {
	return build(sqlx.NewDb(db, string(dialect)), dialect, opts)
}

func build(db *sqlx.DB, dialect Dialect, opts Options) *SQL {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	return &SQL{
		db:           db,
		dialect:      dialect,
		sealer:       opts.Sealer,
		queryTimeout: opts.QueryTimeout,
	}
}

func newSQL(db *sqlx.DB, dialect Dialect, opts Options) (*SQL, error) {
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	s := build(db, dialect, opts)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", dialect)
	}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	util.Info().Str("dialect", string(dialect)).Msg("sql store ready")
	return s, nil
}

func (s *SQL) DB() *sql.DB { return s.db.DB }

func (s *SQL) Dialect() Dialect { return s.dialect }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.queryTimeout)
}

func (s *SQL) Insert(ctx context.Context, p *domain.Paste) error {
	if err := s.breaker.check(); err != nil {
		return unavailable("insert", err)
	}
	content, err := s.sealer.Seal(p.ID, []byte(p.Content))
	if err != nil {
		return errors.Wrap(err, "seal content")
	}
	rec := pasteRecord{
		ID:        p.ID,
		Content:   content,
		CreatedAt: p.CreatedAt.UTC(),
		ViewCount: p.ViewCount,
	}
	if p.ExpiresAt != nil {
		rec.ExpiresAt = sql.NullTime{Time: p.ExpiresAt.UTC(), Valid: true}
	}
	if p.MaxViews != nil {
		rec.MaxViews = sql.NullInt64{Int64: int64(*p.MaxViews), Valid: true}
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err = s.db.NamedExecContext(ctx, `INSERT INTO pastes (id, content, created_at, expires_at, max_views, view_count)
		VALUES (:id, :content, :created_at, :expires_at, :max_views, :view_count)`, rec)
	if err != nil && uniqueViolation(err) {
		err = domain.ErrDuplicateID
	}
	s.breaker.record(err)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateID) {
			return err
		}
		return unavailable("insert", err)
	}
	return nil
}

// FindByID returns the stored record whether or not it is still alive.
func (s *SQL) FindByID(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.breaker.check(); err != nil {
		return nil, unavailable("find", err)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var rec pasteRecord
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(
		`SELECT id, content, created_at, expires_at, max_views, view_count, dead_reason FROM pastes WHERE id = ?`), id)
	s.breaker.record(err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, unavailable("find", err)
	}
	return s.toPaste(&rec)
}

// IncrementView bumps view_count in a single conditional statement so that
// concurrent readers can never push it past limit. The view that reaches the
// limit also records the paste as dead.
func (s *SQL) IncrementView(ctx context.Context, id string, limit *int) (int, error) {
	if err := s.breaker.check(); err != nil {
		return 0, unavailable("increment", err)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	query := `UPDATE pastes SET view_count = view_count + 1
		WHERE id = ? AND dead_reason IS NULL RETURNING view_count`
	args := []any{id}
	if limit != nil {
		query = `UPDATE pastes SET view_count = view_count + 1,
			dead_reason = CASE WHEN view_count + 1 >= ? THEN ? ELSE dead_reason END
		WHERE id = ? AND dead_reason IS NULL AND view_count < ? RETURNING view_count`
		args = []any{*limit, domain.ReasonViewLimit, id, *limit}
	}
	var count int
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.missOrLimit(ctx, id)
	}
	s.breaker.record(err)
	switch {
	case err == nil:
		return count, nil
	case domain.Gone(err):
		return 0, err
	}
	return 0, unavailable("increment", err)
}

func (s *SQL) missOrLimit(ctx context.Context, id string) error {
	var reason sql.NullString
	err := s.db.GetContext(ctx, &reason, s.db.Rebind(`SELECT dead_reason FROM pastes WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPasteNotFound
	}
	if err != nil {
		return err
	}
	if reason.Valid {
		return domain.FromReason(reason.String)
	}
	return domain.ErrViewLimit
}

// MarkDead records reason unless an earlier one is already stored, and
// returns the reason now on record.
func (s *SQL) MarkDead(ctx context.Context, id, reason string) (string, error) {
	if err := s.breaker.check(); err != nil {
		return "", unavailable("mark", err)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var stored string
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(
		`UPDATE pastes SET dead_reason = COALESCE(dead_reason, ?) WHERE id = ? RETURNING dead_reason`),
		reason, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		err = domain.ErrPasteNotFound
	}
	s.breaker.record(err)
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, domain.ErrPasteNotFound):
		return "", err
	}
	return "", unavailable("mark", err)
}

// PurgeDead deletes expired, exhausted or marked rows in batches and returns how
// many went.
func (s *SQL) PurgeDead(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		qctx, cancel := s.ctx(ctx)
		res, err := s.db.ExecContext(qctx, s.db.Rebind(`DELETE FROM pastes WHERE id IN (
			SELECT id FROM pastes
			WHERE (expires_at IS NOT NULL AND expires_at < ?)
			   OR (max_views IS NOT NULL AND view_count >= max_views)
			   OR dead_reason IS NOT NULL
			LIMIT ?)`), now.UTC(), purgeBatch)
		cancel()
		if err != nil {
			return total, unavailable("purge", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, unavailable("purge", err)
		}
		total += n
		if n < purgeBatch {
			return total, nil
		}
	}
}

func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQL) toPaste(rec *pasteRecord) (*domain.Paste, error) {
	content, err := s.sealer.Open(rec.ID, rec.Content)
	if err != nil {
		return nil, unavailable("find", errors.Wrapf(err, "open paste %s", rec.ID))
	}
	p := &domain.Paste{
		ID:        rec.ID,
		Content:   string(content),
		CreatedAt: rec.CreatedAt.UTC(),
		ViewCount: rec.ViewCount,
	}
	if rec.DeadReason.Valid {
		p.DeadReason = rec.DeadReason.String
	}
	if rec.ExpiresAt.Valid {
		t := rec.ExpiresAt.Time.UTC()
		p.ExpiresAt = &t
	}
	if rec.MaxViews.Valid {
		n := int(rec.MaxViews.Int64)
		p.MaxViews = &n
	}
	return p, nil
}

func uniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
