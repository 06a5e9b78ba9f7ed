// Package store provides SQLite persistence for leafsync: the durable
// reading queue, the cached access token, the diagnostic log and the
// migration ledger.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/model"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database for leafsync data persistence.
//
// Store is safe for concurrent use. The pool is limited to one connection,
// so every method runs to completion before the next one starts; methods
// that touch more than one row do so inside a transaction.
type Store struct {
	db         *sql.DB
	capacity   int
	migrations []model.Migration
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of stored readings. After every insert
// the oldest readings are evicted until at most n remain, regardless of
// delivery state. Zero disables eviction.
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithMigrations replaces the built-in migration set.
func WithMigrations(m []model.Migration) Option {
	return func(s *Store) { s.migrations = m }
}

// WithNow sets the clock used for log and ledger timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens or creates a SQLite database at the given path and runs
// pending migrations. A migration failure is returned as an error and the
// database is closed.
func New(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		migrations: Migrations,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.capacity < 0 {
		return nil, fmt.Errorf("capacity must be >= 0, got %d", s.capacity)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	s.db = db

	if _, err := Migrate(context.Background(), db, s.migrations, s.now()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnqueueReading persists a sample with the given delivery state and
// returns its id. When a capacity is configured, over-capacity readings are
// evicted in the same transaction.
func (s *Store) EnqueueReading(ctx context.Context, sample model.Sample, delivered bool) (int64, error) {
	ts := sample.CapturedAt
	if ts.IsZero() {
		ts = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("inserting reading", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO data (ts, value, value_out, value_current, synced)
		VALUES (?, ?, ?, ?, ?)`,
		ts.UnixNano(), sample.Incoming, sample.Outgoing, sample.Instantaneous, boolToInt(delivered),
	)
	if err != nil {
		return 0, storageErr("inserting reading", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr("inserting reading", err)
	}

	if s.capacity > 0 {
		if _, err := evictOverCapacity(ctx, tx, s.capacity); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("inserting reading", err)
	}
	return id, nil
}

// MarkDelivered flips a reading to delivered. It is a no-op when the
// reading is already delivered or no longer exists.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE data SET synced = 1 WHERE id = ? AND synced = 0`, id)
	if err != nil {
		return storageErr(fmt.Sprintf("marking reading %d delivered", id), err)
	}
	return nil
}

// ListPending returns all undelivered readings, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, value, value_out, value_current, synced FROM data
		WHERE synced = 0
		ORDER BY ts ASC, id ASC`)
	if err != nil {
		return nil, storageErr("querying pending readings", err)
	}
	defer rows.Close()

	var readings []model.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("querying pending readings", err)
	}
	return readings, nil
}

// GetReading returns the reading with the given id, or nil if it does not
// exist.
func (s *Store) GetReading(ctx context.Context, id int64) (*model.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, value, value_out, value_current, synced FROM data
		WHERE id = ?`, id)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountReadings returns the total number of stored readings and how many
// of them are still pending.
func (s *Store) CountReadings(ctx context.Context) (total, pending int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) FROM data`,
	).Scan(&total, &pending)
	if err != nil {
		return 0, 0, storageErr("counting readings", err)
	}
	return total, pending, nil
}

// EvictIfOverCapacity deletes the oldest readings, delivered or not, until
// at most capacity remain. It returns the number of readings deleted.
func (s *Store) EvictIfOverCapacity(ctx context.Context, capacity int) (int64, error) {
	if capacity < 0 {
		return 0, fmt.Errorf("capacity must be >= 0, got %d", capacity)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("evicting readings", err)
	}
	defer tx.Rollback()

	n, err := evictOverCapacity(ctx, tx, capacity)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("evicting readings", err)
	}
	return n, nil
}

func evictOverCapacity(ctx context.Context, tx *sql.Tx, capacity int) (int64, error) {
	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`).Scan(&count); err != nil {
		return 0, storageErr("counting readings", err)
	}
	excess := count - int64(capacity)
	if excess <= 0 {
		return 0, nil
	}
	result, err := tx.ExecContext(ctx, `
		DELETE FROM data WHERE id IN (
			SELECT id FROM data ORDER BY ts ASC, id ASC LIMIT ?
		)`, excess)
	if err != nil {
		return 0, storageErr("evicting readings", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// GetCredential returns the cached credential, or nil if none is stored.
// Expiry is not checked here.
func (s *Store) GetCredential(ctx context.Context) (*model.Credential, error) {
	var (
		token     string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT token, expires_at FROM token LIMIT 1`).Scan(&token, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("reading credential", err)
	}
	return &model.Credential{Token: token, ExpiresAt: time.Unix(0, expiresAt)}, nil
}

// ReplaceCredential stores token as the only cached credential.
func (s *Store) ReplaceCredential(ctx context.Context, token string, expiresAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("replacing credential", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM token`); err != nil {
		return storageErr("replacing credential", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token (token, expires_at) VALUES (?, ?)`,
		token, expiresAt.UnixNano(),
	); err != nil {
		return storageErr("replacing credential", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("replacing credential", err)
	}
	return nil
}

// ClearExpiredCredential deletes the cached credential if it expired at or
// before now. A credential refreshed concurrently is left alone.
func (s *Store) ClearExpiredCredential(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM token WHERE expires_at <= ?`, now.UnixNano()); err != nil {
		return storageErr("clearing credential", err)
	}
	return nil
}

// AppendLog records a diagnostic message.
func (s *Store) AppendLog(ctx context.Context, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (ts, message) VALUES (?, ?)`,
		s.now().UnixNano(), message,
	)
	if err != nil {
		return storageErr("inserting log", err)
	}
	return nil
}

// ListLogs returns up to limit diagnostic entries, newest first.
func (s *Store) ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, message FROM logs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("querying logs", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var (
			e  model.LogEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Message); err != nil {
			return nil, storageErr("scanning log entry", err)
		}
		e.Timestamp = time.Unix(0, ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("querying logs", err)
	}
	return entries, nil
}

// PruneLogs deletes diagnostic entries recorded before the cutoff.
func (s *Store) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, storageErr("pruning logs", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// AppliedMigrations returns the migration ledger in application order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]model.AppliedMigration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("querying migration ledger", err)
	}
	defer rows.Close()

	var applied []model.AppliedMigration
	for rows.Next() {
		var (
			m  model.AppliedMigration
			ts int64
		)
		if err := rows.Scan(&m.ID, &ts); err != nil {
			return nil, storageErr("scanning migration ledger", err)
		}
		m.AppliedAt = time.Unix(0, ts)
		applied = append(applied, m)
	}
	return applied, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (model.Reading, error) {
	var (
		r       model.Reading
		ts      int64
		out     sql.NullFloat64
		current sql.NullFloat64
		synced  int
	)
	if err := row.Scan(&r.ID, &ts, &r.Incoming, &out, &current, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, storageErr("scanning reading", err)
	}
	r.CapturedAt = time.Unix(0, ts)
	if out.Valid {
		r.Outgoing = model.Float64(out.Float64)
	}
	if current.Valid {
		r.Instantaneous = model.Float64(current.Float64)
	}
	r.Delivered = synced != 0
	return r, nil
}

func storageErr(op string, err error) error {
	return &model.StorageError{Op: op, Err: err}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
