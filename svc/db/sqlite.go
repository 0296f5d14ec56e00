package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"clipd/pkg/domain"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrCircuitOpen = errors.New("database circuit breaker open")
	errDuplicateID = errors.New("duplicate clip id")
)

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite persists clips and users. All timestamps are converted to UTC at
// this boundary before binding, so the stored representation used for
// writes, read filters and the reaper sweep is always the same.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
	now           func() time.Time
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// SetClock replaces the store's time source. Tests use it to move "now"
// across expiration boundaries; production code never calls it.
func (s *SQLite) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isConstraintErr(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	query := `
	CREATE TABLE IF NOT EXISTS clips (
		clip_id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		created_by_ip TEXT,
		user_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_clips_expires_at ON clips(expires_at);
	CREATE INDEX IF NOT EXISTS idx_clips_user_created ON clips(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_clips_ip_created ON clips(created_by_ip, created_at);
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err = s.db.Exec(query)
	return err
}

func isConstraintErr(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsDuplicateID reports whether a CreateClip failure was an id collision,
// in which case the caller may regenerate and retry.
func IsDuplicateID(err error) bool {
	return errors.Is(err, errDuplicateID)
}

func (s *SQLite) CreateClip(ctx context.Context, c *domain.Clip) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var expiresAt interface{}
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.UTC()
	}
	var userID interface{}
	if c.UserID != "" {
		userID = c.UserID
	}
	q := `
	INSERT INTO clips (clip_id, content, created_at, expires_at, created_by_ip, user_id)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		c.ID, c.Content, c.CreatedAt.UTC(), expiresAt, c.CreatedByIP, userID,
	)
	if isUniqueViolation(err) {
		return errors.Wrap(errDuplicateID, c.ID)
	}
	s.recordError(err)
	return errors.Wrap(err, "db create clip")
}

// GetClip applies the visibility invariant at query time: a clip is
// returned only when expires_at is NULL or strictly in the future. Rows
// past expiry stay invisible here even before the reaper removes them.
func (s *SQLite) GetClip(ctx context.Context, id string) (*domain.Clip, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT clip_id, content, created_at, expires_at, created_by_ip, user_id
	FROM clips
	WHERE clip_id = ? AND (expires_at IS NULL OR expires_at > ?)
	`
	row := s.db.QueryRowContext(queryCtx, q, id, s.now().UTC())
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrClipNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get clip")
	}
	return c, nil
}

func (s *SQLite) ListClipsByUser(ctx context.Context, userID string) ([]domain.Clip, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT clip_id, content, created_at, expires_at, created_by_ip, user_id
	FROM clips
	WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
	ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q, userID, s.now().UTC())
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list clips")
	}
	defer rows.Close()
	clips := make([]domain.Clip, 0)
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan clip")
		}
		clips = append(clips, *c)
	}
	return clips, errors.Wrap(rows.Err(), "iterate clips")
}

func (s *SQLite) ClipExists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM clips WHERE clip_id = ? LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "clip exists check")
	}
	return exists == 1, nil
}

// CountRecentByIP counts clips created by one address inside the trailing
// window. The clip service uses it as the creation quota; the check and
// the subsequent insert are not atomic, which is accepted.
func (s *SQLite) CountRecentByIP(ctx context.Context, ip string, window time.Duration) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var count int
	q := `SELECT COUNT(*) FROM clips WHERE created_by_ip = ? AND created_at > ?`
	since := s.now().UTC().Add(-window)
	err := s.db.QueryRowContext(queryCtx, q, ip, since).Scan(&count)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "count recent clips")
	}
	return count, nil
}

// SweepExpired deletes every clip whose expiry is non-null and in the past,
// in batches so a large backlog never holds a write lock for long. Clips
// without an expiry are never touched.
func (s *SQLite) SweepExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM clips
			WHERE clip_id IN (
				SELECT clip_id FROM clips
				WHERE expires_at IS NOT NULL AND expires_at < ?
				LIMIT 100
			)
		`, s.now().UTC())
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "sweep batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, nil
}

// CountExpired is the non-destructive companion to SweepExpired: same
// predicate, no deletes.
func (s *SQLite) CountExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var count int
	q := `SELECT COUNT(*) FROM clips WHERE expires_at IS NOT NULL AND expires_at < ?`
	err := s.db.QueryRowContext(queryCtx, q, s.now().UTC()).Scan(&count)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "count expired clips")
	}
	return count, nil
}

func (s *SQLite) CountClips(ctx context.Context) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var count int
	err := s.db.QueryRowContext(queryCtx, `SELECT COUNT(*) FROM clips`).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "count clips")
	}
	return count, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClip(row rowScanner) (*domain.Clip, error) {
	var c domain.Clip
	var expiresAt sql.NullTime
	var ip sql.NullString
	var userID sql.NullString
	err := row.Scan(&c.ID, &c.Content, &c.CreatedAt, &expiresAt, &ip, &userID)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	c.CreatedByIP = ip.String
	c.UserID = userID.String
	return &c, nil
}
