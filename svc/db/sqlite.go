package db

import (
	"bettergist/pkg/domain"
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	defaultMaxOpenConns = 50
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db           *sql.DB
	br           breaker
	queryTimeout time.Duration
	now          func() time.Time
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}
func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", withPragmas(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// withPragmas sets the pragmas through the DSN so that every pooled
// connection gets them, not only the first.
func withPragmas(path string) string {
	params := []string{"_busy_timeout=5000", "_journal_mode=WAL", "_synchronous=FULL"}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range params {
		key, _, _ := strings.Cut(p, "=")
		if strings.Contains(path, key+"=") {
			continue
		}
		path += sep + p
		sep = "&"
	}
	return path
}
func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS snippets (
		id TEXT PRIMARY KEY,
		files TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snippets_expires_at ON snippets(expires_at);
	`)
	return err
}
func (s *SQLite) Create(ctx context.Context, sn *domain.Snippet) error {
	if err := s.br.allow(); err != nil {
		return storeErr("create", err)
	}
	files, err := encodeFiles(sn.Files)
	if err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err = s.db.ExecContext(queryCtx,
		`INSERT INTO snippets (id, files, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sn.ID, files, sn.CreatedAt.UTC(), sn.ExpiresAt.UTC(),
	)
	if isSQLiteConflict(err) {
		s.br.record(nil)
		return domain.ErrIDConflict
	}
	s.br.record(err)
	return storeErr("create", err)
}
func (s *SQLite) Get(ctx context.Context, id string) (*domain.Snippet, error) {
	if err := s.br.allow(); err != nil {
		return nil, storeErr("get", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var (
		sn    domain.Snippet
		files string
	)
	err := s.db.QueryRowContext(queryCtx,
		`SELECT id, files, created_at, expires_at FROM snippets WHERE id = ? AND expires_at > ?`,
		id, s.now().UTC(),
	).Scan(&sn.ID, &files, &sn.CreatedAt, &sn.ExpiresAt)
	if err == sql.ErrNoRows {
		s.br.record(nil)
		return nil, domain.ErrSnippetNotFound
	}
	s.br.record(err)
	if err != nil {
		return nil, storeErr("get", err)
	}
	if sn.Files, err = decodeFiles(files); err != nil {
		return nil, storeErr("get", err)
	}
	return &sn, nil
}
func (s *SQLite) Count(ctx context.Context) (int, error) {
	if err := s.br.allow(); err != nil {
		return 0, storeErr("count", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COUNT(*) FROM snippets WHERE expires_at > ?`, s.now().UTC(),
	).Scan(&n)
	s.br.record(err)
	if err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}
func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.br.allow(); err != nil {
		return 0, storeErr("cleanup", err)
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
			DELETE FROM snippets
			WHERE id IN (
				SELECT id FROM snippets
				WHERE expires_at <= ?
				LIMIT ?
			)
		`, s.now().UTC(), cleanupBatch)
		cancel()
		s.br.record(err)
		if err != nil {
			return totalDeleted, storeErr("cleanup", err)
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted < cleanupBatch {
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
func (s *SQLite) Close() error {
	return s.db.Close()
}
func isSQLiteConflict(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique)
}
