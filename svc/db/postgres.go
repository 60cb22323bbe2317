package db

import (
	"bettergist/pkg/domain"
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const pgUniqueViolation = "23505"

// Postgres is the remote relational snippet store.
type Postgres struct {
	pool         *pgxpool.Pool
	br           breaker
	queryTimeout time.Duration
	now          func() time.Time
}

func NewPostgres(ctx context.Context, dsn string, maxConns int, queryTimeout time.Duration) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	poolCfg.MaxConnIdleTime = 10 * time.Minute
	poolCfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create postgres pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	p := &Postgres{pool: pool, queryTimeout: queryTimeout, now: time.Now}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return p, nil
}
func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS snippets (
		id TEXT PRIMARY KEY,
		files TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snippets_expires_at ON snippets(expires_at);
	`)
	return err
}
func (p *Postgres) Create(ctx context.Context, sn *domain.Snippet) error {
	if err := p.br.allow(); err != nil {
		return storeErr("create", err)
	}
	files, err := encodeFiles(sn.Files)
	if err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	_, err = p.pool.Exec(queryCtx,
		`INSERT INTO snippets (id, files, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		sn.ID, files, sn.CreatedAt.UTC(), sn.ExpiresAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		p.br.record(nil)
		return domain.ErrIDConflict
	}
	p.br.record(err)
	return storeErr("create", err)
}
func (p *Postgres) Get(ctx context.Context, id string) (*domain.Snippet, error) {
	if err := p.br.allow(); err != nil {
		return nil, storeErr("get", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	var (
		sn    domain.Snippet
		files string
	)
	err := p.pool.QueryRow(queryCtx,
		`SELECT id, files, created_at, expires_at FROM snippets WHERE id = $1 AND expires_at > $2`,
		id, p.now().UTC(),
	).Scan(&sn.ID, &files, &sn.CreatedAt, &sn.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		p.br.record(nil)
		return nil, domain.ErrSnippetNotFound
	}
	p.br.record(err)
	if err != nil {
		return nil, storeErr("get", err)
	}
	if sn.Files, err = decodeFiles(files); err != nil {
		return nil, storeErr("get", err)
	}
	return &sn, nil
}
func (p *Postgres) Count(ctx context.Context) (int, error) {
	if err := p.br.allow(); err != nil {
		return 0, storeErr("count", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	var n int64
	err := p.pool.QueryRow(queryCtx,
		`SELECT COUNT(*) FROM snippets WHERE expires_at > $1`, p.now().UTC(),
	).Scan(&n)
	p.br.record(err)
	if err != nil {
		return 0, storeErr("count", err)
	}
	return int(n), nil
}
func (p *Postgres) CleanupExpired(ctx context.Context) (int, error) {
	if err := p.br.allow(); err != nil {
		return 0, storeErr("cleanup", err)
	}
	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
		tag, err := p.pool.Exec(queryCtx, `
			DELETE FROM snippets
			WHERE id IN (SELECT id FROM snippets WHERE expires_at <= $1 LIMIT $2)
		`, p.now().UTC(), cleanupBatch)
		cancel()
		p.br.record(err)
		if err != nil {
			return total, storeErr("cleanup", err)
		}
		deleted := int(tag.RowsAffected())
		total += deleted
		if deleted < cleanupBatch {
			return total, nil
		}
	}
}
func (p *Postgres) Ping(ctx context.Context) error {
	if p.br.isOpen() {
		return ErrCircuitOpen
	}
	return p.pool.Ping(ctx)
}
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
