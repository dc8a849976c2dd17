package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlHistory = `
CREATE TABLE IF NOT EXISTS correction_history (
    id          BIGSERIAL    PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    language    TEXT         NOT NULL DEFAULT '',
    original    TEXT         NOT NULL,
    final       TEXT         NOT NULL DEFAULT '',
    changes     JSONB        NOT NULL DEFAULT '[]',
    accepted    INTEGER      NOT NULL DEFAULT 0,
    ignored     INTEGER      NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_correction_history_user_created
    ON correction_history (user_id, created_at DESC);
`

// Migrate creates the history table and its index if they do not exist. It
// is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlHistory); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// PostgresStore is a [Store] backed by the correction_history table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, pings the server and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return Entry{}, fmt.Errorf("history: marshal changes: %w", err)
	}
	if e.Changes == nil {
		changes = []byte("[]")
	}

	const q = `
		INSERT INTO correction_history
		    (user_id, language, original, final, changes, accepted, ignored, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, q,
		e.UserID,
		e.Language,
		e.Original,
		e.Final,
		changes,
		e.Accepted,
		e.Ignored,
		e.CreatedAt,
	)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("history: record: %w", err)
	}
	return e, nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	const q = `
		SELECT id, user_id, language, original, final, changes, accepted, ignored, created_at
		FROM   correction_history
		WHERE  user_id = $1
		ORDER  BY created_at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			changes []byte
		)
		if err := row.Scan(
			&e.ID,
			&e.UserID,
			&e.Language,
			&e.Original,
			&e.Final,
			&changes,
			&e.Accepted,
			&e.Ignored,
			&e.CreatedAt,
		); err != nil {
			return Entry{}, err
		}
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return Entry{}, fmt.Errorf("decode changes: %w", err)
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return entries, nil
}

// Ping checks database connectivity. It satisfies health.Pinger.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
