// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for
// mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlEnsureSchema = `
        CREATE TABLE IF NOT EXISTS fitbridge_session (
            id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
            payload JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
    `
	sqlUpsertSession = `
        INSERT INTO fitbridge_session (id, payload, updated_at)
        VALUES (1, $1, now())
        ON CONFLICT (id) DO UPDATE SET
            payload = EXCLUDED.payload,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectSession = `SELECT payload FROM fitbridge_session WHERE id = 1;`
	sqlDeleteSession = `DELETE FROM fitbridge_session WHERE id = 1;`
)

// Postgres stores the session as a single JSONB row, for deployments where
// several hosts need to share one authenticated session. The CHECK constraint
// pins the table to one row so Set is always a full replacement.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres verifies the connection and ensures the session table exists.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlEnsureSchema); err != nil {
		return nil, fmt.Errorf("ensuring session table: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("session-db"),
	}, nil
}

// Get retrieves the current session.
func (p *Postgres) Get(ctx context.Context) (schemas.Session, error) {
	var payload []byte
	if err := p.pool.QueryRow(ctx, sqlSelectSession).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.Session{}, schemas.ErrNoSession
		}
		return schemas.Session{}, fmt.Errorf("querying session: %w", err)
	}

	var session schemas.Session
	if err := jsonAPI.Unmarshal(payload, &session); err != nil {
		return schemas.Session{}, fmt.Errorf("parsing stored session: %w", err)
	}
	return session, nil
}

// Set replaces the current session.
func (p *Postgres) Set(ctx context.Context, s schemas.Session) error {
	payload, err := jsonAPI.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sqlUpsertSession, payload); err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	p.log.Debug("Session persisted.")
	return nil
}

// Clear removes the current session. Deleting an absent row is not an error.
func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, sqlDeleteSession); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Close releases the underlying pool when it supports closing.
func (p *Postgres) Close() {
	if closer, ok := p.pool.(interface{ Close() }); ok {
		closer.Close()
	}
}
