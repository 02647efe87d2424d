// internal/store/store.go

// Package store provides the session persistence backends. All backends
// implement schemas.SessionStore and treat the session as a single atomic
// value: there is exactly one current session, replaced or cleared as a
// whole.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/config"
)

// New builds the session store selected by cfg.Store.Backend. The postgres
// backend connects, pings and ensures its schema before returning; callers
// should close the returned store via Close when they are done with it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.SessionStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemory(), nil
	case "file":
		path, err := cfg.SessionFilePath()
		if err != nil {
			return nil, err
		}
		return NewFile(path, logger), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		pg, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Close releases backend resources when the store holds any. Memory and file
// stores are no-ops.
func Close(s schemas.SessionStore) {
	if closer, ok := s.(interface{ Close() }); ok {
		closer.Close()
	}
}
