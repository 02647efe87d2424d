// pkg/fitbridge/client.go

// Package fitbridge is the public entry point for the credential-to-session
// bridge. One Client owns the session store, the authenticated HTTP engine
// and the typed platform API, and can mint new sessions through the
// browser-driven login flow when the stored one is missing or stale.
package fitbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/auth"
	"github.com/xkilldash9x/fitbridge/internal/config"
	"github.com/xkilldash9x/fitbridge/internal/network"
	"github.com/xkilldash9x/fitbridge/internal/platform"
	"github.com/xkilldash9x/fitbridge/internal/store"
)

// loginFlow is the slice of auth.Flow the facade depends on; tests swap in a
// fake so facade behavior is testable without a browser.
type loginFlow interface {
	Run(ctx context.Context, creds schemas.Credentials) (*auth.Result, error)
}

// Client bridges member credentials to authenticated platform API calls.
// Safe for concurrent use.
type Client struct {
	cfg       *config.Config
	store     schemas.SessionStore
	ownsStore bool
	engine    *network.Client
	api       *platform.Client
	flow      loginFlow
	margin    time.Duration
	clock     func() time.Time
	group     singleflight.Group
	logger    *zap.Logger
}

// New assembles a Client from the configuration. The context bounds backend
// setup, e.g. the Postgres ping for the postgres store backend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := settings{
		margin: defaultRefreshMargin,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}

	sessionStore := s.store
	ownsStore := false
	if sessionStore == nil {
		var err error
		sessionStore, err = store.New(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating session store: %w", err)
		}
		ownsStore = true
	}

	engine, err := network.NewClient(cfg.HTTP, sessionStore, logger)
	if err != nil {
		if ownsStore {
			store.Close(sessionStore)
		}
		return nil, fmt.Errorf("creating http engine: %w", err)
	}

	return &Client{
		cfg:       cfg,
		store:     sessionStore,
		ownsStore: ownsStore,
		engine:    engine,
		api:       platform.NewClient(engine, logger),
		flow:      auth.NewFlow(cfg, logger, auth.Options{Clock: s.clock}),
		margin:    s.margin,
		clock:     s.clock,
		logger:    logger.Named("fitbridge"),
	}, nil
}

// API returns the typed platform client. Calls fail with
// AuthNoActiveSessionError until a session exists.
func (c *Client) API() *platform.Client {
	return c.api
}

// Login runs the browser login flow with the given credentials, persists the
// resulting session and seeds the HTTP engine with the browser's cookies.
func (c *Client) Login(ctx context.Context, creds schemas.Credentials) (schemas.Session, error) {
	result, err := c.flow.Run(ctx, creds)
	if err != nil {
		return schemas.Session{}, err
	}

	if err := c.store.Set(ctx, result.Session); err != nil {
		return schemas.Session{}, fmt.Errorf("persisting session: %w", err)
	}
	if err := c.engine.ImportCookies(c.cfg.HTTP.BaseURL, result.Cookies); err != nil {
		c.logger.Warn("Failed to import browser cookies.", zap.Error(err))
	}

	c.logger.Info("Login succeeded.",
		zap.String("user_id", result.Session.User.ID),
		zap.Time("expires_at", result.Session.Token.ExpiresAt))
	return result.Session, nil
}

// Logout discards the stored session. Subsequent API calls are refused until
// the next login.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	c.logger.Info("Session cleared.")
	return nil
}

// EnsureSession returns the stored session when it is still fresh, and logs
// in again otherwise. Concurrent callers share a single login attempt; the
// credentials are only used when a re-login is actually needed.
func (c *Client) EnsureSession(ctx context.Context, creds schemas.Credentials) (schemas.Session, error) {
	session, err := c.store.Get(ctx)
	switch {
	case err == nil:
		if c.fresh(session) {
			return session, nil
		}
		c.logger.Debug("Stored session is stale, logging in again.",
			zap.Time("expires_at", session.Token.ExpiresAt))
	case errors.Is(err, schemas.ErrNoSession):
		c.logger.Debug("No stored session, logging in.")
	default:
		// Backend failures surface instead of triggering a login storm.
		return schemas.Session{}, fmt.Errorf("loading session: %w", err)
	}

	v, err, _ := c.group.Do("login", func() (any, error) {
		// Another flight may have refreshed the session while this caller
		// was waiting to enter.
		if session, err := c.store.Get(ctx); err == nil && c.fresh(session) {
			return session, nil
		}
		return c.Login(ctx, creds)
	})
	if err != nil {
		return schemas.Session{}, err
	}
	return v.(schemas.Session), nil
}

// fresh reports whether the session can still back API calls without cutting
// into the refresh margin.
func (c *Client) fresh(session schemas.Session) bool {
	now := c.clock()
	return session.Valid() && !session.Expired(now) && !session.Token.ExpiresWithin(now, c.margin)
}

// Close releases the resources the Client created itself. Stores supplied
// via WithSessionStore stay open.
func (c *Client) Close() {
	if c.ownsStore {
		store.Close(c.store)
	}
}
