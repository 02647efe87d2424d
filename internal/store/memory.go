// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"github.com/xkilldash9x/fitbridge/api/schemas"
)

// Memory is an in-process session store. It holds the session only for the
// lifetime of the program; every access copies the value in or out, so
// callers can never mutate stored state through a shared reference.
type Memory struct {
	mu      sync.RWMutex
	session schemas.Session
	present bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Get retrieves the current session.
func (m *Memory) Get(_ context.Context) (schemas.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.present {
		return schemas.Session{}, schemas.ErrNoSession
	}
	return m.session, nil
}

// Set replaces the current session.
func (m *Memory) Set(_ context.Context, s schemas.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = s
	m.present = true
	return nil
}

// Clear removes the current session. Clearing an empty store is not an error.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = schemas.Session{}
	m.present = false
	return nil
}
