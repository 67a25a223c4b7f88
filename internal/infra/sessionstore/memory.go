// Package sessionstore persists the tokens of a rendering context: in
// memory, in a signed and encrypted cookie, or in a YAML file.
package sessionstore

import (
	"context"
	"sync"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
)

// Memory keeps the session in process memory. Used by tests and
// short-lived tools.
type Memory struct {
	mu      sync.Mutex
	session *domain.Session
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *Memory) Save(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.session = &c
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
