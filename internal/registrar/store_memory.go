package registrar

import (
	"context"
	"fmt"
	"sync"

	"oidcp/internal/oidc/models"
	"oidcp/pkg/platform/sentinel"
)

// InMemoryStore keeps registrations in process memory, for tests and
// single-instance deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*models.ClientRegistration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{clients: make(map[string]*models.ClientRegistration)}
}

func (s *InMemoryStore) Insert(_ context.Context, reg *models.ClientRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[reg.ClientID]; ok {
		return fmt.Errorf("client %s already registered: %w", reg.ClientID, sentinel.ErrConflict)
	}
	cp := *reg
	s.clients[reg.ClientID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, clientID string) (*models.ClientRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", clientID, sentinel.ErrNotFound)
	}
	cp := *reg
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, reg *models.ClientRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[reg.ClientID]; !ok {
		return fmt.Errorf("client %s: %w", reg.ClientID, sentinel.ErrNotFound)
	}
	cp := *reg
	s.clients[reg.ClientID] = &cp
	return nil
}
