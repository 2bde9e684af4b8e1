package registrar

import (
	"context"

	"oidcp/internal/oidc/models"
)

// Store persists client registrations.
//
// Error Contract:
//   - Insert returns sentinel.ErrConflict when the client id already exists
//   - Get and Update return sentinel.ErrNotFound for unknown client ids
//   - nil on success; wrapped errors for infrastructure failures
type Store interface {
	Insert(ctx context.Context, reg *models.ClientRegistration) error
	Get(ctx context.Context, clientID string) (*models.ClientRegistration, error)
	Update(ctx context.Context, reg *models.ClientRegistration) error
}
