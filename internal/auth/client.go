package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"oidcp/internal/oidc/models"
)

// ClientStore is the registration lookup the verifier needs.
type ClientStore interface {
	Lookup(ctx context.Context, clientID string) (*models.ClientRegistration, error)
}

// SecretVerifier authenticates clients by their registered secret.
type SecretVerifier struct {
	clients ClientStore
}

func NewSecretVerifier(clients ClientStore) *SecretVerifier {
	return &SecretVerifier{clients: clients}
}

// Verify checks the presented secret against the registration in constant
// time and rejects secrets past their expiry.
func (v *SecretVerifier) Verify(ctx context.Context, clientID, clientSecret string) error {
	if clientID == "" || clientSecret == "" {
		return fmt.Errorf("missing client credentials")
	}
	reg, err := v.clients.Lookup(ctx, clientID)
	if err != nil {
		return fmt.Errorf("unknown client %s: %w", clientID, err)
	}
	if !reg.SecretExpiresAt.IsZero() && reg.SecretExpiresAt.Before(time.Now()) {
		return fmt.Errorf("client secret expired")
	}
	if subtle.ConstantTimeCompare([]byte(reg.ClientSecret), []byte(clientSecret)) != 1 {
		return fmt.Errorf("client secret mismatch")
	}
	return nil
}
