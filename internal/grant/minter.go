package grant

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"oidcp/pkg/platform/strutil"
)

// AccessTokenClaims is the claim set carried by issued access tokens.
type AccessTokenClaims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"sid"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Minter produces the token artifacts a store hands out. Access tokens are
// signed JWTs; authorization codes and refresh tokens are opaque strings
// whose prefix identifies their kind at a glance in logs.
type Minter struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
}

func NewMinter(signingKey []byte, issuer string, accessTTL time.Duration) *Minter {
	return &Minter{
		signingKey: signingKey,
		issuer:     issuer,
		accessTTL:  accessTTL,
	}
}

// AccessTTL is the lifetime stamped into minted access tokens.
func (m *Minter) AccessTTL() time.Duration { return m.accessTTL }

// SID allocates a fresh opaque session id.
func (m *Minter) SID() string { return uuid.NewString() }

// Code mints a single-use authorization code.
func (m *Minter) Code() string { return "ac_" + randToken() }

// RefreshToken mints an opaque refresh token.
func (m *Minter) RefreshToken() string { return "rt_" + randToken() }

// AccessToken mints a signed JWT access token bound to the grant.
func (m *Minter) AccessToken(g *Grant, now time.Time) (string, error) {
	claims := AccessTokenClaims{
		UserID:    g.UserID,
		SessionID: g.SID,
		ClientID:  g.ClientID,
		Scope:     strutil.Join(g.Scope),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   g.Subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{g.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("could not sign access token: %w", err)
	}
	return signed, nil
}

func randToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; a broken entropy
		// source is not something to limp past.
		panic(fmt.Sprintf("could not read entropy: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
