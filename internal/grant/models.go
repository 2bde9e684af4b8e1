// Package grant owns the session/grant lifecycle: creation at authorization
// time, code-to-token promotion, refresh, and revocation. A Grant binds a
// user, client, scope, and every token derived from one authorization.
package grant

import (
	"time"

	"oidcp/internal/oidc/models"
)

// TokenKind discriminates the artifacts that resolve to a grant.
type TokenKind string

const (
	KindCode    TokenKind = "code"
	KindAccess  TokenKind = "access_token"
	KindRefresh TokenKind = "refresh_token"
	KindID      TokenKind = "id_token"
	// KindSession marks lookup by the grant's own opaque session id.
	KindSession TokenKind = "sid"
)

// Grant is the server-side record for one authorization. It is keyed by an
// opaque session id; the authorization code, access token, refresh token and
// id token all resolve back to it.
type Grant struct {
	SID      string `json:"sid"`
	UserID   string `json:"user_id"`
	Subject  string `json:"sub"`
	ClientID string `json:"client_id"`

	Scope       []string `json:"scope"`
	RedirectURI string   `json:"redirect_uri,omitempty"`
	Nonce       string   `json:"nonce,omitempty"`

	Code     string `json:"code,omitempty"`
	CodeUsed bool   `json:"code_used"`

	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	Permission string `json:"permission,omitempty"`
	Revoked    bool   `json:"revoked"`

	OpenIDRequest *models.OpenIDRequest `json:"oidreq,omitempty"`

	AuthTime         time.Time `json:"auth_time"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// HasOpenIDScope reports whether the grant's scope triggers ID-token
// issuance.
func (g *Grant) HasOpenIDScope() bool {
	for _, s := range g.Scope {
		if s == models.ScopeOpenID {
			return true
		}
	}
	return false
}

// ExtendExpiry pushes the record's lifetime out so it outlives an artifact
// expiring at t. The record must stay resolvable for as long as any token
// derived from it is valid.
func (g *Grant) ExtendExpiry(t time.Time) {
	if t.After(g.ExpiresAt) {
		g.ExpiresAt = t
	}
}

// Clone returns an independent copy safe to hand outside the store.
func (g *Grant) Clone() *Grant {
	out := *g
	out.Scope = append([]string(nil), g.Scope...)
	return &out
}

// CreateParams captures everything an authorization supplies when a grant is
// allocated.
type CreateParams struct {
	UserID      string
	Subject     string
	ClientID    string
	Scope       []string
	RedirectURI string
	Nonce       string
	AuthTime    time.Time

	// OpenIDRequest is the embedded request object, stored for later claim
	// resolution at the token and userinfo endpoints.
	OpenIDRequest *models.OpenIDRequest
}

// TokenBundle is the result of promoting or refreshing a grant.
type TokenBundle struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        []string
	IDToken      string
}
