package grant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oidcp/pkg/platform/sentinel"
)

type keyRef struct {
	kind TokenKind
	sid  string
}

// InMemoryStore keeps grants in process memory. It is the default backend
// for tests and single-instance deployments; the mutex makes every operation
// atomic per key, which is what gives codes their exactly-once promotion.
type InMemoryStore struct {
	mu     sync.RWMutex
	grants map[string]*Grant
	keys   map[string]keyRef

	minter     *Minter
	grantTTL   time.Duration
	refreshTTL time.Duration
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore(minter *Minter, grantTTL, refreshTTL time.Duration) *InMemoryStore {
	return &InMemoryStore{
		grants:     make(map[string]*Grant),
		keys:       make(map[string]keyRef),
		minter:     minter,
		grantTTL:   grantTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *InMemoryStore) Create(_ context.Context, params CreateParams) (string, error) {
	now := time.Now()
	g := &Grant{
		SID:           s.minter.SID(),
		UserID:        params.UserID,
		Subject:       params.Subject,
		ClientID:      params.ClientID,
		Scope:         append([]string(nil), params.Scope...),
		RedirectURI:   params.RedirectURI,
		Nonce:         params.Nonce,
		Code:          s.minter.Code(),
		OpenIDRequest: params.OpenIDRequest,
		AuthTime:      params.AuthTime,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.grantTTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.SID] = g
	s.keys[g.Code] = keyRef{kind: KindCode, sid: g.SID}
	return g.SID, nil
}

// resolve maps any artifact or session id onto the grant. Callers must hold
// at least a read lock.
func (s *InMemoryStore) resolve(key string) (*Grant, TokenKind, error) {
	if ref, ok := s.keys[key]; ok {
		if g, ok := s.grants[ref.sid]; ok {
			return g, ref.kind, nil
		}
	}
	if g, ok := s.grants[key]; ok {
		return g, KindSession, nil
	}
	return nil, "", fmt.Errorf("grant not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) Lookup(_ context.Context, key string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, _, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (s *InMemoryStore) PromoteToToken(_ context.Context, key string, issueRefresh bool) (*TokenBundle, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	g, kind, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if g.Revoked {
		return nil, fmt.Errorf("grant is revoked: %w", sentinel.ErrRevoked)
	}
	if kind == KindCode {
		if g.CodeUsed {
			return nil, fmt.Errorf("authorization code already consumed: %w", sentinel.ErrAlreadyUsed)
		}
		g.CodeUsed = true
	}

	accessToken, err := s.minter.AccessToken(g, now)
	if err != nil {
		return nil, err
	}
	g.AccessToken = accessToken
	g.ExtendExpiry(now.Add(s.minter.AccessTTL()))
	s.keys[accessToken] = keyRef{kind: KindAccess, sid: g.SID}

	if issueRefresh && g.RefreshToken == "" {
		g.RefreshToken = s.minter.RefreshToken()
		g.RefreshExpiresAt = now.Add(s.refreshTTL)
		g.ExtendExpiry(g.RefreshExpiresAt)
		s.keys[g.RefreshToken] = keyRef{kind: KindRefresh, sid: g.SID}
	}

	return s.bundle(g), nil
}

func (s *InMemoryStore) Refresh(_ context.Context, refreshToken string) (*TokenBundle, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.keys[refreshToken]
	if !ok || ref.kind != KindRefresh {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	g := s.grants[ref.sid]
	if g.Revoked {
		return nil, fmt.Errorf("grant is revoked: %w", sentinel.ErrRevoked)
	}
	if !g.RefreshExpiresAt.IsZero() && g.RefreshExpiresAt.Before(now) {
		return nil, fmt.Errorf("refresh token expired: %w", sentinel.ErrExpired)
	}

	accessToken, err := s.minter.AccessToken(g, now)
	if err != nil {
		return nil, err
	}
	g.AccessToken = accessToken
	g.ExtendExpiry(now.Add(s.minter.AccessTTL()))
	s.keys[accessToken] = keyRef{kind: KindAccess, sid: g.SID}

	return s.bundle(g), nil
}

func (s *InMemoryStore) Revoke(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	g.Revoked = true
	return nil
}

func (s *InMemoryStore) IsRevoked(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, _, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	return g.Revoked, nil
}

func (s *InMemoryStore) KindOf(_ context.Context, token string) (TokenKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.keys[token]
	if !ok {
		return "", fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
	}
	return ref.kind, nil
}

func (s *InMemoryStore) UpdateIDToken(_ context.Context, key string, idToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	g.IDToken = idToken
	s.keys[idToken] = keyRef{kind: KindID, sid: g.SID}
	return nil
}

func (s *InMemoryStore) SetPermission(_ context.Context, sid string, permission string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[sid]
	if !ok {
		return fmt.Errorf("grant not found: %w", sentinel.ErrNotFound)
	}
	g.Permission = permission
	return nil
}

func (s *InMemoryStore) ClearCode(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[sid]
	if !ok {
		return fmt.Errorf("grant not found: %w", sentinel.ErrNotFound)
	}
	if g.Code != "" {
		delete(s.keys, g.Code)
		g.Code = ""
	}
	return nil
}

// DeleteExpired removes grants whose lifetime ended before now, along with
// their key index entries. The time parameter is injected for testability.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for sid, g := range s.grants {
		if g.ExpiresAt.Before(now) {
			for key, ref := range s.keys {
				if ref.sid == sid {
					delete(s.keys, key)
				}
			}
			delete(s.grants, sid)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) bundle(g *Grant) *TokenBundle {
	return &TokenBundle{
		AccessToken:  g.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.minter.AccessTTL().Seconds()),
		RefreshToken: g.RefreshToken,
		Scope:        append([]string(nil), g.Scope...),
		IDToken:      g.IDToken,
	}
}
