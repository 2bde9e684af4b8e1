package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"oidcp/internal/oidc/models"
	"oidcp/pkg/platform/sentinel"
)

type CookieSuite struct {
	suite.Suite
	authn *CookieAuthenticator
}

func TestCookieSuite(t *testing.T) {
	suite.Run(t, new(CookieSuite))
}

func (s *CookieSuite) SetupTest() {
	s.authn = NewCookieAuthenticator([]byte("cookie-seed"), time.Hour)
}

func (s *CookieSuite) TestRoundTrip() {
	cookie, err := s.authn.MintCookie("user-1", time.Now())
	s.Require().NoError(err)
	s.Equal(CookieName, cookie.Name)
	s.True(cookie.HttpOnly)

	id, err := s.authn.Authenticate(cookie.Value, 0)
	s.Require().NoError(err)
	s.Equal("user-1", id.UserID)
	s.WithinDuration(time.Now(), id.AuthTime, 2*time.Second)
}

func (s *CookieSuite) TestRejections() {
	s.Run("empty cookie", func() {
		_, err := s.authn.Authenticate("", 0)
		s.Require().ErrorIs(err, sentinel.ErrNotAuthenticated)
	})

	s.Run("tampered signature", func() {
		cookie, err := s.authn.MintCookie("user-1", time.Now())
		s.Require().NoError(err)
		_, err = s.authn.Authenticate(cookie.Value+"x", 0)
		s.Require().ErrorIs(err, sentinel.ErrNotAuthenticated)
	})

	s.Run("foreign key", func() {
		other := NewCookieAuthenticator([]byte("other-seed"), time.Hour)
		cookie, err := other.MintCookie("user-1", time.Now())
		s.Require().NoError(err)
		_, err = s.authn.Authenticate(cookie.Value, 0)
		s.Require().ErrorIs(err, sentinel.ErrNotAuthenticated)
	})

	s.Run("past the cookie lifetime", func() {
		cookie, err := s.authn.MintCookie("user-1", time.Now().Add(-2*time.Hour))
		s.Require().NoError(err)
		_, err = s.authn.Authenticate(cookie.Value, 0)
		s.Require().ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("staler than max_age", func() {
		cookie, err := s.authn.MintCookie("user-1", time.Now().Add(-10*time.Minute))
		s.Require().NoError(err)

		_, err = s.authn.Authenticate(cookie.Value, 60)
		s.Require().ErrorIs(err, sentinel.ErrExpired)

		id, err := s.authn.Authenticate(cookie.Value, 3600)
		s.Require().NoError(err)
		s.Equal("user-1", id.UserID)
	})
}

func TestSecretVerifier(t *testing.T) {
	suiteCtx := context.Background()
	clients := &staticClients{regs: map[string]*models.ClientRegistration{
		"client-1": {ClientID: "client-1", ClientSecret: "s3cret"},
		"expired": {
			ClientID: "expired", ClientSecret: "s3cret",
			SecretExpiresAt: time.Now().Add(-time.Minute),
		},
	}}
	v := NewSecretVerifier(clients)

	if err := v.Verify(suiteCtx, "client-1", "s3cret"); err != nil {
		t.Fatalf("expected valid secret to verify: %v", err)
	}
	if err := v.Verify(suiteCtx, "client-1", "wrong"); err == nil {
		t.Fatal("expected wrong secret to fail")
	}
	if err := v.Verify(suiteCtx, "nobody", "s3cret"); err == nil {
		t.Fatal("expected unknown client to fail")
	}
	if err := v.Verify(suiteCtx, "expired", "s3cret"); err == nil {
		t.Fatal("expected expired secret to fail")
	}
	if err := v.Verify(suiteCtx, "client-1", ""); err == nil {
		t.Fatal("expected empty secret to fail")
	}
}

type staticClients struct {
	regs map[string]*models.ClientRegistration
}

func (s *staticClients) Lookup(_ context.Context, clientID string) (*models.ClientRegistration, error) {
	if reg, ok := s.regs[clientID]; ok {
		return reg, nil
	}
	return nil, sentinel.ErrNotFound
}

func TestStaticClaimsSource(t *testing.T) {
	src := NewStaticClaimsSource(map[string]map[string]any{
		"user-1": {"name": "Ada", "email": "ada@example.org"},
	})

	claims, err := src.ClaimsFor(context.Background(), "user-1", []string{"name", "nickname"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims["name"] != "Ada" {
		t.Fatalf("expected name claim, got %v", claims)
	}
	if _, ok := claims["nickname"]; ok {
		t.Fatal("unknown claim names must be omitted")
	}

	if _, err := src.ClaimsFor(context.Background(), "nobody", []string{"name"}); err == nil {
		t.Fatal("expected unknown user to fail")
	}
}
