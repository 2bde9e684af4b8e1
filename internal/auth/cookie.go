// Package auth provides the default collaborator implementations the server
// wires into the authorization and token flows: the HMAC-signed single
// sign-on cookie, client secret verification, consent, and a static claims
// source. Deployments with a real identity backend replace these behind the
// consuming interfaces.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"oidcp/internal/authorize"
	"oidcp/pkg/platform/sentinel"
)

// CookieName is the single sign-on cookie.
const CookieName = "oidcp_sso"

// CookieAuthenticator verifies and mints the SSO cookie. The cookie value is
// user id and auth time, HMAC-signed with the provider seed.
type CookieAuthenticator struct {
	key []byte
	ttl time.Duration
}

func NewCookieAuthenticator(key []byte, ttl time.Duration) *CookieAuthenticator {
	return &CookieAuthenticator{key: key, ttl: ttl}
}

// Authenticate validates the cookie value and enforces both the cookie's own
// lifetime and the request's max_age freshness bound (seconds, zero means
// unbounded).
func (a *CookieAuthenticator) Authenticate(cookie string, maxAge int) (*authorize.Identity, error) {
	if cookie == "" {
		return nil, fmt.Errorf("no session cookie: %w", sentinel.ErrNotAuthenticated)
	}
	parts := strings.Split(cookie, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed session cookie: %w", sentinel.ErrNotAuthenticated)
	}
	if !hmac.Equal([]byte(parts[2]), []byte(a.sign(parts[0]+"."+parts[1]))) {
		return nil, fmt.Errorf("session cookie signature mismatch: %w", sentinel.ErrNotAuthenticated)
	}

	uid, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed session cookie: %w", sentinel.ErrNotAuthenticated)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed session cookie: %w", sentinel.ErrNotAuthenticated)
	}

	authTime := time.Unix(ts, 0)
	now := time.Now()
	if now.Sub(authTime) > a.ttl {
		return nil, fmt.Errorf("session cookie past its lifetime: %w", sentinel.ErrExpired)
	}
	if maxAge > 0 && now.Sub(authTime) > time.Duration(maxAge)*time.Second {
		return nil, fmt.Errorf("authentication older than max_age: %w", sentinel.ErrExpired)
	}

	return &authorize.Identity{UserID: string(uid), AuthTime: authTime}, nil
}

func (a *CookieAuthenticator) MintCookie(userID string, now time.Time) (*http.Cookie, error) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(userID)) + "." + strconv.FormatInt(now.Unix(), 10)
	return &http.Cookie{
		Name:     CookieName,
		Value:    payload + "." + a.sign(payload),
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

func (a *CookieAuthenticator) sign(payload string) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
