package config

import (
	"os"
	"strconv"
	"time"
)

// Provider captures everything the server needs at construction time so main
// stays lean.
type Provider struct {
	Addr   string
	Issuer string

	// Seed keys client secret derivation, pairwise subjects and the SSO
	// cookie signature.
	Seed string

	// SigningKeyPEM is the provider's RSA signing key in PEM form. Empty
	// means an ephemeral key is generated at startup, which is only
	// acceptable for development.
	SigningKeyPEM string

	// LoginURL is the external login surface authentication challenges are
	// sent to.
	LoginURL string

	GrantBackend  string // memory | redis
	ClientBackend string // memory | postgres
	RedisURL      string
	PostgresDSN   string

	AccessTokenTTL  time.Duration
	IDTokenTTL      time.Duration
	GrantTTL        time.Duration
	RefreshTokenTTL time.Duration
	SSOTTL          time.Duration
	SecretTTL       time.Duration
	FetchTimeout    time.Duration

	IssueRefreshTokens bool
}

// FromEnv builds a Provider config from environment variables.
func FromEnv() Provider {
	return Provider{
		Addr:   envOr("OIDCP_ADDR", ":8080"),
		Issuer: envOr("OIDCP_ISSUER", "http://localhost:8080"),
		Seed:   envOr("OIDCP_SEED", "dev-seed-change-in-production"),

		SigningKeyPEM: os.Getenv("OIDCP_SIGNING_KEY_PEM"),
		LoginURL:      envOr("OIDCP_LOGIN_URL", "/login"),

		GrantBackend:  envOr("OIDCP_GRANT_BACKEND", "memory"),
		ClientBackend: envOr("OIDCP_CLIENT_BACKEND", "memory"),
		RedisURL:      os.Getenv("OIDCP_REDIS_URL"),
		PostgresDSN:   os.Getenv("OIDCP_POSTGRES_DSN"),

		AccessTokenTTL:  durationOr("OIDCP_ACCESS_TOKEN_TTL", time.Hour),
		IDTokenTTL:      durationOr("OIDCP_ID_TOKEN_TTL", time.Hour),
		GrantTTL:        durationOr("OIDCP_GRANT_TTL", 10*time.Minute),
		RefreshTokenTTL: durationOr("OIDCP_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		SSOTTL:          durationOr("OIDCP_SSO_TTL", 8*time.Hour),
		SecretTTL:       durationOr("OIDCP_CLIENT_SECRET_TTL", 0),
		FetchTimeout:    durationOr("OIDCP_FETCH_TIMEOUT", 5*time.Second),

		IssueRefreshTokens: boolOr("OIDCP_ISSUE_REFRESH_TOKENS", false),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func boolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
