// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"oidcp/internal/auth"
	"oidcp/internal/authorize"
	"oidcp/internal/grant"
	"oidcp/internal/idtoken"
	"oidcp/internal/platform/config"
	"oidcp/internal/platform/httpserver"
	"oidcp/internal/platform/logger"
	platformredis "oidcp/internal/platform/redis"
	"oidcp/internal/registrar"
	"oidcp/internal/token"
	httptransport "oidcp/internal/transport/http"
	"oidcp/internal/userinfo"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signingKey, err := loadSigningKey(cfg.SigningKeyPEM)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load signing key")
	}
	seed := []byte(cfg.Seed)

	minter := grant.NewMinter(seed, cfg.Issuer, cfg.AccessTokenTTL)

	var grants grant.Store
	var memGrants *grant.InMemoryStore
	switch cfg.GrantBackend {
	case "redis":
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to redis")
		}
		if client == nil {
			log.Fatal().Msg("grant backend is redis but OIDCP_REDIS_URL is empty")
		}
		defer client.Close()
		grants = grant.NewRedisStore(client.Client, minter, cfg.GrantTTL, cfg.RefreshTokenTTL)
	default:
		memGrants = grant.NewInMemoryStore(minter, cfg.GrantTTL, cfg.RefreshTokenTTL)
		grants = memGrants
	}

	var clients registrar.Store
	switch cfg.ClientBackend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to postgres")
		}
		defer pool.Close()
		clients = registrar.NewPostgresStore(pool)
	default:
		clients = registrar.NewInMemoryStore()
	}

	pipeline := idtoken.NewPipeline(cfg.Issuer, signingKey, "oidcp-1", cfg.IDTokenTTL, seed)
	registrarSvc := registrar.NewService(
		clients,
		registrar.NewHTTPSectorFetcher(cfg.FetchTimeout),
		log, seed, cfg.Issuer, cfg.SecretTTL,
	)

	claims, err := loadClaimsSource()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load user claims table")
	}

	userinfoSvc := userinfo.NewService(grants, registrarSvc, claims, pipeline, log)
	orchestrator := authorize.NewOrchestrator(
		registrarSvc, grants, pipeline,
		auth.NewCookieAuthenticator(seed, cfg.SSOTTL),
		auth.NewImplicitConsent(),
		authorize.NewHTTPRequestFetcher(cfg.FetchTimeout),
		userinfoSvc,
		log,
	)
	tokenSvc := token.NewService(
		grants, registrarSvc,
		auth.NewSecretVerifier(registrarSvc),
		pipeline, userinfoSvc, log, cfg.IssueRefreshTokens,
	)

	handler := httptransport.NewHandler(
		orchestrator, tokenSvc, userinfoSvc, registrarSvc,
		pipeline, log, cfg.Issuer, cfg.LoginURL,
	)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("issuer", cfg.Issuer).Msg("starting oidcp")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if memGrants != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					if n, err := memGrants.DeleteExpired(ctx, now); err == nil && n > 0 {
						log.Debug().Int("deleted", n).Msg("expired grants removed")
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("shutdown with error")
	}
	log.Info().Msg("shutdown complete")
}

// loadSigningKey parses the configured RSA key PEM, generating an ephemeral
// development key when none is configured.
func loadSigningKey(pemData string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("signing key is not valid PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return key, nil
}

// loadClaimsSource reads the user claims table from the file named by
// OIDCP_USERS_JSON. An empty setting yields an empty table.
func loadClaimsSource() (*auth.StaticClaimsSource, error) {
	path := os.Getenv("OIDCP_USERS_JSON")
	if path == "" {
		return auth.NewStaticClaimsSource(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var users map[string]map[string]any
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	return auth.NewStaticClaimsSource(users), nil
}
