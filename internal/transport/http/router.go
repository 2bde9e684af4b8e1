// Package httptransport is the thin HTTP layer. It parses requests, hands
// them to the domain services, and renders their results; protocol decisions
// live in the services.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"oidcp/internal/authorize"
	"oidcp/internal/idtoken"
	"oidcp/internal/platform/metrics"
	"oidcp/internal/registrar"
	"oidcp/internal/token"
	"oidcp/internal/userinfo"
)

// Handler bundles the services behind the public endpoints.
type Handler struct {
	authorize *authorize.Orchestrator
	token     *token.Service
	userinfo  *userinfo.Service
	registrar *registrar.Service
	pipeline  *idtoken.Pipeline
	log       zerolog.Logger

	issuer   string
	loginURL string
}

func NewHandler(
	orch *authorize.Orchestrator,
	tok *token.Service,
	ui *userinfo.Service,
	reg *registrar.Service,
	pipeline *idtoken.Pipeline,
	log zerolog.Logger,
	issuer, loginURL string,
) *Handler {
	return &Handler{
		authorize: orch,
		token:     tok,
		userinfo:  ui,
		registrar: reg,
		pipeline:  pipeline,
		log:       log.With().Str("component", "http").Logger(),

		issuer:   issuer,
		loginURL: loginURL,
	}
}

// NewRouter wires all public endpoints. Registration is rate limited since
// it is the only unauthenticated endpoint that allocates state.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	registrationLimiter := rate.NewLimiter(rate.Limit(5), 10)

	r.Route("/authorization", func(r chi.Router) {
		r.Use(metrics.Middleware("/authorization"))
		r.Get("/", h.handleAuthorize)
		r.Post("/", h.handleAuthorize)
	})
	r.With(metrics.Middleware("/token")).Post("/token", h.handleToken)
	r.Route("/userinfo", func(r chi.Router) {
		r.Use(metrics.Middleware("/userinfo"))
		r.Get("/", h.handleUserInfo)
		r.Post("/", h.handleUserInfo)
	})
	r.Route("/connect/register", func(r chi.Router) {
		r.Use(metrics.Middleware("/connect/register"))
		r.With(rateLimit(registrationLimiter)).Post("/", h.handleRegister)
		r.Get("/", h.handleReadRegistration)
	})

	r.Get("/.well-known/openid-configuration", h.handleProviderConfig)
	r.Get("/.well-known/webfinger", h.handleWebFinger)
	r.Get("/jwks", h.handleJWKS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"invalid_request","error_description":"registration rate exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
