// Package token implements the token endpoint: authorization code exchange
// and refresh-token grants.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"oidcp/internal/grant"
	"oidcp/internal/idtoken"
	"oidcp/internal/oidc/models"
	"oidcp/pkg/oautherr"
	"oidcp/pkg/platform/sentinel"
	"oidcp/pkg/platform/strutil"
)

var exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "oidcp_token_exchanges_total",
	Help: "Token endpoint outcomes by grant type",
}, []string{"grant_type", "outcome"})

var tracer = otel.Tracer("oidcp/token")

// ClientAuthenticator verifies the client credentials presented with a token
// request.
type ClientAuthenticator interface {
	Verify(ctx context.Context, clientID, clientSecret string) error
}

// ClientStore is the registrar surface the token endpoint consumes.
type ClientStore interface {
	Lookup(ctx context.Context, clientID string) (*models.ClientRegistration, error)
}

// IDClaimsSource resolves the extra claims to embed in a grant's ID token.
type IDClaimsSource interface {
	ClaimsForIDToken(ctx context.Context, g *grant.Grant) (map[string]any, error)
}

// Service exchanges authorization codes and refresh tokens for tokens.
type Service struct {
	grants     grant.Store
	clients    ClientStore
	clientAuth ClientAuthenticator
	pipeline   *idtoken.Pipeline
	idClaims   IDClaimsSource
	log        zerolog.Logger

	// issueRefresh controls whether code exchanges hand out refresh tokens.
	issueRefresh bool
}

func NewService(
	grants grant.Store,
	clients ClientStore,
	clientAuth ClientAuthenticator,
	pipeline *idtoken.Pipeline,
	idClaims IDClaimsSource,
	log zerolog.Logger,
	issueRefresh bool,
) *Service {
	return &Service{
		grants:       grants,
		clients:      clients,
		clientAuth:   clientAuth,
		pipeline:     pipeline,
		idClaims:     idClaims,
		log:          log.With().Str("component", "token").Logger(),
		issueRefresh: issueRefresh,
	}
}

// Exchange handles one token endpoint request. Client authentication runs
// before anything else; an unauthenticated client learns nothing about the
// grant it presented.
func (s *Service) Exchange(ctx context.Context, req *models.TokenRequest) (*models.AccessTokenResponse, error) {
	ctx, span := tracer.Start(ctx, "token.exchange")
	defer span.End()
	span.SetAttributes(attribute.String("client_id", req.ClientID))

	if err := req.Validate(); err != nil {
		exchangesTotal.WithLabelValues(req.GrantType, "invalid_request").Inc()
		return nil, err
	}

	if err := s.clientAuth.Verify(ctx, req.ClientID, req.ClientSecret); err != nil {
		exchangesTotal.WithLabelValues(req.GrantType, "unauthorized_client").Inc()
		return nil, oautherr.UnauthorizedClient("client authentication failed")
	}

	if req.IsRefresh() {
		return s.refresh(ctx, req)
	}
	return s.exchangeCode(ctx, req)
}

func (s *Service) exchangeCode(ctx context.Context, req *models.TokenRequest) (*models.AccessTokenResponse, error) {
	fail := func(err *oautherr.Error, outcome string) (*models.AccessTokenResponse, error) {
		exchangesTotal.WithLabelValues(models.GrantAuthorizationCode, outcome).Inc()
		return nil, err
	}

	// Only authorization codes are exchangeable here. Access tokens, refresh
	// tokens and session ids also resolve to a grant, but promoting them
	// would sidestep the code's single-use gate.
	kind, err := s.grants.KindOf(ctx, req.Code)
	if err != nil || kind != grant.KindCode {
		return fail(oautherr.InvalidGrant("unknown authorization code"), "unknown_code")
	}

	g, err := s.grants.Lookup(ctx, req.Code)
	if err != nil {
		return fail(oautherr.InvalidGrant("unknown authorization code"), "unknown_code")
	}
	if g.ClientID != req.ClientID {
		return fail(oautherr.InvalidGrant("code was not issued to this client"), "client_mismatch")
	}
	if g.Revoked {
		return fail(oautherr.AccessDenied("Token is revoked"), "revoked")
	}
	if g.RedirectURI != req.RedirectURI {
		return fail(oautherr.InvalidRequest("redirect_uri does not match the authorization request"), "redirect_mismatch")
	}

	bundle, err := s.grants.PromoteToToken(ctx, req.Code, s.issueRefresh)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			// code replay burns every token derived from the grant
			if rerr := s.grants.Revoke(ctx, req.Code); rerr != nil {
				s.log.Error().Err(rerr).Msg("could not revoke replayed grant")
			}
			s.log.Warn().Str("client_id", req.ClientID).Msg("authorization code replay detected")
			return fail(oautherr.AccessDenied("authorization code already consumed"), "replay")
		case errors.Is(err, sentinel.ErrRevoked):
			return fail(oautherr.AccessDenied("Token is revoked"), "revoked")
		case errors.Is(err, sentinel.ErrNotFound):
			return fail(oautherr.InvalidGrant("unknown authorization code"), "unknown_code")
		}
		// An internal failure mid-promotion may have left tokens partially
		// minted. Burn the whole grant rather than leave them live.
		s.log.Error().Err(err).Msg("promotion failed, revoking grant")
		if rerr := s.grants.Revoke(ctx, req.Code); rerr != nil {
			s.log.Error().Err(rerr).Msg("could not revoke grant after failed promotion")
		}
		return fail(oautherr.AccessDenied("access denied"), "store_error")
	}

	if g.HasOpenIDScope() {
		idt, err := s.issueIDToken(ctx, bundle.AccessToken)
		if err != nil {
			s.log.Error().Err(err).Msg("could not issue id token")
			return fail(oautherr.ServerError("could not issue id token"), "idtoken_error")
		}
		bundle.IDToken = idt
	}

	exchangesTotal.WithLabelValues(models.GrantAuthorizationCode, "success").Inc()
	return response(bundle), nil
}

func (s *Service) refresh(ctx context.Context, req *models.TokenRequest) (*models.AccessTokenResponse, error) {
	fail := func(err *oautherr.Error, outcome string) (*models.AccessTokenResponse, error) {
		exchangesTotal.WithLabelValues(models.GrantRefreshToken, outcome).Inc()
		return nil, err
	}

	bundle, err := s.grants.Refresh(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrRevoked):
			return fail(oautherr.AccessDenied("Token is revoked"), "revoked")
		case errors.Is(err, sentinel.ErrExpired):
			return fail(oautherr.InvalidGrant("refresh token expired"), "expired")
		case errors.Is(err, sentinel.ErrNotFound):
			return fail(oautherr.InvalidGrant("unknown refresh token"), "unknown_token")
		}
		s.log.Error().Err(err).Msg("refresh failed")
		return fail(oautherr.ServerError("could not refresh tokens"), "store_error")
	}

	g, err := s.grants.Lookup(ctx, req.RefreshToken)
	if err == nil && g.HasOpenIDScope() {
		idt, err := s.issueIDToken(ctx, bundle.AccessToken)
		if err != nil {
			s.log.Error().Err(err).Msg("could not rotate id token")
			return fail(oautherr.ServerError("could not issue id token"), "idtoken_error")
		}
		bundle.IDToken = idt
	}

	exchangesTotal.WithLabelValues(models.GrantRefreshToken, "success").Inc()
	return response(bundle), nil
}

// issueIDToken mints a fresh ID token for the grant behind the access token
// and persists it so the grant record always reflects the last one issued.
func (s *Service) issueIDToken(ctx context.Context, accessToken string) (string, error) {
	g, err := s.grants.Lookup(ctx, accessToken)
	if err != nil {
		return "", err
	}
	reg, err := s.clients.Lookup(ctx, g.ClientID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}
	extra, err := s.idClaims.ClaimsForIDToken(ctx, g)
	if err != nil {
		return "", err
	}
	idt, err := s.pipeline.IssueIDToken(g, reg, extra, "", "", time.Now())
	if err != nil {
		return "", err
	}
	if err := s.grants.UpdateIDToken(ctx, accessToken, idt); err != nil {
		return "", err
	}
	return idt, nil
}

func response(bundle *grant.TokenBundle) *models.AccessTokenResponse {
	return &models.AccessTokenResponse{
		AccessToken:  bundle.AccessToken,
		TokenType:    bundle.TokenType,
		ExpiresIn:    bundle.ExpiresIn,
		RefreshToken: bundle.RefreshToken,
		Scope:        strutil.Join(bundle.Scope),
		IDToken:      bundle.IDToken,
	}
}
