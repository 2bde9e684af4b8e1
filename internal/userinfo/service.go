// Package userinfo resolves the claim set an access token entitles its
// bearer to, merging scope-derived claims with explicitly requested ones,
// and renders the response in the format the client registered for.
package userinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"oidcp/internal/grant"
	"oidcp/internal/idtoken"
	"oidcp/internal/oidc/models"
	"oidcp/pkg/oautherr"
	"oidcp/pkg/platform/sentinel"
)

// Provider is the external claims source. It returns whatever subset of the
// requested claim names it knows for the user; unknown names are simply
// absent from the result.
type Provider interface {
	ClaimsFor(ctx context.Context, userID string, names []string) (map[string]any, error)
}

// ClientStore is the registrar surface the aggregator needs.
type ClientStore interface {
	Lookup(ctx context.Context, clientID string) (*models.ClientRegistration, error)
}

// Response is a rendered userinfo document ready for the transport.
type Response struct {
	Body        []byte
	ContentType string
}

// Service aggregates and renders userinfo responses.
type Service struct {
	grants   grant.Store
	clients  ClientStore
	claims   Provider
	pipeline *idtoken.Pipeline
	log      zerolog.Logger
}

func NewService(grants grant.Store, clients ClientStore, claims Provider, pipeline *idtoken.Pipeline, log zerolog.Logger) *Service {
	return &Service{
		grants:   grants,
		clients:  clients,
		claims:   claims,
		pipeline: pipeline,
		log:      log.With().Str("component", "userinfo").Logger(),
	}
}

// UserInfo resolves the bearer token to its grant, aggregates the entitled
// claims and renders them. Plain JSON unless the client registered signed or
// encrypted userinfo responses.
func (s *Service) UserInfo(ctx context.Context, bearer string) (*Response, error) {
	kind, err := s.grants.KindOf(ctx, bearer)
	if err != nil || kind != grant.KindAccess {
		return nil, oautherr.FailedAuthentication("invalid access token")
	}
	g, err := s.grants.Lookup(ctx, bearer)
	if err != nil {
		return nil, oautherr.FailedAuthentication("invalid access token")
	}
	if g.Revoked {
		return nil, oautherr.AccessDenied("token is revoked")
	}

	names := entitledClaims(g)
	values, err := s.claims.ClaimsFor(ctx, g.UserID, names)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", g.UserID).Msg("claims source failed")
		return nil, oautherr.ServerError("could not resolve claims")
	}

	result := make(map[string]any, len(values)+1)
	for k, v := range values {
		result[k] = v
	}
	result["sub"] = g.Subject

	reg, err := s.clients.Lookup(ctx, g.ClientID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, oautherr.ServerError("could not load client registration")
	}

	if reg != nil && (reg.UserInfoSignedResponseAlg != "" || reg.UserInfoEncryptedResponseAlg != "") {
		token, err := s.renderJWT(result, reg)
		if err != nil {
			s.log.Error().Err(err).Str("client_id", g.ClientID).Msg("could not render signed userinfo")
			return nil, oautherr.ServerError("could not render userinfo response")
		}
		return &Response{Body: []byte(token), ContentType: "application/jwt"}, nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return nil, oautherr.ServerError("could not render userinfo response")
	}
	return &Response{Body: body, ContentType: "application/json"}, nil
}

func (s *Service) renderJWT(claims map[string]any, reg *models.ClientRegistration) (string, error) {
	if reg.UserInfoSignedResponseAlg == "" {
		// encryption without signing: encrypt the bare JSON claims
		payload, err := json.Marshal(claims)
		if err != nil {
			return "", err
		}
		return s.pipeline.Encrypt(string(payload), reg, idtoken.ArtifactUserInfo)
	}
	return s.pipeline.SignAndMaybeEncrypt(claims, reg, idtoken.ArtifactUserInfo)
}

// ClaimsForIDToken resolves the extra claims a request object asked to be
// embedded in the ID token itself.
func (s *Service) ClaimsForIDToken(ctx context.Context, g *grant.Grant) (map[string]any, error) {
	if g.OpenIDRequest == nil || g.OpenIDRequest.Claims == nil || len(g.OpenIDRequest.Claims.IDToken) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(g.OpenIDRequest.Claims.IDToken))
	for name := range g.OpenIDRequest.Claims.IDToken {
		switch name {
		case "sub", "auth_time":
			// provided by the pipeline itself
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, nil
	}
	values, err := s.claims.ClaimsFor(ctx, g.UserID, names)
	if err != nil {
		return nil, fmt.Errorf("could not resolve id_token claims: %w", err)
	}
	return values, nil
}

// entitledClaims expands the grant's scope through the scope-to-claims table
// and unions in the names the request object asked for explicitly.
func entitledClaims(g *grant.Grant) []string {
	var names []string
	for _, scope := range g.Scope {
		for _, name := range models.ScopeClaims[scope] {
			if name == "sub" {
				continue
			}
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	if g.OpenIDRequest != nil && g.OpenIDRequest.Claims != nil {
		for name := range g.OpenIDRequest.Claims.UserInfo {
			if name == "sub" {
				continue
			}
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}
