// Package authorize drives the authorization endpoint state machine: client
// and redirect URI validation, request object resolution, end-user
// authentication, consent, grant creation, and response construction.
//
// Error delivery is two-phase. Until the redirect URI has been resolved and
// trusted, every failure is returned to the caller directly. From that point
// on failures travel to the client as error redirects.
package authorize

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"oidcp/internal/grant"
	"oidcp/internal/idtoken"
	"oidcp/internal/oidc/models"
	"oidcp/internal/redirecturi"
	"oidcp/internal/registrar"
	"oidcp/pkg/oautherr"
	"oidcp/pkg/platform/strutil"
)

var authorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "oidcp_authorizations_total",
	Help: "Authorization endpoint outcomes",
}, []string{"outcome"})

var tracer = otel.Tracer("oidcp/authorize")

// Identity is an authenticated end user as reported by the Authenticator.
type Identity struct {
	UserID   string
	AuthTime time.Time
}

// Authenticator verifies the single sign-on cookie and mints fresh ones.
// Authenticate returns sentinel.ErrNotAuthenticated when the cookie is
// absent or invalid and sentinel.ErrExpired when the authentication is older
// than maxAge seconds (maxAge zero means no freshness bound).
type Authenticator interface {
	Authenticate(cookie string, maxAge int) (*Identity, error)
	MintCookie(userID string, now time.Time) (*http.Cookie, error)
}

// Authorizer computes the permission granted to a client for a user. An
// error means consent was denied.
type Authorizer interface {
	Permission(ctx context.Context, userID, clientID string, scope []string) (string, error)
}

// RequestObjectFetcher dereferences a request_uri with a bounded timeout.
type RequestObjectFetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// ClientStore is the registrar surface the orchestrator consumes.
type ClientStore interface {
	Lookup(ctx context.Context, clientID string) (*models.ClientRegistration, error)
}

// IDClaimsSource resolves the extra claims a request object asks to embed
// in the ID token.
type IDClaimsSource interface {
	ClaimsForIDToken(ctx context.Context, g *grant.Grant) (map[string]any, error)
}

// Redirect is a finished authorization: the user agent goes to Location and
// the refreshed SSO cookie rides along.
type Redirect struct {
	Location string
	Cookie   *http.Cookie
}

// Challenge asks the transport to send the user agent to the login surface,
// replaying Query afterwards. AsUser is set when the request object demands
// a specific end user.
type Challenge struct {
	Query     url.Values
	AsUser    string
	PolicyURL string
	LogoURL   string
}

// Outcome is the result of one authorization request. Exactly one field is
// set.
type Outcome struct {
	Redirect  *Redirect
	Challenge *Challenge
}

// Orchestrator wires the authorization flow's collaborators together.
type Orchestrator struct {
	clients  ClientStore
	grants   grant.Store
	pipeline *idtoken.Pipeline
	auth     Authenticator
	consent  Authorizer
	fetcher  RequestObjectFetcher
	idClaims IDClaimsSource
	log      zerolog.Logger
}

func NewOrchestrator(
	clients ClientStore,
	grants grant.Store,
	pipeline *idtoken.Pipeline,
	auth Authenticator,
	consent Authorizer,
	fetcher RequestObjectFetcher,
	idClaims IDClaimsSource,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		clients:  clients,
		grants:   grants,
		pipeline: pipeline,
		auth:     auth,
		consent:  consent,
		fetcher:  fetcher,
		idClaims: idClaims,
		log:      log.With().Str("component", "authorize").Logger(),
	}
}

// Authorize runs the full state machine for one authorization request.
func (o *Orchestrator) Authorize(ctx context.Context, values url.Values, ssoCookie string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "authorize")
	defer span.End()

	req := models.ParseAuthorizationRequest(values)
	if err := req.Validate(); err != nil {
		authorizationsTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.String("client_id", req.ClientID),
		attribute.String("response_type", strutil.Join(req.ResponseType)),
	)

	reg, err := o.clients.Lookup(ctx, req.ClientID)
	if err != nil {
		authorizationsTotal.WithLabelValues("unknown_client").Inc()
		return nil, oautherr.InvalidRequest("unknown client_id")
	}

	redirectURI, err := redirecturi.Resolve(req, reg)
	if err != nil {
		// untrusted redirect URI, never deliver the error by redirect
		o.log.Warn().Err(err).Str("client_id", req.ClientID).Msg("redirect_uri rejected")
		authorizationsTotal.WithLabelValues("bad_redirect_uri").Inc()
		return nil, oautherr.InvalidRequest("redirect_uri does not match any registered uri")
	}

	useFragment := fragmentPlacement(req.ResponseType)
	fail := func(perr *oautherr.Error, outcome string) (*Outcome, error) {
		authorizationsTotal.WithLabelValues(outcome).Inc()
		return nil, oautherr.Redirected(perr, redirectURI, req.State, useFragment)
	}

	if err := o.resolveRequestObject(ctx, req, reg); err != nil {
		perr := oautherr.AsError(err)
		if perr == nil {
			perr = oautherr.ServerError("could not resolve request object")
		}
		return fail(perr, "bad_request_object")
	}

	nonce := req.Nonce
	if nonce == "" && req.RequestObject != nil {
		nonce = req.RequestObject.Nonce
	}
	if req.HasResponseType(models.ResponseTypeIDToken) && nonce == "" {
		authorizationsTotal.WithLabelValues("missing_nonce").Inc()
		return nil, oautherr.InvalidRequest("Missing nonce value")
	}

	id, authErr := o.auth.Authenticate(ssoCookie, req.EffectiveMaxAge())
	needLogin := authErr != nil || req.HasPrompt(models.PromptLogin)

	requiredSubject := req.RequiredSubject()
	if !needLogin && requiredSubject != "" {
		sectorID, err := registrar.SectorID(redirectURI, reg)
		if err != nil {
			return fail(oautherr.InvalidRequest(err.Error()), "bad_sector")
		}
		if o.subject(id.UserID, reg, sectorID) != requiredSubject {
			needLogin = true
		}
	}

	if needLogin {
		if req.HasPrompt(models.PromptNone) {
			return fail(oautherr.New(oautherr.CodeLoginRequired, "", http.StatusBadRequest), "login_required")
		}
		authorizationsTotal.WithLabelValues("challenge").Inc()
		challenge := &Challenge{Query: values, AsUser: requiredSubject}
		if reg != nil {
			challenge.PolicyURL = reg.PolicyURL
			challenge.LogoURL = reg.LogoURL
		}
		return &Outcome{Challenge: challenge}, nil
	}

	permission, err := o.consent.Permission(ctx, id.UserID, req.ClientID, req.Scope)
	if err != nil {
		return fail(oautherr.AccessDenied("consent not granted"), "access_denied")
	}

	sectorID, err := registrar.SectorID(redirectURI, reg)
	if err != nil {
		return fail(oautherr.InvalidRequest(err.Error()), "bad_sector")
	}

	sid, err := o.grants.Create(ctx, grant.CreateParams{
		UserID:        id.UserID,
		Subject:       o.subject(id.UserID, reg, sectorID),
		ClientID:      req.ClientID,
		Scope:         req.Scope,
		RedirectURI:   req.RedirectURI,
		Nonce:         nonce,
		AuthTime:      id.AuthTime,
		OpenIDRequest: req.RequestObject,
	})
	if err != nil {
		o.log.Error().Err(err).Msg("could not create grant")
		return fail(oautherr.ServerError("could not create grant"), "store_error")
	}
	if err := o.grants.SetPermission(ctx, sid, permission); err != nil {
		return fail(oautherr.ServerError("could not record permission"), "store_error")
	}

	resp, err := o.buildResponse(ctx, req, reg, sid)
	if err != nil {
		perr := oautherr.AsError(err)
		if perr == nil {
			perr = oautherr.ServerError("could not build authorization response")
		}
		return fail(perr, "response_error")
	}
	resp.State = req.State

	cookie, err := o.auth.MintCookie(id.UserID, time.Now())
	if err != nil {
		return fail(oautherr.ServerError("could not mint session cookie"), "cookie_error")
	}

	authorizationsTotal.WithLabelValues("success").Inc()
	o.log.Info().
		Str("client_id", req.ClientID).
		Str("response_type", strutil.Join(req.ResponseType)).
		Bool("fragment", useFragment).
		Msg("authorization issued")

	return &Outcome{Redirect: &Redirect{
		Location: buildLocation(redirectURI, resp.Params(), useFragment),
		Cookie:   cookie,
	}}, nil
}

// resolveRequestObject decodes the inline request value or fetches and
// decodes the request_uri content, attaching the result to req.
func (o *Orchestrator) resolveRequestObject(ctx context.Context, req *models.AuthorizationRequest, reg *models.ClientRegistration) error {
	raw := req.Request
	if raw == "" && req.RequestURI != "" {
		fetched, err := o.fetcher.Fetch(ctx, req.RequestURI)
		if err != nil {
			o.log.Warn().Err(err).Str("request_uri", req.RequestURI).Msg("request_uri fetch failed")
			return oautherr.New(oautherr.CodeInvalidRequestURI, "could not fetch request_uri", http.StatusBadRequest)
		}
		raw = fetched
	}
	if raw == "" {
		return nil
	}

	obj, err := o.pipeline.ParseRequestObject(raw, reg)
	if err != nil {
		return oautherr.New(oautherr.CodeInvalidOpenIDRequestObject, err.Error(), http.StatusBadRequest)
	}
	if obj.ClientID != "" && obj.ClientID != req.ClientID {
		return oautherr.New(oautherr.CodeInvalidOpenIDRequestObject, "request object client_id mismatch", http.StatusBadRequest)
	}
	req.RequestObject = obj
	return nil
}

// buildResponse consumes the requested response types one by one. Anything
// left unconsumed is an unknown response type.
func (o *Orchestrator) buildResponse(ctx context.Context, req *models.AuthorizationRequest, reg *models.ClientRegistration, sid string) (*models.AuthorizationResponse, error) {
	remaining := slices.Clone(req.ResponseType)
	consume := func(t string) bool {
		i := slices.Index(remaining, t)
		if i < 0 {
			return false
		}
		remaining = slices.Delete(remaining, i, i+1)
		return true
	}

	resp := &models.AuthorizationResponse{}

	if consume(models.ResponseTypeCode) {
		g, err := o.grants.Lookup(ctx, sid)
		if err != nil {
			return nil, err
		}
		resp.Code = g.Code
	} else {
		// the code never leaves the server, withdraw it
		if err := o.grants.ClearCode(ctx, sid); err != nil {
			return nil, err
		}
	}

	if consume(models.ResponseTypeToken) {
		bundle, err := o.grants.PromoteToToken(ctx, sid, false)
		if err != nil {
			return nil, err
		}
		resp.AccessToken = bundle.AccessToken
		resp.TokenType = bundle.TokenType
		resp.ExpiresIn = bundle.ExpiresIn
		resp.Scope = bundle.Scope
	}

	if consume(models.ResponseTypeIDToken) {
		g, err := o.grants.Lookup(ctx, sid)
		if err != nil {
			return nil, err
		}
		extra, err := o.idClaims.ClaimsForIDToken(ctx, g)
		if err != nil {
			return nil, err
		}
		idt, err := o.pipeline.IssueIDToken(g, reg, extra, resp.Code, resp.AccessToken, time.Now())
		if err != nil {
			return nil, err
		}
		if err := o.grants.UpdateIDToken(ctx, sid, idt); err != nil {
			return nil, err
		}
		resp.IDToken = idt
	}

	consume(models.ResponseTypeNone)

	if len(remaining) > 0 {
		return nil, oautherr.InvalidRequest("Unknown response type: " + strutil.Join(remaining))
	}
	return resp, nil
}

func (o *Orchestrator) subject(userID string, reg *models.ClientRegistration, sectorID string) string {
	if reg != nil && reg.SubjectType == models.SubjectTypePairwise {
		return o.pipeline.PairwiseSubject(sectorID, userID)
	}
	return userID
}

// fragmentPlacement decides whether response parameters ride in the URI
// fragment. Only the pure code, token and none response types use the query.
func fragmentPlacement(responseType []string) bool {
	if len(responseType) != 1 {
		return true
	}
	switch responseType[0] {
	case models.ResponseTypeCode, models.ResponseTypeToken, models.ResponseTypeNone:
		return false
	}
	return true
}

func buildLocation(redirectURI string, params url.Values, fragment bool) string {
	if len(params) == 0 {
		return redirectURI
	}
	sep := "?"
	if fragment {
		sep = "#"
	} else if u, err := url.Parse(redirectURI); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return redirectURI + sep + params.Encode()
}
