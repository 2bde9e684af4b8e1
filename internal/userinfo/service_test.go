package userinfo

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"oidcp/internal/grant"
	"oidcp/internal/idtoken"
	"oidcp/internal/oidc/models"
	"oidcp/pkg/oautherr"
	"oidcp/pkg/platform/sentinel"
)

type fakeClients struct {
	regs map[string]*models.ClientRegistration
}

func (f *fakeClients) Lookup(_ context.Context, clientID string) (*models.ClientRegistration, error) {
	if reg, ok := f.regs[clientID]; ok {
		return reg, nil
	}
	return nil, sentinel.ErrNotFound
}

type fakeProvider struct {
	claims map[string]any
}

func (f *fakeProvider) ClaimsFor(_ context.Context, _ string, names []string) (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range names {
		if v, ok := f.claims[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

type UserInfoSuite struct {
	suite.Suite
	grants   *grant.InMemoryStore
	clients  *fakeClients
	provider *fakeProvider
	svc      *Service
	ctx      context.Context
}

func TestUserInfoSuite(t *testing.T) {
	suite.Run(t, new(UserInfoSuite))
}

func (s *UserInfoSuite) SetupTest() {
	minter := grant.NewMinter([]byte("test-key"), "https://op.example.org", time.Hour)
	s.grants = grant.NewInMemoryStore(minter, 10*time.Minute, time.Hour)
	s.clients = &fakeClients{regs: map[string]*models.ClientRegistration{}}
	s.provider = &fakeProvider{claims: map[string]any{
		"name":  "Ada Lovelace",
		"email": "ada@example.org",
	}}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	pipeline := idtoken.NewPipeline("https://op.example.org", key, "k1", time.Hour, []byte("seed"))

	s.svc = NewService(s.grants, s.clients, s.provider, pipeline, zerolog.Nop())
	s.ctx = context.Background()
}

func (s *UserInfoSuite) accessToken(scope []string, oidreq *models.OpenIDRequest) string {
	sid, err := s.grants.Create(s.ctx, grant.CreateParams{
		UserID:        "user-1",
		Subject:       "subject-1",
		ClientID:      "client-1",
		Scope:         scope,
		OpenIDRequest: oidreq,
		AuthTime:      time.Now(),
	})
	s.Require().NoError(err)
	bundle, err := s.grants.PromoteToToken(s.ctx, sid, false)
	s.Require().NoError(err)
	return bundle.AccessToken
}

func (s *UserInfoSuite) decode(resp *Response) map[string]any {
	s.Equal("application/json", resp.ContentType)
	var out map[string]any
	s.Require().NoError(json.Unmarshal(resp.Body, &out))
	return out
}

func (s *UserInfoSuite) TestScopeDerivedClaims() {
	s.Run("profile scope yields profile claims", func() {
		tok := s.accessToken([]string{"openid", "profile"}, nil)
		resp, err := s.svc.UserInfo(s.ctx, tok)
		s.Require().NoError(err)

		claims := s.decode(resp)
		s.Equal("subject-1", claims["sub"])
		s.Equal("Ada Lovelace", claims["name"])
		s.NotContains(claims, "email")
	})

	s.Run("openid alone yields only sub", func() {
		tok := s.accessToken([]string{"openid"}, nil)
		resp, err := s.svc.UserInfo(s.ctx, tok)
		s.Require().NoError(err)

		claims := s.decode(resp)
		s.Equal("subject-1", claims["sub"])
		s.Len(claims, 1)
	})
}

func (s *UserInfoSuite) TestExplicitClaimsUnion() {
	oidreq := &models.OpenIDRequest{
		Claims: &models.ClaimsRequest{
			UserInfo: map[string]*models.ClaimSpec{
				"email": {Essential: true},
			},
		},
	}
	tok := s.accessToken([]string{"openid"}, oidreq)
	resp, err := s.svc.UserInfo(s.ctx, tok)
	s.Require().NoError(err)

	claims := s.decode(resp)
	s.Equal("ada@example.org", claims["email"])
}

func (s *UserInfoSuite) TestTokenChecks() {
	s.Run("unknown token", func() {
		_, err := s.svc.UserInfo(s.ctx, "garbage")
		perr := oautherr.AsError(err)
		s.Require().NotNil(perr)
		s.Equal(oautherr.CodeFailedAuthentication, perr.Code)
	})

	s.Run("refresh token is not an access token", func() {
		sid, err := s.grants.Create(s.ctx, grant.CreateParams{
			UserID: "user-1", Subject: "subject-1", ClientID: "client-1",
			Scope: []string{"openid"}, AuthTime: time.Now(),
		})
		s.Require().NoError(err)
		bundle, err := s.grants.PromoteToToken(s.ctx, sid, true)
		s.Require().NoError(err)

		_, err = s.svc.UserInfo(s.ctx, bundle.RefreshToken)
		perr := oautherr.AsError(err)
		s.Require().NotNil(perr)
		s.Equal(oautherr.CodeFailedAuthentication, perr.Code)
	})

	s.Run("revoked token is refused", func() {
		tok := s.accessToken([]string{"openid"}, nil)
		s.Require().NoError(s.grants.Revoke(s.ctx, tok))

		_, err := s.svc.UserInfo(s.ctx, tok)
		perr := oautherr.AsError(err)
		s.Require().NotNil(perr)
		s.Equal(oautherr.CodeAccessDenied, perr.Code)
	})
}

func (s *UserInfoSuite) TestSignedResponse() {
	s.clients.regs["client-1"] = &models.ClientRegistration{
		ClientID:                  "client-1",
		ClientSecret:              "very-secret-value-padded-to-32-bytes",
		UserInfoSignedResponseAlg: "HS256",
	}
	tok := s.accessToken([]string{"openid", "email"}, nil)

	resp, err := s.svc.UserInfo(s.ctx, tok)
	s.Require().NoError(err)
	s.Equal("application/jwt", resp.ContentType)

	sig, err := jose.ParseSigned(string(resp.Body), []jose.SignatureAlgorithm{jose.HS256})
	s.Require().NoError(err)
	payload, err := sig.Verify([]byte("very-secret-value-padded-to-32-bytes"))
	s.Require().NoError(err)

	var claims map[string]any
	s.Require().NoError(json.Unmarshal(payload, &claims))
	s.Equal("subject-1", claims["sub"])
	s.Equal("ada@example.org", claims["email"])
}

func (s *UserInfoSuite) TestClaimsForIDToken() {
	sid, err := s.grants.Create(s.ctx, grant.CreateParams{
		UserID: "user-1", Subject: "subject-1", ClientID: "client-1",
		Scope: []string{"openid"}, AuthTime: time.Now(),
		OpenIDRequest: &models.OpenIDRequest{
			Claims: &models.ClaimsRequest{
				IDToken: map[string]*models.ClaimSpec{
					"email":     {Essential: true},
					"auth_time": {Essential: true},
				},
			},
		},
	})
	s.Require().NoError(err)
	g, err := s.grants.Lookup(s.ctx, sid)
	s.Require().NoError(err)

	extra, err := s.svc.ClaimsForIDToken(s.ctx, g)
	s.Require().NoError(err)
	s.Equal("ada@example.org", extra["email"])
	s.NotContains(extra, "auth_time") // supplied by the pipeline, not the claims source
}
