package httptransport

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"oidcp/internal/auth"
	"oidcp/internal/authorize"
	"oidcp/internal/grant"
	"oidcp/internal/idtoken"
	"oidcp/internal/registrar"
	"oidcp/internal/token"
	"oidcp/internal/userinfo"
)

const testIssuer = "https://op.example.org"

// TransportSuite wires the full stack on in-memory stores and drives it over
// httptest, the way a relying party would.
type TransportSuite struct {
	suite.Suite
	server     *httptest.Server
	cookieAuth *auth.CookieAuthenticator
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) SetupTest() {
	seed := []byte("transport-test-seed")
	log := zerolog.Nop()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)

	minter := grant.NewMinter(seed, testIssuer, time.Hour)
	grants := grant.NewInMemoryStore(minter, 10*time.Minute, time.Hour)
	pipeline := idtoken.NewPipeline(testIssuer, key, "k1", time.Hour, seed)

	registrarSvc := registrar.NewService(
		registrar.NewInMemoryStore(),
		registrar.NewHTTPSectorFetcher(time.Second),
		log, seed, testIssuer, 0,
	)

	claims := auth.NewStaticClaimsSource(map[string]map[string]any{
		"user-1": {"name": "Ada Lovelace", "email": "ada@example.org"},
	})
	userinfoSvc := userinfo.NewService(grants, registrarSvc, claims, pipeline, log)

	s.cookieAuth = auth.NewCookieAuthenticator(seed, time.Hour)
	orch := authorize.NewOrchestrator(
		registrarSvc, grants, pipeline,
		s.cookieAuth, auth.NewImplicitConsent(),
		authorize.NewHTTPRequestFetcher(time.Second),
		userinfoSvc, log,
	)
	tokenSvc := token.NewService(grants, registrarSvc, auth.NewSecretVerifier(registrarSvc), pipeline, userinfoSvc, log, true)

	h := NewHandler(orch, tokenSvc, userinfoSvc, registrarSvc, pipeline, log, testIssuer, "/login")
	s.server = httptest.NewServer(NewRouter(h))
}

func (s *TransportSuite) TearDownTest() {
	s.server.Close()
}

// client never follows redirects so the tests can read Location headers.
func (s *TransportSuite) client() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *TransportSuite) register(redirectURI string) map[string]any {
	body, err := json.Marshal(map[string]any{
		"redirect_uris": []string{redirectURI},
		"client_name":   "test rp",
	})
	s.Require().NoError(err)

	resp, err := http.Post(s.server.URL+"/connect/register", "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.Equal("no-store", resp.Header.Get("Cache-Control"))

	var out map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	s.Require().NotEmpty(out["client_id"])
	s.Require().NotEmpty(out["client_secret"])
	return out
}

func (s *TransportSuite) TestCodeFlowEndToEnd() {
	reg := s.register("https://rp.example.org/cb")
	clientID := reg["client_id"].(string)
	clientSecret := reg["client_secret"].(string)

	cookie, err := s.cookieAuth.MintCookie("user-1", time.Now())
	s.Require().NoError(err)

	authzURL := s.server.URL + "/authorization?" + url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {"https://rp.example.org/cb"},
		"scope":         {"openid profile"},
		"state":         {"abc123"},
	}.Encode()

	req, err := http.NewRequest(http.MethodGet, authzURL, nil)
	s.Require().NoError(err)
	req.AddCookie(cookie)

	resp, err := s.client().Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Require().Equal(http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	s.Require().NoError(err)
	s.Equal("rp.example.org", loc.Host)
	s.Equal("abc123", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	s.Require().NotEmpty(code)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://rp.example.org/cb"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	tokResp, err := http.Post(s.server.URL+"/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	s.Require().NoError(err)
	defer tokResp.Body.Close()
	s.Require().Equal(http.StatusOK, tokResp.StatusCode)
	s.Equal("no-store", tokResp.Header.Get("Cache-Control"))

	var tokens map[string]any
	s.Require().NoError(json.NewDecoder(tokResp.Body).Decode(&tokens))
	s.Equal("Bearer", tokens["token_type"])
	s.NotEmpty(tokens["id_token"])
	accessToken, _ := tokens["access_token"].(string)
	s.Require().NotEmpty(accessToken)

	uiReq, err := http.NewRequest(http.MethodGet, s.server.URL+"/userinfo", nil)
	s.Require().NoError(err)
	uiReq.Header.Set("Authorization", "Bearer "+accessToken)

	uiResp, err := http.DefaultClient.Do(uiReq)
	s.Require().NoError(err)
	defer uiResp.Body.Close()
	s.Require().Equal(http.StatusOK, uiResp.StatusCode)

	var claims map[string]any
	s.Require().NoError(json.NewDecoder(uiResp.Body).Decode(&claims))
	s.Equal("user-1", claims["sub"])
	s.Equal("Ada Lovelace", claims["name"])
}

func (s *TransportSuite) TestUnauthenticatedUserIsSentToLogin() {
	reg := s.register("https://rp.example.org/cb")

	authzURL := s.server.URL + "/authorization?" + url.Values{
		"response_type": {"code"},
		"client_id":     {reg["client_id"].(string)},
		"redirect_uri":  {"https://rp.example.org/cb"},
		"scope":         {"openid"},
	}.Encode()

	resp, err := s.client().Get(authzURL)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Require().Equal(http.StatusFound, resp.StatusCode)
	s.True(strings.HasPrefix(resp.Header.Get("Location"), "/login?"))
}

func (s *TransportSuite) TestAuthorizeErrors() {
	s.Run("unknown client gets a JSON error, no redirect", func() {
		resp, err := s.client().Get(s.server.URL + "/authorization?" + url.Values{
			"response_type": {"code"},
			"client_id":     {"ghost"},
			"redirect_uri":  {"https://rp.example.org/cb"},
			"scope":         {"openid"},
		}.Encode())
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

		var body map[string]any
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
		s.Equal("invalid_request", body["error"])
	})

	s.Run("post-trust errors ride the redirect uri", func() {
		reg := s.register("https://rp.example.org/cb")
		cookie, err := s.cookieAuth.MintCookie("user-1", time.Now())
		s.Require().NoError(err)

		req, err := http.NewRequest(http.MethodGet, s.server.URL+"/authorization?"+url.Values{
			"response_type": {"code bogus"},
			"client_id":     {reg["client_id"].(string)},
			"redirect_uri":  {"https://rp.example.org/cb"},
			"scope":         {"openid"},
		}.Encode(), nil)
		s.Require().NoError(err)
		req.AddCookie(cookie)

		resp, err := s.client().Do(req)
		s.Require().NoError(err)
		resp.Body.Close()
		s.Require().Equal(http.StatusFound, resp.StatusCode)
		s.Contains(resp.Header.Get("Location"), "https://rp.example.org/cb")
		s.Contains(resp.Header.Get("Location"), "error=invalid_request")
	})
}

func (s *TransportSuite) TestTokenEndpointAuth() {
	reg := s.register("https://rp.example.org/cb")

	s.Run("bad secret is a 401", func() {
		form := url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {"ac_whatever"},
			"redirect_uri":  {"https://rp.example.org/cb"},
			"client_id":     {reg["client_id"].(string)},
			"client_secret": {"wrong"},
		}
		resp, err := http.Post(s.server.URL+"/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("client_secret_basic is accepted", func() {
		form := url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {"ac_whatever"},
			"redirect_uri": {"https://rp.example.org/cb"},
		}
		req, err := http.NewRequest(http.MethodPost, s.server.URL+"/token", strings.NewReader(form.Encode()))
		s.Require().NoError(err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(reg["client_id"].(string), reg["client_secret"].(string))

		resp, err := http.DefaultClient.Do(req)
		s.Require().NoError(err)
		defer resp.Body.Close()

		// credentials pass, the garbage code does not
		var body map[string]any
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
		s.Equal("invalid_grant", body["error"])
	})
}

func (s *TransportSuite) TestDiscoverySurface() {
	s.Run("provider configuration", func() {
		resp, err := http.Get(s.server.URL + "/.well-known/openid-configuration")
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		var md map[string]any
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&md))
		s.Equal(testIssuer, md["issuer"])
		s.Equal(testIssuer+"/token", md["token_endpoint"])
	})

	s.Run("webfinger", func() {
		resp, err := http.Get(s.server.URL + "/.well-known/webfinger?" + url.Values{
			"resource": {"acct:user@example.org"},
			"rel":      {"http://openid.net/specs/connect/1.0/issuer"},
		}.Encode())
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		var body map[string]any
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
		s.Equal([]any{testIssuer}, body["locations"])
	})

	s.Run("jwks carries the signing key", func() {
		resp, err := http.Get(s.server.URL + "/jwks")
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		var jwks struct {
			Keys []map[string]any `json:"keys"`
		}
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&jwks))
		s.Require().Len(jwks.Keys, 1)
		s.Equal("k1", jwks.Keys[0]["kid"])
		s.Equal("RS256", jwks.Keys[0]["alg"])
	})
}

func (s *TransportSuite) TestReadRegistration() {
	reg := s.register("https://rp.example.org/cb")

	req, err := http.NewRequest(http.MethodGet,
		s.server.URL+"/connect/register?client_id="+reg["client_id"].(string), nil)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+reg["registration_access_token"].(string))

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var body map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal(reg["client_id"], body["client_id"])
	s.Empty(body["registration_access_token"])
}
