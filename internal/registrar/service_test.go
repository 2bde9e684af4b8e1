package registrar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"oidcp/internal/oidc/models"
	"oidcp/pkg/oautherr"
)

type fakeFetcher struct {
	uris []string
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]string, error) {
	return f.uris, f.err
}

type RegistrarSuite struct {
	suite.Suite
	store   *InMemoryStore
	fetcher *fakeFetcher
	svc     *Service
	ctx     context.Context
}

func TestRegistrarSuite(t *testing.T) {
	suite.Run(t, new(RegistrarSuite))
}

func (s *RegistrarSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.fetcher = &fakeFetcher{}
	s.svc = NewService(s.store, s.fetcher, zerolog.Nop(), []byte("seed"), "https://op.example.org", 0)
	s.ctx = context.Background()
}

func (s *RegistrarSuite) register(req *models.RegistrationRequest) *models.RegistrationResponse {
	resp, err := s.svc.Register(s.ctx, req)
	s.Require().NoError(err)
	return resp
}

func (s *RegistrarSuite) expectConfigError(req *models.RegistrationRequest) *oautherr.Error {
	_, err := s.svc.Register(s.ctx, req)
	s.Require().Error(err)
	perr := oautherr.AsError(err)
	s.Require().NotNil(perr)
	s.Equal(oautherr.CodeInvalidConfigurationParameter, perr.Code)
	return perr
}

func (s *RegistrarSuite) TestRegister() {
	s.Run("mints credentials and persists the registration", func() {
		resp := s.register(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb"},
			ClientName:   "Test RP",
		})

		s.Len(resp.ClientID, 12)
		s.Len(resp.ClientSecret, 56) // hex HMAC-SHA224
		s.Len(resp.RegistrationAccessToken, 32)
		s.Contains(resp.RegistrationClientURI, resp.ClientID)
		s.Equal(models.SubjectTypePublic, resp.SubjectType)

		stored, err := s.store.Get(s.ctx, resp.ClientID)
		s.Require().NoError(err)
		s.Equal(resp.ClientSecret, stored.ClientSecret)
		s.NotEmpty(stored.RegistrationAccessTokenHash)
		s.NotEqual(resp.RegistrationAccessToken, stored.RegistrationAccessTokenHash)
	})

	s.Run("requires redirect_uris", func() {
		s.expectConfigError(&models.RegistrationRequest{})
	})

	s.Run("rejects redirect_uri with fragment", func() {
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb#frag"},
		})
	})

	s.Run("splits registered query parameters", func() {
		resp := s.register(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb?vendor=acme"},
		})
		stored, err := s.store.Get(s.ctx, resp.ClientID)
		s.Require().NoError(err)
		s.Equal("https://rp.example.org/cb", stored.RedirectURIs[0].Base)
		s.Equal("acme", stored.RedirectURIs[0].Query.Get("vendor"))
	})
}

func (s *RegistrarSuite) TestPairwiseRules() {
	s.Run("single host allows pairwise without sector document", func() {
		resp := s.register(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb", "https://rp.example.org/cb2"},
			SubjectType:  models.SubjectTypePairwise,
		})
		stored, err := s.store.Get(s.ctx, resp.ClientID)
		s.Require().NoError(err)
		s.Equal("rp.example.org", stored.SectorID)
	})

	s.Run("multiple hosts forbid pairwise without sector document", func() {
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs: []string{"https://a.example.org/cb", "https://b.example.org/cb"},
			SubjectType:  models.SubjectTypePairwise,
		})
	})

	s.Run("multiple hosts need a sector document regardless of subject type", func() {
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs: []string{"https://a.example.org/cb", "https://b.example.org/cb"},
		})
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs: []string{"https://a.example.org/cb", "https://b.example.org/cb"},
			SubjectType:  models.SubjectTypePublic,
		})
	})

	s.Run("public subject type records no sector id", func() {
		resp := s.register(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb", "https://rp.example.org/cb2"},
		})
		stored, err := s.store.Get(s.ctx, resp.ClientID)
		s.Require().NoError(err)
		s.Empty(stored.SectorID)
	})

	s.Run("sector document must cover every redirect_uri", func() {
		s.fetcher.uris = []string{"https://a.example.org/cb"}
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs:        []string{"https://a.example.org/cb", "https://b.example.org/cb"},
			SubjectType:         models.SubjectTypePairwise,
			SectorIdentifierURI: "https://sector.example.org/doc.json",
		})
	})

	s.Run("covering sector document permits multiple hosts", func() {
		s.fetcher.uris = []string{"https://a.example.org/cb", "https://b.example.org/cb"}
		resp := s.register(&models.RegistrationRequest{
			RedirectURIs:        []string{"https://a.example.org/cb", "https://b.example.org/cb"},
			SubjectType:         models.SubjectTypePairwise,
			SectorIdentifierURI: "https://sector.example.org/doc.json",
		})
		stored, err := s.store.Get(s.ctx, resp.ClientID)
		s.Require().NoError(err)
		s.Equal("https://sector.example.org/doc.json", stored.SectorID)
		s.Len(stored.SIRedirects, 2)
	})

	s.Run("unreachable sector document fails registration", func() {
		s.fetcher.uris = nil
		s.fetcher.err = context.DeadlineExceeded
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs:        []string{"https://a.example.org/cb"},
			SubjectType:         models.SubjectTypePairwise,
			SectorIdentifierURI: "https://sector.example.org/doc.json",
		})
	})
}

func (s *RegistrarSuite) TestHostBoundURLs() {
	s.Run("policy_url on a registered host passes", func() {
		s.register(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb"},
			PolicyURL:    "https://rp.example.org/policy",
		})
	})

	s.Run("policy_url on a foreign host fails", func() {
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb"},
			PolicyURL:    "https://elsewhere.example.org/policy",
		})
	})

	s.Run("logo_url on a foreign host fails", func() {
		s.expectConfigError(&models.RegistrationRequest{
			RedirectURIs: []string{"https://rp.example.org/cb"},
			LogoURL:      "https://elsewhere.example.org/logo.png",
		})
	})
}

func (s *RegistrarSuite) TestReadRegistration() {
	resp := s.register(&models.RegistrationRequest{
		RedirectURIs: []string{"https://rp.example.org/cb"},
	})

	s.Run("valid token reads the registration", func() {
		read, err := s.svc.ReadRegistration(s.ctx, resp.RegistrationAccessToken, resp.ClientID)
		s.Require().NoError(err)
		s.Equal(resp.ClientID, read.ClientID)
		s.Empty(read.RegistrationAccessToken)
	})

	s.Run("wrong token is rejected", func() {
		_, err := s.svc.ReadRegistration(s.ctx, "wrong-token", resp.ClientID)
		perr := oautherr.AsError(err)
		s.Require().NotNil(perr)
		s.Equal(oautherr.CodeFailedAuthentication, perr.Code)
	})

	s.Run("unknown client looks like a bad token", func() {
		_, err := s.svc.ReadRegistration(s.ctx, resp.RegistrationAccessToken, "nobody")
		perr := oautherr.AsError(err)
		s.Require().NotNil(perr)
		s.Equal(oautherr.CodeFailedAuthentication, perr.Code)
	})
}

func (s *RegistrarSuite) TestSecretDerivation() {
	a := Secret([]byte("seed"), "client-a")
	b := Secret([]byte("seed"), "client-a")
	s.Len(a, 56)
	s.NotEqual(a, b) // time and entropy feed the MAC
}

func (s *RegistrarSuite) TestSectorID() {
	s.Run("public clients have no sector", func() {
		sector, err := SectorID("https://rp.example.org/cb", &models.ClientRegistration{
			SubjectType: models.SubjectTypePublic,
		})
		s.Require().NoError(err)
		s.Empty(sector)
	})

	s.Run("redirect outside the sector document is rejected", func() {
		_, err := SectorID("https://rogue.example.org/cb", &models.ClientRegistration{
			SubjectType: models.SubjectTypePairwise,
			SectorID:    "https://sector.example.org/doc.json",
			SIRedirects: []string{"https://a.example.org/cb"},
		})
		s.Require().Error(err)
	})
}

// TestHTTPSectorFetcher exercises the real fetcher against a local server.
func TestHTTPSectorFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["https://a.example.org/cb","https://b.example.org/cb"]`))
	}))
	defer srv.Close()

	fetcher := NewHTTPSectorFetcher(2 * time.Second)
	uris, err := fetcher.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(uris) != 2 {
		t.Fatalf("expected 2 uris, got %d", len(uris))
	}
}
