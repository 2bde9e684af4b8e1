// Package registrar implements dynamic client registration: validating
// registration requests, minting client credentials, and serving
// self-service registration reads.
package registrar

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"oidcp/internal/oidc/models"
	"oidcp/internal/redirecturi"
	"oidcp/pkg/oautherr"
	"oidcp/pkg/platform/sentinel"
)

// clientIDAttempts bounds the retry loop when a freshly minted client id
// collides with an existing one.
const clientIDAttempts = 5

// Service owns the client registration lifecycle.
type Service struct {
	store    Store
	fetcher  SectorFetcher
	validate *validator.Validate
	log      zerolog.Logger

	seed      []byte
	issuer    string
	secretTTL time.Duration
}

func NewService(store Store, fetcher SectorFetcher, log zerolog.Logger, seed []byte, issuer string, secretTTL time.Duration) *Service {
	return &Service{
		store:    store,
		fetcher:  fetcher,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With().Str("component", "registrar").Logger(),

		seed:      seed,
		issuer:    issuer,
		secretTTL: secretTTL,
	}
}

// Register validates the request, mints client credentials and persists the
// registration. The returned response carries the only copy of the
// registration access token the client will ever see.
func (s *Service) Register(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, oautherr.InvalidConfigurationParameter("redirect_uris is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, oautherr.InvalidConfigurationParameter(err.Error())
	}

	records := make([]models.RedirectURIRecord, 0, len(req.RedirectURIs))
	for _, raw := range req.RedirectURIs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, oautherr.InvalidConfigurationParameter(fmt.Sprintf("redirect_uri %q is not a valid URI", raw))
		}
		if parsed.Fragment != "" {
			return nil, oautherr.InvalidConfigurationParameter("redirect_uri contains fragment")
		}
		record, err := redirecturi.SplitRegistered(raw)
		if err != nil {
			return nil, oautherr.InvalidConfigurationParameter(fmt.Sprintf("redirect_uri %q is not a valid URI", raw))
		}
		records = append(records, record)
	}

	subjectType := req.SubjectType
	if subjectType == "" {
		subjectType = models.SubjectTypePublic
	}

	var sectorID string
	var siRedirects []string
	if req.SectorIdentifierURI != "" {
		fetched, err := s.fetcher.Fetch(ctx, req.SectorIdentifierURI)
		if err != nil {
			s.log.Warn().Err(err).Str("sector_identifier_uri", req.SectorIdentifierURI).
				Msg("sector document fetch failed")
			return nil, oautherr.InvalidConfigurationParameter("could not read sector_identifier_uri document")
		}
		for _, raw := range req.RedirectURIs {
			if !slices.Contains(fetched, raw) {
				return nil, oautherr.InvalidConfigurationParameter(
					fmt.Sprintf("redirect_uri %q not present in sector_identifier_uri document", raw))
			}
		}
		sectorID = req.SectorIdentifierURI
		siRedirects = fetched
	} else {
		host, err := singleHost(req.RedirectURIs)
		if err != nil {
			return nil, oautherr.InvalidConfigurationParameter(
				"redirect_uris spanning multiple hosts require a sector_identifier_uri")
		}
		if subjectType == models.SubjectTypePairwise {
			sectorID = host
		}
	}

	if req.PolicyURL != "" && !redirecturi.VerifyHostBinding(req.PolicyURL, records) {
		return nil, oautherr.InvalidConfigurationParameter("policy_url host does not match any redirect_uri")
	}
	if req.LogoURL != "" && !redirecturi.VerifyHostBinding(req.LogoURL, records) {
		return nil, oautherr.InvalidConfigurationParameter("logo_url host does not match any redirect_uri")
	}

	rat := randString(32)
	ratHash, err := bcrypt.GenerateFromPassword([]byte(rat), bcrypt.DefaultCost)
	if err != nil {
		return nil, oautherr.ServerError("could not hash registration access token")
	}

	now := time.Now()
	reg := &models.ClientRegistration{
		ClientName:   req.ClientName,
		RedirectURIs: records,

		RegistrationAccessTokenHash: string(ratHash),

		SubjectType: subjectType,
		SectorID:    sectorID,
		SIRedirects: siRedirects,

		PolicyURL: req.PolicyURL,
		LogoURL:   req.LogoURL,

		IDTokenSignedResponseAlg:    req.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: req.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: req.IDTokenEncryptedResponseEnc,

		UserInfoSignedResponseAlg:    req.UserInfoSignedResponseAlg,
		UserInfoEncryptedResponseAlg: req.UserInfoEncryptedResponseAlg,
		UserInfoEncryptedResponseEnc: req.UserInfoEncryptedResponseEnc,

		RequestObjectSigningAlg: req.RequestObjectSigningAlg,

		JWKS:    req.JWKS,
		JWKSURI: req.JWKSURI,

		IssuedAt: now,
	}
	if s.secretTTL > 0 {
		reg.SecretExpiresAt = now.Add(s.secretTTL)
	}

	for attempt := 0; ; attempt++ {
		reg.ClientID = randString(12)
		reg.ClientSecret = Secret(s.seed, reg.ClientID)
		reg.RegistrationClientURI = s.issuer + "/connect/register?client_id=" + reg.ClientID

		err := s.store.Insert(ctx, reg)
		if err == nil {
			break
		}
		if errors.Is(err, sentinel.ErrConflict) && attempt < clientIDAttempts {
			continue
		}
		s.log.Error().Err(err).Msg("could not persist registration")
		return nil, oautherr.ServerError("could not persist registration")
	}

	s.log.Info().
		Str("client_id", reg.ClientID).
		Str("subject_type", reg.SubjectType).
		Int("redirect_uris", len(reg.RedirectURIs)).
		Msg("client registered")

	resp := reg.PublicView()
	resp.RegistrationAccessToken = rat
	return resp, nil
}

// ReadRegistration serves a self-service read authenticated by the
// registration access token. Unknown clients and bad tokens are
// indistinguishable to the caller.
func (s *Service) ReadRegistration(ctx context.Context, bearer, clientID string) (*models.RegistrationResponse, error) {
	reg, err := s.store.Get(ctx, clientID)
	if err != nil {
		return nil, oautherr.FailedAuthentication("invalid registration access token")
	}
	if bearer == "" || bcrypt.CompareHashAndPassword([]byte(reg.RegistrationAccessTokenHash), []byte(bearer)) != nil {
		return nil, oautherr.FailedAuthentication("invalid registration access token")
	}
	return reg.PublicView(), nil
}

// Lookup fetches a registration for the other endpoints. Returns
// sentinel.ErrNotFound for unknown clients.
func (s *Service) Lookup(ctx context.Context, clientID string) (*models.ClientRegistration, error) {
	return s.store.Get(ctx, clientID)
}

// SectorID resolves the sector identifier an authorization may use for
// pairwise subject derivation. When the client registered a sector document,
// the redirect URI in play must appear in it.
func SectorID(redirectURI string, reg *models.ClientRegistration) (string, error) {
	if reg.SubjectType != models.SubjectTypePairwise {
		return "", nil
	}
	if len(reg.SIRedirects) > 0 {
		for _, si := range reg.SIRedirects {
			if si == redirectURI || redirectURI == "" {
				return reg.SectorID, nil
			}
		}
		return "", fmt.Errorf("redirect_uri not covered by sector_identifier_uri document")
	}
	if reg.SectorID != "" {
		return reg.SectorID, nil
	}
	host, err := singleHost([]string{redirectURI})
	if err != nil {
		return "", err
	}
	return host, nil
}

// Secret derives a client secret: an HMAC-SHA224 over a timestamped nonce
// and the client id, keyed by the provider's seed.
func Secret(seed []byte, clientID string) string {
	mac := hmac.New(sha256.New224, seed)
	fmt.Fprintf(mac, "%d%s%s", time.Now().UnixNano(), randString(8), clientID)
	return hex.EncodeToString(mac.Sum(nil))
}

// singleHost returns the host shared by every URI, or an error when they
// disagree. A hostless URI (custom-scheme native redirects) counts as its
// own host value.
func singleHost(uris []string) (string, error) {
	var host string
	for i, raw := range uris {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid redirect_uri %q", raw)
		}
		if i == 0 {
			host = parsed.Host
			continue
		}
		if parsed.Host != host {
			return "", fmt.Errorf("redirect_uris span multiple hosts")
		}
	}
	return host, nil
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randString(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("could not read entropy: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
