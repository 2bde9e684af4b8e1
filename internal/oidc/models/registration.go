package models

import (
	"net/url"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// Subject identifier types.
const (
	SubjectTypePublic   = "public"
	SubjectTypePairwise = "pairwise"
)

// RegistrationRequest is the dynamic client registration body.
type RegistrationRequest struct {
	RedirectURIs        []string `json:"redirect_uris" validate:"required,min=1,dive,uri"`
	ClientName          string   `json:"client_name,omitempty" validate:"max=128"`
	SubjectType         string   `json:"subject_type,omitempty" validate:"omitempty,oneof=public pairwise"`
	SectorIdentifierURI string   `json:"sector_identifier_uri,omitempty" validate:"omitempty,url"`
	PolicyURL           string   `json:"policy_url,omitempty" validate:"omitempty,url"`
	LogoURL             string   `json:"logo_url,omitempty" validate:"omitempty,url"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`

	UserInfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty"`
	UserInfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty"`
	UserInfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty"`

	RequestObjectSigningAlg string `json:"request_object_signing_alg,omitempty"`

	JWKS    *jose.JSONWebKeySet `json:"jwks,omitempty"`
	JWKSURI string              `json:"jwks_uri,omitempty"`
}

// RedirectURIRecord is one registered redirect URI, decomposed into its base
// and the query parameters that were registered with it. Candidate URIs must
// carry every registered parameter; unregistered extras are ignored.
type RedirectURIRecord struct {
	Base  string     `json:"base"`
	Query url.Values `json:"query,omitempty"`
}

// String reassembles the registered URI in its original form.
func (r RedirectURIRecord) String() string {
	if len(r.Query) == 0 {
		return r.Base
	}
	return r.Base + "?" + r.Query.Encode()
}

// ClientRegistration is the aggregate root for one registered client. The
// registrar exclusively owns its lifecycle.
//
// Invariants:
//   - ClientID is non-empty and unique across registrations
//   - RedirectURIs is non-empty; none of them carries a fragment
//   - if SubjectType is pairwise and no sector_identifier_uri was supplied,
//     SectorID derives from the redirect URIs and all registered redirect
//     URIs share one host
type ClientRegistration struct {
	ClientID     string              `json:"client_id"`
	ClientSecret string              `json:"client_secret"`
	ClientName   string              `json:"client_name,omitempty"`
	RedirectURIs []RedirectURIRecord `json:"redirect_uris"`

	// RegistrationAccessTokenHash is the bcrypt hash of the bearer token
	// minted for self-service reads of this registration.
	RegistrationAccessTokenHash string `json:"-"`
	RegistrationClientURI       string `json:"registration_client_uri,omitempty"`

	SubjectType string   `json:"subject_type"`
	SectorID    string   `json:"sector_id,omitempty"`
	SIRedirects []string `json:"si_redirects,omitempty"`

	PolicyURL string `json:"policy_url,omitempty"`
	LogoURL   string `json:"logo_url,omitempty"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`

	UserInfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty"`
	UserInfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty"`
	UserInfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty"`

	RequestObjectSigningAlg string `json:"request_object_signing_alg,omitempty"`

	JWKS    *jose.JSONWebKeySet `json:"jwks,omitempty"`
	JWKSURI string              `json:"jwks_uri,omitempty"`

	IssuedAt        time.Time `json:"issued_at"`
	SecretExpiresAt time.Time `json:"secret_expires_at"`
}

// RedirectURIStrings returns the registered redirect URIs in wire form.
func (c *ClientRegistration) RedirectURIStrings() []string {
	out := make([]string, 0, len(c.RedirectURIs))
	for _, r := range c.RedirectURIs {
		out = append(out, r.String())
	}
	return out
}

// EncryptionKey picks the client's registered public key suitable for
// encrypting responses to it. Returns nil when the client registered no keys.
func (c *ClientRegistration) EncryptionKey() *jose.JSONWebKey {
	if c.JWKS == nil {
		return nil
	}
	for i := range c.JWKS.Keys {
		k := &c.JWKS.Keys[i]
		if k.Use == "enc" && k.IsPublic() {
			return k
		}
	}
	for i := range c.JWKS.Keys {
		k := &c.JWKS.Keys[i]
		if k.IsPublic() {
			return k
		}
	}
	return nil
}

// RegistrationResponse is the public view of a registration, returned from
// the registration endpoint and from self-service reads.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string   `json:"registration_client_uri,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	SubjectType             string   `json:"subject_type,omitempty"`
	SectorIdentifierURI     string   `json:"sector_identifier_uri,omitempty"`
	PolicyURL               string   `json:"policy_url,omitempty"`
	LogoURL                 string   `json:"logo_url,omitempty"`

	IDTokenSignedResponseAlg     string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg  string `json:"id_token_encrypted_response_alg,omitempty"`
	UserInfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty"`
	UserInfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty"`
}

// PublicView projects the registration onto its response shape. The
// plaintext client secret is included because it is part of the stored
// record; the registration access token is only known at mint time and must
// be supplied by the caller when echoing a fresh registration.
func (c *ClientRegistration) PublicView() *RegistrationResponse {
	resp := &RegistrationResponse{
		ClientID:              c.ClientID,
		ClientSecret:          c.ClientSecret,
		RegistrationClientURI: c.RegistrationClientURI,
		RedirectURIs:          c.RedirectURIStrings(),
		ClientName:            c.ClientName,
		SubjectType:           c.SubjectType,
		PolicyURL:             c.PolicyURL,
		LogoURL:               c.LogoURL,

		IDTokenSignedResponseAlg:     c.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg:  c.IDTokenEncryptedResponseAlg,
		UserInfoSignedResponseAlg:    c.UserInfoSignedResponseAlg,
		UserInfoEncryptedResponseAlg: c.UserInfoEncryptedResponseAlg,
	}
	if !c.IssuedAt.IsZero() {
		resp.ClientIDIssuedAt = c.IssuedAt.Unix()
	}
	if !c.SecretExpiresAt.IsZero() {
		resp.ClientSecretExpiresAt = c.SecretExpiresAt.Unix()
	}
	if c.SubjectType == SubjectTypePairwise && len(c.SIRedirects) > 0 {
		resp.SectorIdentifierURI = c.SectorID
	}
	return resp
}
