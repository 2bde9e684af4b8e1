// Package discovery serves the provider's declarative surface: the provider
// configuration document and WebFinger-style issuer discovery. Nothing here
// touches protocol state.
package discovery

import (
	"fmt"

	"oidcp/internal/oidc/models"
	"oidcp/pkg/oautherr"
)

// SWDIssuer is the fixed service identifier an issuer discovery query must
// carry.
const SWDIssuer = "http://openid.net/specs/connect/1.0/issuer"

// Metadata builds the provider configuration document for the issuer.
func Metadata(issuer string) *models.ProviderMetadata {
	return &models.ProviderMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/authorization",
		TokenEndpoint:         issuer + "/token",
		UserInfoEndpoint:      issuer + "/userinfo",
		RegistrationEndpoint:  issuer + "/connect/register",
		JWKSURI:               issuer + "/jwks",

		ScopesSupported: []string{"openid", "profile", "email", "address", "phone"},
		ResponseTypesSupported: []string{
			"code", "token", "id_token", "none",
			"code token", "code id_token", "id_token token",
			"code id_token token",
		},
		SubjectTypesSupported: []string{
			models.SubjectTypePublic,
			models.SubjectTypePairwise,
		},
		GrantTypesSupported: []string{
			models.GrantAuthorizationCode,
			models.GrantRefreshToken,
		},
		ClaimsSupported: models.SupportedClaims(),

		ClaimsParameterSupported:     true,
		RequestParameterSupported:    true,
		RequestURIParameterSupported: true,

		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_post", "client_secret_basic",
		},

		IDTokenSigningAlgValuesSupported: []string{
			"RS256", "RS384", "RS512", "HS256", "HS384", "HS512",
		},
		IDTokenEncryptionAlgValuesSupported: []string{
			"RSA-OAEP", "RSA1_5", "A128KW", "A256KW", "dir",
		},
		IDTokenEncryptionEncValuesSupported: []string{
			"A128CBC-HS256", "A192CBC-HS384", "A256CBC-HS512", "A128GCM", "A256GCM",
		},
		UserInfoSigningAlgValuesSupported: []string{
			"RS256", "RS384", "RS512", "HS256", "HS384", "HS512",
		},
		UserInfoEncryptionAlgValuesSupported: []string{
			"RSA-OAEP", "RSA1_5", "A128KW", "A256KW", "dir",
		},
		UserInfoEncryptionEncValuesSupported: []string{
			"A128CBC-HS256", "A192CBC-HS384", "A256CBC-HS512", "A128GCM", "A256GCM",
		},
		RequestObjectSigningAlgValuesSupported: []string{
			"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256",
		},
	}
}

// Discover answers an issuer discovery query. The rel must be the fixed
// OpenID issuer service identifier and the resource must be present.
func Discover(resource, rel, issuer string) (*models.DiscoveryResponse, error) {
	if rel == "" {
		return nil, oautherr.InvalidRequest("missing rel")
	}
	if rel != SWDIssuer {
		return nil, oautherr.InvalidRequest(fmt.Sprintf("unsupported rel %q", rel))
	}
	if resource == "" {
		return nil, oautherr.InvalidRequest("missing resource")
	}
	return &models.DiscoveryResponse{Locations: []string{issuer}}, nil
}
