package models

import (
	"net/url"
	"strconv"

	"oidcp/pkg/platform/strutil"
)

// AccessTokenResponse is the token endpoint's success body.
type AccessTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// AuthorizationResponse carries the artifacts attached to the redirect back
// to the client. Which fields are set depends on the consumed response types.
type AuthorizationResponse struct {
	Code        string
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	IDToken     string
	State       string
	Scope       []string
}

// Params renders the response as redirect parameters.
func (r *AuthorizationResponse) Params() url.Values {
	params := url.Values{}
	if r.Code != "" {
		params.Set("code", r.Code)
	}
	if r.AccessToken != "" {
		params.Set("access_token", r.AccessToken)
		params.Set("token_type", r.TokenType)
		if r.ExpiresIn > 0 {
			params.Set("expires_in", strconv.FormatInt(r.ExpiresIn, 10))
		}
	}
	if r.IDToken != "" {
		params.Set("id_token", r.IDToken)
	}
	if r.State != "" {
		params.Set("state", r.State)
	}
	if len(r.Scope) > 0 {
		params.Set("scope", strutil.Join(r.Scope))
	}
	return params
}

// ErrorResponse is the shared JSON error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ProviderMetadata is the declarative capability advertisement served by the
// provider configuration endpoint. It carries no protocol state.
type ProviderMetadata struct {
	Issuer                       string   `json:"issuer"`
	AuthorizationEndpoint        string   `json:"authorization_endpoint"`
	TokenEndpoint                string   `json:"token_endpoint"`
	UserInfoEndpoint             string   `json:"userinfo_endpoint"`
	RegistrationEndpoint         string   `json:"registration_endpoint"`
	JWKSURI                      string   `json:"jwks_uri,omitempty"`
	ScopesSupported              []string `json:"scopes_supported"`
	ResponseTypesSupported       []string `json:"response_types_supported"`
	SubjectTypesSupported        []string `json:"subject_types_supported"`
	GrantTypesSupported          []string `json:"grant_types_supported"`
	ClaimsSupported              []string `json:"claims_supported"`
	ClaimsParameterSupported     bool     `json:"claims_parameter_supported"`
	RequestParameterSupported    bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported bool     `json:"request_uri_parameter_supported"`

	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`

	IDTokenSigningAlgValuesSupported       []string `json:"id_token_signing_alg_values_supported"`
	IDTokenEncryptionAlgValuesSupported    []string `json:"id_token_encryption_alg_values_supported"`
	IDTokenEncryptionEncValuesSupported    []string `json:"id_token_encryption_enc_values_supported"`
	UserInfoSigningAlgValuesSupported      []string `json:"userinfo_signing_alg_values_supported"`
	UserInfoEncryptionAlgValuesSupported   []string `json:"userinfo_encryption_alg_values_supported"`
	UserInfoEncryptionEncValuesSupported   []string `json:"userinfo_encryption_enc_values_supported"`
	RequestObjectSigningAlgValuesSupported []string `json:"request_object_signing_alg_values_supported"`
}

// DiscoveryResponse is the WebFinger-style issuer lookup result.
type DiscoveryResponse struct {
	Locations []string `json:"locations"`
}
