// Package models holds the typed protocol messages exchanged by the
// provider's endpoints. Every message kind has a fixed, enumerated field set;
// parsing from the transport's url.Values / JSON happens here so the services
// never probe loosely-typed attribute bags.
package models

import (
	"net/url"
	"slices"
	"strconv"

	"oidcp/pkg/oautherr"
	"oidcp/pkg/platform/strutil"
)

// Response type tokens recognized by the authorization endpoint.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
	ResponseTypeNone    = "none"
)

// Prompt values with protocol-defined behavior.
const (
	PromptNone  = "none"
	PromptLogin = "login"
)

// ScopeOpenID triggers ID-token issuance wherever the grant's scope is
// consulted.
const ScopeOpenID = "openid"

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// AuthorizationRequest is the parsed authorization endpoint request.
// RequestObject is populated once the inline `request` value or the fetched
// `request_uri` content has been verified and decoded.
type AuthorizationRequest struct {
	ClientID      string
	RedirectURI   string
	ResponseType  []string
	Scope         []string
	State         string
	Nonce         string
	Prompt        []string
	MaxAge        int
	RequestURI    string
	Request       string
	RequestObject *OpenIDRequest
}

// ParseAuthorizationRequest maps the transport's key/value form onto the
// typed request. Unknown parameters are ignored.
func ParseAuthorizationRequest(values url.Values) *AuthorizationRequest {
	maxAge, _ := strconv.Atoi(values.Get("max_age"))
	return &AuthorizationRequest{
		ClientID:     values.Get("client_id"),
		RedirectURI:  values.Get("redirect_uri"),
		ResponseType: strutil.SplitFields(values.Get("response_type")),
		Scope:        strutil.SplitFields(values.Get("scope")),
		State:        values.Get("state"),
		Nonce:        values.Get("nonce"),
		Prompt:       strutil.SplitFields(values.Get("prompt")),
		MaxAge:       maxAge,
		RequestURI:   values.Get("request_uri"),
		Request:      values.Get("request"),
	}
}

// Validate checks the attributes required for any authorization request.
// response_type must be non-empty and "none" is exclusive.
func (r *AuthorizationRequest) Validate() error {
	if r.ClientID == "" {
		return oautherr.InvalidRequest("missing client_id")
	}
	if len(r.ResponseType) == 0 {
		return oautherr.InvalidRequest("missing response_type")
	}
	if slices.Contains(r.ResponseType, ResponseTypeNone) && len(r.ResponseType) > 1 {
		return oautherr.InvalidRequest("response_type none cannot be combined")
	}
	return nil
}

// HasResponseType reports whether the request asks for the given token.
func (r *AuthorizationRequest) HasResponseType(t string) bool {
	return slices.Contains(r.ResponseType, t)
}

// HasPrompt reports whether prompt carries the given value.
func (r *AuthorizationRequest) HasPrompt(p string) bool {
	return slices.Contains(r.Prompt, p)
}

// EffectiveMaxAge resolves max_age, letting an embedded request object's
// value win over the outer parameter. Zero means no freshness bound.
func (r *AuthorizationRequest) EffectiveMaxAge() int {
	if r.RequestObject != nil && r.RequestObject.MaxAge > 0 {
		return r.RequestObject.MaxAge
	}
	return r.MaxAge
}

// RequiredSubject returns the end-user the embedded request object demands,
// if any (claims.id_token.sub.value).
func (r *AuthorizationRequest) RequiredSubject() string {
	if r.RequestObject == nil || r.RequestObject.Claims == nil {
		return ""
	}
	spec, ok := r.RequestObject.Claims.IDToken["sub"]
	if !ok || spec == nil {
		return ""
	}
	return spec.Value
}

// OpenIDRequest is the payload of an embedded request object: a signed (and
// optionally encrypted) sub-request carrying additional authorization
// parameters.
type OpenIDRequest struct {
	ClientID     string         `json:"client_id,omitempty"`
	ResponseType string         `json:"response_type,omitempty"`
	RedirectURI  string         `json:"redirect_uri,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	State        string         `json:"state,omitempty"`
	Nonce        string         `json:"nonce,omitempty"`
	MaxAge       int            `json:"max_age,omitempty"`
	Claims       *ClaimsRequest `json:"claims,omitempty"`
}

// ClaimsRequest names the individual claims a client asks for, per target
// artifact.
type ClaimsRequest struct {
	UserInfo map[string]*ClaimSpec `json:"userinfo,omitempty"`
	IDToken  map[string]*ClaimSpec `json:"id_token,omitempty"`
}

// ClaimSpec qualifies one requested claim. A nil spec means "default
// behavior"; the marker forms (essential, value, values) follow OIDC Core
// section 5.5.
type ClaimSpec struct {
	Essential bool     `json:"essential,omitempty"`
	Value     string   `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
}

// TokenRequest is the parsed token endpoint request. The grant kind is
// discriminated by the presence of refresh_token.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// ParseTokenRequest maps the form body onto the typed request.
func ParseTokenRequest(values url.Values) *TokenRequest {
	return &TokenRequest{
		GrantType:    values.Get("grant_type"),
		Code:         values.Get("code"),
		RedirectURI:  values.Get("redirect_uri"),
		ClientID:     values.Get("client_id"),
		ClientSecret: values.Get("client_secret"),
		RefreshToken: values.Get("refresh_token"),
	}
}

// IsRefresh reports whether this is a refresh-token grant.
func (r *TokenRequest) IsRefresh() bool { return r.RefreshToken != "" }

// Validate checks the attributes required for the discriminated grant kind.
func (r *TokenRequest) Validate() error {
	if r.IsRefresh() {
		if r.GrantType != "" && r.GrantType != GrantRefreshToken {
			return oautherr.InvalidRequest("grant_type does not match refresh_token")
		}
		return nil
	}
	if r.GrantType != GrantAuthorizationCode {
		return oautherr.InvalidRequest("unsupported grant_type")
	}
	if r.Code == "" {
		return oautherr.InvalidRequest("missing code")
	}
	return nil
}
