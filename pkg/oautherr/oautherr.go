// Package oautherr carries the OAuth2 / OIDC protocol error taxonomy used by
// every service in this repository. An Error renders as the wire-level JSON
// body {error, error_description?}; a RedirectError additionally carries the
// trusted redirect URI the error must be delivered to.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Protocol error codes.
const (
	CodeInvalidRequest                = "invalid_request"
	CodeInvalidGrant                  = "invalid_grant"
	CodeInvalidClient                 = "invalid_client"
	CodeUnauthorizedClient            = "unauthorized_client"
	CodeAccessDenied                  = "access_denied"
	CodeLoginRequired                 = "login_required"
	CodeInvalidRequestURI             = "invalid_request_uri"
	CodeInvalidOpenIDRequestObject    = "invalid_openid_request_object"
	CodeInvalidConfigurationParameter = "invalid_configuration_parameter"
	CodeFailedAuthentication          = "failed_authentication"
	CodeServerError                   = "server_error"
)

// Error is a protocol error that is delivered directly to the caller as JSON.
// It is used for every failure discovered before the redirect URI is trusted,
// and for token/userinfo/registration endpoint failures.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// New builds a protocol error with an explicit HTTP status.
func New(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// Constructors for the common cases. All default to 400 except where the
// protocol demands otherwise.

func InvalidRequest(description string) *Error {
	return New(CodeInvalidRequest, description, http.StatusBadRequest)
}

func InvalidGrant(description string) *Error {
	return New(CodeInvalidGrant, description, http.StatusBadRequest)
}

func UnauthorizedClient(description string) *Error {
	return New(CodeUnauthorizedClient, description, http.StatusUnauthorized)
}

func AccessDenied(description string) *Error {
	return New(CodeAccessDenied, description, http.StatusBadRequest)
}

func FailedAuthentication(description string) *Error {
	return New(CodeFailedAuthentication, description, http.StatusUnauthorized)
}

func InvalidConfigurationParameter(description string) *Error {
	return New(CodeInvalidConfigurationParameter, description, http.StatusBadRequest)
}

func ServerError(description string) *Error {
	return New(CodeServerError, description, http.StatusInternalServerError)
}

// RedirectError is a protocol error discovered after the redirect URI has
// been resolved and trusted. It is delivered by redirecting the user agent to
// that URI with error/error_description in the query or fragment, matching
// the response type's placement rule.
type RedirectError struct {
	Err         *Error
	RedirectURI string
	State       string
	UseFragment bool
}

func (e *RedirectError) Error() string { return e.Err.Error() }

func (e *RedirectError) Unwrap() error { return e.Err }

// Location renders the full redirect target including the error parameters.
func (e *RedirectError) Location() string {
	params := url.Values{"error": {e.Err.Code}}
	if e.Err.Description != "" {
		params.Set("error_description", e.Err.Description)
	}
	if e.State != "" {
		params.Set("state", e.State)
	}
	sep := "?"
	if e.UseFragment {
		sep = "#"
	} else if u, err := url.Parse(e.RedirectURI); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return e.RedirectURI + sep + params.Encode()
}

// Redirected wraps err for post-redirect delivery.
func Redirected(err *Error, redirectURI, state string, fragment bool) *RedirectError {
	return &RedirectError{Err: err, RedirectURI: redirectURI, State: state, UseFragment: fragment}
}

// AsError extracts the protocol error from err, looking through
// RedirectError wrappers. Returns nil if err carries no protocol error.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}
