// Package redirecturi validates and matches redirect URIs against a client's
// registration record. Redirect URI trust gates whether an error may be
// delivered by redirect at all, so everything here fails closed.
package redirecturi

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"oidcp/internal/oidc/models"
)

var (
	// ErrUnknownClient is returned when no registration exists for the
	// request's client_id.
	ErrUnknownClient = errors.New("unknown client")

	// ErrNoMatch is returned when the candidate URI is malformed, carries a
	// fragment, or matches no registered redirect URI.
	ErrNoMatch = errors.New("redirect_uri does not match any registered uri")

	// ErrMissing is returned when the request supplies no redirect_uri and
	// the registration offers no unambiguous single choice.
	ErrMissing = errors.New("missing redirect_uri and more than one or none registered")
)

// Resolve determines the redirect URI an authorization request may use.
//
// The candidate must carry no fragment. It must match a registered base URI
// exactly or be a prefix-extension of one, and every query parameter
// registered for that base must be present in the candidate with at least one
// matching value. Query parameters the candidate carries beyond the
// registered ones are ignored.
func Resolve(req *models.AuthorizationRequest, reg *models.ClientRegistration) (string, error) {
	if reg == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownClient, req.ClientID)
	}

	if req.RedirectURI == "" {
		if len(reg.RedirectURIs) == 1 {
			return reg.RedirectURIs[0].String(), nil
		}
		return "", ErrMissing
	}

	candidate, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMatch, err)
	}
	if candidate.Fragment != "" {
		return "", fmt.Errorf("%w: contains fragment", ErrNoMatch)
	}

	base, query := splitQuery(req.RedirectURI)
	candidateQuery, err := url.ParseQuery(query)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMatch, err)
	}

	for _, record := range reg.RedirectURIs {
		if base != record.Base && !strings.HasPrefix(req.RedirectURI, record.Base) {
			continue
		}
		if !queryCovered(record.Query, candidateQuery) {
			continue
		}
		return req.RedirectURI, nil
	}
	return "", ErrNoMatch
}

// queryCovered reports whether every registered parameter appears in the
// candidate query with at least one of its registered values.
func queryCovered(registered, candidate url.Values) bool {
	for key, wantVals := range registered {
		gotVals, ok := candidate[key]
		if !ok {
			return false
		}
		matched := false
		for _, want := range wantVals {
			for _, got := range gotVals {
				if want == got {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// VerifyHostBinding reports whether rawURL's scheme and host match some
// registered redirect URI's scheme and host. It gates policy_url and
// logo_url so a client cannot point them at arbitrary origins.
func VerifyHostBinding(rawURL string, registered []models.RedirectURIRecord) bool {
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, record := range registered {
		regURL, err := url.Parse(record.Base)
		if err != nil {
			continue
		}
		if target.Scheme == regURL.Scheme && target.Host == regURL.Host {
			return true
		}
	}
	return false
}

// SplitRegistered decomposes a registered redirect URI into its record form.
// A fragment is rejected at registration time by the registrar, not here.
func SplitRegistered(raw string) (models.RedirectURIRecord, error) {
	base, query := splitQuery(raw)
	record := models.RedirectURIRecord{Base: base}
	if query != "" {
		parsed, err := url.ParseQuery(query)
		if err != nil {
			return models.RedirectURIRecord{}, err
		}
		record.Query = parsed
	}
	return record, nil
}

func splitQuery(raw string) (base, query string) {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, ""
}
