package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// protocol errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: unique key already taken
// - ErrExpired: token/grant/code has expired
// - ErrAlreadyUsed: single-use resource (authorization code) already consumed
// - ErrRevoked: grant or token has been revoked
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrNotAuthenticated: no usable identity behind the presented cookie
// - ErrUnavailable: external service or resource temporarily unavailable
//
// For protocol-level errors (invalid_request and friends) use pkg/oautherr.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrExpired          = errors.New("expired")
	ErrAlreadyUsed      = errors.New("already used")
	ErrRevoked          = errors.New("revoked")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrUnavailable      = errors.New("unavailable")
)
