package grant

import "context"

// Error Contract:
// All store methods follow this pattern:
//   - sentinel.ErrNotFound when no grant resolves from the given key
//   - sentinel.ErrRevoked when the grant has been revoked
//   - sentinel.ErrAlreadyUsed when a code is promoted a second time
//   - sentinel.ErrExpired when a refresh token is past its lifetime
//   - nil on success; wrapped errors for infrastructure failures
//
// Concurrency Contract:
// Promotion is linearizable per code: under concurrent callers exactly one
// PromoteToToken succeeds and the rest fail with sentinel.ErrAlreadyUsed.
// Revocation is monotonic and immediately visible to subsequent operations.
type Store interface {
	// Create allocates a fresh grant with a newly minted authorization code
	// and returns its session id.
	Create(ctx context.Context, params CreateParams) (string, error)

	// Lookup resolves a grant by code, access token, refresh token, id token
	// or session id. All keys resolve to the same underlying grant.
	Lookup(ctx context.Context, key string) (*Grant, error)

	// PromoteToToken mints an access token (and a refresh token when
	// requested) for the grant behind key. When key is an authorization
	// code, the code is consumed: promotion is exactly-once per code.
	// The grant record's lifetime is extended to cover the longest-lived
	// artifact minted, so tokens never outlive their record.
	PromoteToToken(ctx context.Context, key string, issueRefresh bool) (*TokenBundle, error)

	// Refresh mints a new access token under the grant behind the refresh
	// token. The refresh token itself is returned unchanged and stays valid
	// until its lifetime ends.
	Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error)

	// Revoke marks the grant behind key revoked. Revocation fans out to
	// every artifact sharing the grant and cannot be undone; revoking an
	// already revoked grant is a no-op.
	Revoke(ctx context.Context, key string) error

	// IsRevoked reports the revocation state of the grant behind key.
	IsRevoked(ctx context.Context, key string) (bool, error)

	// KindOf reports which artifact kind the token is.
	KindOf(ctx context.Context, token string) (TokenKind, error)

	// UpdateIDToken records the last issued ID token on the grant and makes
	// it resolvable as a lookup key.
	UpdateIDToken(ctx context.Context, key string, idToken string) error

	// SetPermission stores the authorization decision computed for the
	// grant's user and client.
	SetPermission(ctx context.Context, sid string, permission string) error

	// ClearCode withdraws the grant's authorization code without consuming
	// it, for response types that never hand the code out.
	ClearCode(ctx context.Context, sid string) error
}
