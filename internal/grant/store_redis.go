package grant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"oidcp/pkg/platform/sentinel"
)

var isRevokedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "oidcp_grant_is_revoked_duration_ms",
	Help:    "Latency of grant revocation checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	redisGrantKeyPrefix = "oidcp:grant:"
	redisRefKeyPrefix   = "oidcp:key:"
	redisUsedKeyPrefix  = "oidcp:used:"

	// promoteRetries bounds the optimistic-transaction retry loop for grant
	// record updates.
	promoteRetries = 5
)

// RedisStore is a Redis-backed grant store for deployments where multiple
// instances share grant state. Code consumption is linearized through SETNX
// on a per-code marker; grant record updates run under WATCH so concurrent
// writers never lose fields. Revocation writes straight through and every
// read goes to Redis, so there is no stale-read window.
type RedisStore struct {
	client *redis.Client

	minter     *Minter
	grantTTL   time.Duration
	refreshTTL time.Duration
}

// NewRedisStore constructs a grant store on top of an existing Redis client.
func NewRedisStore(client *redis.Client, minter *Minter, grantTTL, refreshTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		minter:     minter,
		grantTTL:   grantTTL,
		refreshTTL: refreshTTL,
	}
}

func grantKey(sid string) string { return redisGrantKeyPrefix + sid }
func refKey(token string) string { return redisRefKeyPrefix + token }
func usedKey(code string) string { return redisUsedKeyPrefix + code }

func refValue(kind TokenKind, sid string) string { return string(kind) + "|" + sid }

func (s *RedisStore) Create(ctx context.Context, params CreateParams) (string, error) {
	now := time.Now()
	g := &Grant{
		SID:           s.minter.SID(),
		UserID:        params.UserID,
		Subject:       params.Subject,
		ClientID:      params.ClientID,
		Scope:         append([]string(nil), params.Scope...),
		RedirectURI:   params.RedirectURI,
		Nonce:         params.Nonce,
		Code:          s.minter.Code(),
		OpenIDRequest: params.OpenIDRequest,
		AuthTime:      params.AuthTime,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.grantTTL),
	}

	raw, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("could not encode grant: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, grantKey(g.SID), raw, s.grantTTL)
	pipe.Set(ctx, refKey(g.Code), refValue(KindCode, g.SID), s.grantTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("could not persist grant: %w", err)
	}
	return g.SID, nil
}

// resolveRef maps any artifact or session id onto (sid, kind).
func (s *RedisStore) resolveRef(ctx context.Context, key string) (string, TokenKind, error) {
	val, err := s.client.Get(ctx, refKey(key)).Result()
	if err == nil {
		kind, sid, ok := strings.Cut(val, "|")
		if !ok {
			return "", "", fmt.Errorf("corrupt key reference for %q", key)
		}
		return sid, TokenKind(kind), nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", "", err
	}

	exists, err := s.client.Exists(ctx, grantKey(key)).Result()
	if err != nil {
		return "", "", err
	}
	if exists == 0 {
		return "", "", fmt.Errorf("grant not found: %w", sentinel.ErrNotFound)
	}
	return key, KindSession, nil
}

func (s *RedisStore) loadGrant(ctx context.Context, cmdable redis.Cmdable, sid string) (*Grant, error) {
	raw, err := cmdable.Get(ctx, grantKey(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("grant not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("could not decode grant: %w", err)
	}
	return &g, nil
}

// mutate applies fn to the grant record under WATCH, retrying on write
// conflicts. fn returns the extra key/value index entries to write alongside
// the updated record. The record and its index entries live until the
// grant's ExpiresAt, which fn may push out when it mints longer-lived
// artifacts.
func (s *RedisStore) mutate(ctx context.Context, sid string, fn func(g *Grant) (map[string]string, error)) (*Grant, error) {
	var out *Grant
	txn := func(tx *redis.Tx) error {
		g, err := s.loadGrant(ctx, tx, sid)
		if err != nil {
			return err
		}
		indexes, err := fn(g)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("could not encode grant: %w", err)
		}
		ttl := time.Until(g.ExpiresAt)
		if ttl < time.Second {
			ttl = time.Second
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, grantKey(sid), raw, ttl)
			for key, val := range indexes {
				pipe.Set(ctx, key, val, ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = g
		return nil
	}

	for i := 0; i < promoteRetries; i++ {
		err := s.client.Watch(ctx, txn, grantKey(sid))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("grant update contention: %w", sentinel.ErrUnavailable)
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (*Grant, error) {
	sid, _, err := s.resolveRef(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.loadGrant(ctx, s.client, sid)
}

func (s *RedisStore) PromoteToToken(ctx context.Context, key string, issueRefresh bool) (*TokenBundle, error) {
	sid, kind, err := s.resolveRef(ctx, key)
	if err != nil {
		return nil, err
	}

	g, err := s.loadGrant(ctx, s.client, sid)
	if err != nil {
		return nil, err
	}
	if g.Revoked {
		return nil, fmt.Errorf("grant is revoked: %w", sentinel.ErrRevoked)
	}

	// The SETNX marker is the linearization point: exactly one concurrent
	// promotion of the same code passes this gate.
	if kind == KindCode {
		if g.CodeUsed {
			return nil, fmt.Errorf("authorization code already consumed: %w", sentinel.ErrAlreadyUsed)
		}
		ok, err := s.client.SetNX(ctx, usedKey(key), sid, s.grantTTL).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("authorization code already consumed: %w", sentinel.ErrAlreadyUsed)
		}
	}

	now := time.Now()
	updated, err := s.mutate(ctx, sid, func(g *Grant) (map[string]string, error) {
		if g.Revoked {
			return nil, fmt.Errorf("grant is revoked: %w", sentinel.ErrRevoked)
		}
		indexes := make(map[string]string)
		if kind == KindCode {
			g.CodeUsed = true
		}
		accessToken, err := s.minter.AccessToken(g, now)
		if err != nil {
			return nil, err
		}
		g.AccessToken = accessToken
		g.ExtendExpiry(now.Add(s.minter.AccessTTL()))
		indexes[refKey(accessToken)] = refValue(KindAccess, sid)

		if issueRefresh && g.RefreshToken == "" {
			g.RefreshToken = s.minter.RefreshToken()
			g.RefreshExpiresAt = now.Add(s.refreshTTL)
			g.ExtendExpiry(g.RefreshExpiresAt)
			indexes[refKey(g.RefreshToken)] = refValue(KindRefresh, sid)
		}
		return indexes, nil
	})
	if err != nil {
		return nil, err
	}
	return s.bundle(updated), nil
}

func (s *RedisStore) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	sid, kind, err := s.resolveRef(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if kind != KindRefresh {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}

	now := time.Now()
	updated, err := s.mutate(ctx, sid, func(g *Grant) (map[string]string, error) {
		if g.Revoked {
			return nil, fmt.Errorf("grant is revoked: %w", sentinel.ErrRevoked)
		}
		if !g.RefreshExpiresAt.IsZero() && g.RefreshExpiresAt.Before(now) {
			return nil, fmt.Errorf("refresh token expired: %w", sentinel.ErrExpired)
		}
		accessToken, err := s.minter.AccessToken(g, now)
		if err != nil {
			return nil, err
		}
		g.AccessToken = accessToken
		g.ExtendExpiry(now.Add(s.minter.AccessTTL()))
		return map[string]string{refKey(accessToken): refValue(KindAccess, sid)}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.bundle(updated), nil
}

func (s *RedisStore) Revoke(ctx context.Context, key string) error {
	sid, _, err := s.resolveRef(ctx, key)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, sid, func(g *Grant) (map[string]string, error) {
		g.Revoked = true
		return nil, nil
	})
	return err
}

func (s *RedisStore) IsRevoked(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer func() {
		isRevokedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	g, err := s.Lookup(ctx, key)
	if err != nil {
		return false, err
	}
	return g.Revoked, nil
}

func (s *RedisStore) KindOf(ctx context.Context, token string) (TokenKind, error) {
	val, err := s.client.Get(ctx, refKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	kind, _, ok := strings.Cut(val, "|")
	if !ok {
		return "", fmt.Errorf("corrupt key reference for token")
	}
	return TokenKind(kind), nil
}

func (s *RedisStore) UpdateIDToken(ctx context.Context, key string, idToken string) error {
	sid, _, err := s.resolveRef(ctx, key)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, sid, func(g *Grant) (map[string]string, error) {
		g.IDToken = idToken
		return map[string]string{refKey(idToken): refValue(KindID, sid)}, nil
	})
	return err
}

func (s *RedisStore) SetPermission(ctx context.Context, sid string, permission string) error {
	_, err := s.mutate(ctx, sid, func(g *Grant) (map[string]string, error) {
		g.Permission = permission
		return nil, nil
	})
	return err
}

func (s *RedisStore) ClearCode(ctx context.Context, sid string) error {
	var code string
	_, err := s.mutate(ctx, sid, func(g *Grant) (map[string]string, error) {
		code = g.Code
		g.Code = ""
		return nil, nil
	})
	if err != nil {
		return err
	}
	if code != "" {
		return s.client.Del(ctx, refKey(code)).Err()
	}
	return nil
}

func (s *RedisStore) bundle(g *Grant) *TokenBundle {
	return &TokenBundle{
		AccessToken:  g.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.minter.AccessTTL().Seconds()),
		RefreshToken: g.RefreshToken,
		Scope:        append([]string(nil), g.Scope...),
		IDToken:      g.IDToken,
	}
}
