package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

const (
	nonceKeyPrefix   = "authz:nonce:"
	sessionKeyPrefix = "authz:session:"
	codeKeyPrefix    = "authz:code:"
)

// createSessionScript writes the nonce and the session only if neither key exists.
// KEYS: nonce, session. ARGV: nonce value, nonce ttl ms, session json, session ttl ms.
var createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
return 1
`)

// RedisStore relies on SET NX and a Lua script for atomicity. Keys expire with
// their records, so nothing needs sweeping.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ttlUntil never returns zero, which Redis would read as "no expiry".
func ttlUntil(now, expiresAt time.Time) time.Duration {
	return max(expiresAt.Sub(now), time.Millisecond)
}

func (s *RedisStore) PutNonceIfAbsent(ctx context.Context, nonce models.NonceRecord) error {
	ttl := ttlUntil(requestcontext.Now(ctx), nonce.ExpiresAt)
	ok, err := s.client.SetNX(ctx, nonceKeyPrefix+nonce.Nonce, nonce.ExpiresAt.Unix(), ttl).Result()
	if err != nil {
		return unavailable("put nonce", err)
	}
	if !ok {
		return fmt.Errorf("nonce %s: %w", nonce.Nonce, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *RedisStore) CreateSessionWithNonce(ctx context.Context, nonce models.NonceRecord, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	now := requestcontext.Now(ctx)
	keys := []string{nonceKeyPrefix + nonce.Nonce, sessionKeyPrefix + session.ID}
	created, err := createSessionScript.Run(ctx, s.client, keys,
		nonce.ExpiresAt.Unix(),
		ttlUntil(now, nonce.ExpiresAt).Milliseconds(),
		payload,
		ttlUntil(now, session.ExpiresAt).Milliseconds(),
	).Int()
	if err != nil {
		return unavailable("create session with nonce", err)
	}
	if created == 0 {
		return fmt.Errorf("nonce %s: %w", nonce.Nonce, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *RedisStore) SaveCode(ctx context.Context, code *models.AuthorizationCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal authorization code: %w", err)
	}
	ttl := ttlUntil(requestcontext.Now(ctx), code.ExpiresAt)
	ok, err := s.client.SetNX(ctx, codeKeyPrefix+code.Code, payload, ttl).Result()
	if err != nil {
		return unavailable("save authorization code", err)
	}
	if !ok {
		return fmt.Errorf("authorization code: %w", sentinel.ErrAlreadyUsed)
	}
	return nil
}

// ConsumeCode uses GETDEL so a code is handed out at most once.
func (s *RedisStore) ConsumeCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	payload, err := s.client.GetDel(ctx, codeKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("consume authorization code", err)
	}
	var record models.AuthorizationCode
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal authorization code: %w", err)
	}
	return &record, nil
}

// Session reads a journey session back for the journey steps.
func (s *RedisStore) Session(ctx context.Context, id string) (*models.Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	var sess models.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping redis", err)
	}
	return nil
}
