package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultKeyPrefix = "sfproxy:session:"

// RedisClient is the subset of redis.Cmdable the repo needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRepo stores sealed sessions in Redis with a TTL matching ExpiresAt,
// so sessions survive restarts and are shared between replicas.
type RedisRepo struct {
	client RedisClient
	sealer *Sealer
	prefix string
}

func NewRedisRepo(client RedisClient, sealer *Sealer, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRepo{client: client, sealer: sealer, prefix: prefix}
}

func (r *RedisRepo) key(id string) string {
	return r.prefix + id
}

func (r *RedisRepo) Upsert(ctx context.Context, session Session) error {
	if session.ID == "" {
		return fmt.Errorf("%w: session id is required", apperrors.ErrInvalidRequest)
	}
	if !session.Authenticated() {
		return fmt.Errorf("%w: refusing to store a session without tokens", apperrors.ErrInvalidRequest)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, session.ID)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return apperrors.Wrapf(err, "[RedisRepo Upsert] marshal")
	}
	sealed, err := r.sealer.Seal(session.ID, payload)
	if err != nil {
		return apperrors.Wrapf(err, "[RedisRepo Upsert] seal")
	}
	if err := r.client.Set(ctx, r.key(session.ID), sealed, ttl).Err(); err != nil {
		return apperrors.Wrapf(err, "[RedisRepo Upsert] set")
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, apperrors.ErrSessionNotFound
	}
	sealed, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, apperrors.Wrapf(err, "[RedisRepo Get]")
	}

	payload, err := r.sealer.Open(id, sealed)
	if err != nil {
		// written under a different secret, or tampered with
		log.Warn().Err(err).Msg("Discarding unreadable session")
		_ = r.Delete(ctx, id)
		return Session{}, apperrors.ErrSessionNotFound
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, apperrors.Wrapf(err, "[RedisRepo Get] unmarshal")
	}
	if session.Expired(time.Now()) {
		return Session{}, apperrors.ErrSessionNotFound
	}
	return session, nil
}

func (r *RedisRepo) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return apperrors.Wrapf(err, "[RedisRepo Delete]")
	}
	return nil
}
