package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is the sliding expiry window for shared sessions.
	DefaultTTL = 24 * time.Hour

	sessionKeyPrefix = "coach:session:"
)

// RedisStore shares sessions across worker processes. Every Get and Save
// pushes the expiry out by the full TTL, so only abandoned sessions expire.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, ttl: ttl, logger: logger}
}

func NewRedisStoreFromURL(url string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), ttl, logger), nil
}

// Ping verifies connectivity at startup.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.rdb.Set(ctx, sessionKey(s.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStorageUnavailable, s.ID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStorageUnavailable, id, err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStorageUnavailable, id, err)
	}

	// Reading a session counts as activity.
	if err := r.rdb.Expire(ctx, sessionKey(id), r.ttl).Err(); err != nil {
		r.logger.Warn("failed to refresh session TTL",
			zap.String("session_id", id),
			zap.Error(err))
	}
	return &s, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorageUnavailable, id, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
