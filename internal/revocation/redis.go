package revocation

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const blacklistPrefix = "token:blacklist:"

// RedisStore keeps revoked jtis as Redis keys that expire with the token.
type RedisStore struct {
	rdb goredis.Cmdable
}

// NewRedisStore connects to Redis and pings it with a 5s timeout.
func NewRedisStore(ctx context.Context, addr, password string, db int, log *zap.Logger) (*RedisStore, func() error, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if log != nil {
		log.Info("redis connected", zap.String("addr", addr))
	}
	return &RedisStore{rdb: rdb}, rdb.Close, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb goredis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Revoke sets token:blacklist:<jti> with the remaining token lifetime as TTL.
func (s *RedisStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, blacklistPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the blacklist key for jti exists.
func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blacklistPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return n > 0, nil
}
