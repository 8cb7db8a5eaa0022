package distcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
	"github.com/edgecomet/rendeer/internal/common/redis"
)

// redisStore adapts the shared redis client to Store
type redisStore struct {
	client *redis.Client
}

func newRedisStore(hosts []string, cfg configtypes.RedisConfig, timeout time.Duration, logger *zap.Logger) (*redisStore, error) {
	client, err := redis.NewClient(hosts, cfg, timeout, logger)
	if err != nil {
		return nil, err
	}
	return &redisStore{client: client}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.client.Get(ctx, key)
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl)
}

func (s *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key)
	return n > 0, err
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
