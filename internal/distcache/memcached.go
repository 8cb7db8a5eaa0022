package distcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grafana/gomemcache/memcache"
)

// memcachedStore talks to a memcached pool; keys are spread over hosts by the client's selector
type memcachedStore struct {
	client *memcache.Client
	hosts  []string
}

func newMemcachedStore(hosts []string, timeout time.Duration) (*memcachedStore, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("at least one memcached host is required")
	}

	client := memcache.New(hosts...)
	if timeout > 0 {
		client.Timeout = timeout
	}

	return &memcachedStore{client: client, hosts: hosts}, nil
}

func (s *memcachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	item, err := s.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcached get failed: %w", err)
	}
	return item.Value, true, nil
}

func (s *memcachedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item := &memcache.Item{Key: key, Value: value}
	if ttl > 0 {
		// absolute expiry also works past memcached's 30 day relative limit
		item.Expiration = int32(time.Now().Add(ttl).Unix())
	}

	if err := s.client.Set(item); err != nil {
		return fmt.Errorf("memcached set failed: %w", err)
	}
	return nil
}

func (s *memcachedStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := s.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memcached delete failed: %w", err)
	}
	return true, nil
}

func (s *memcachedStore) Close() error {
	return nil
}
