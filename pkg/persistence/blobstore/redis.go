package blobstore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps blobs as plain Redis strings under Prefix+key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = &RedisStore{}

type RedisSettings struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL <= 0 stores entries without expiry.
	TTL time.Duration
}

func NewRedisStore(ctx context.Context, s RedisSettings) (*RedisStore, error) {
	if strings.TrimSpace(s.Addr) == "" {
		return nil, errors.New("redis blob store: empty addr")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis blob store: ping %s", s.Addr)
	}
	return NewRedisStoreFromClient(client, s.Prefix, s.TTL), nil
}

func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, errors.New("redis blob store: nil client")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("redis blob store: key is empty")
	}
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis blob store: get")
	}
	return b, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, blob []byte) error {
	if s == nil || s.client == nil {
		return writeFailure(errors.New("nil client"), "redis blob store")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return writeFailure(errors.New("key is empty"), "redis blob store")
	}
	return writeFailure(s.client.Set(ctx, s.prefix+key, blob, s.ttl).Err(), "redis blob store: put")
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
