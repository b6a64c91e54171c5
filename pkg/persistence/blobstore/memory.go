package blobstore

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// MemoryStore keeps blobs in process memory. Entries expire after the
// configured TTL; a TTL <= 0 keeps them for the lifetime of the process.
type MemoryStore struct {
	cache *cache.Cache
}

var _ Store = &MemoryStore{}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
		if cleanup < time.Minute {
			cleanup = time.Minute
		}
	}
	return &MemoryStore{cache: cache.New(expiration, cleanup)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.cache == nil {
		return nil, false, errors.New("memory blob store: nil store")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("memory blob store: key is empty")
	}
	v, found := s.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, errors.Errorf("memory blob store: unexpected value type %T", v)
	}
	return append([]byte(nil), b...), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, blob []byte) error {
	if s == nil || s.cache == nil {
		return writeFailure(errors.New("nil store"), "memory blob store")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return writeFailure(errors.New("key is empty"), "memory blob store")
	}
	s.cache.Set(key, append([]byte(nil), blob...), cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
