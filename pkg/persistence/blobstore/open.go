package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Settings selects and configures a backend.
type Settings struct {
	Backend   string
	SQLiteDB  string
	SQLiteDSN string
	Redis     RedisSettings
	MemoryTTL time.Duration
	// MaxBlobBytes caps every write; <= 0 disables the cap.
	MaxBlobBytes int
}

// Open builds the configured store, wrapped with the size limit.
func Open(ctx context.Context, settings Settings) (Store, error) {
	var (
		s   Store
		err error
	)
	switch backend := strings.ToLower(strings.TrimSpace(settings.Backend)); backend {
	case "", BackendMemory:
		s = NewMemoryStore(settings.MemoryTTL)
	case BackendSQLite:
		s, err = openSQLite(settings)
	case BackendRedis:
		s, err = NewRedisStore(ctx, settings.Redis)
	default:
		return nil, errors.Errorf("blob store: unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return WithLimit(s, settings.MaxBlobBytes), nil
}

func openSQLite(settings Settings) (*SQLiteStore, error) {
	dsn := strings.TrimSpace(settings.SQLiteDSN)
	if dsn == "" {
		dbPath := strings.TrimSpace(settings.SQLiteDB)
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create blob db dir")
			}
		}
		var err error
		dsn, err = SQLiteDSNForFile(dbPath)
		if err != nil {
			return nil, err
		}
	}
	return NewSQLiteStore(dsn)
}
