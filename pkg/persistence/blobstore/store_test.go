package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "c1/chat_history")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "c1/chat_history", []byte(`[{"id":1}]`)))
	require.NoError(t, s.Put(ctx, "c2/chat_history", []byte(`[]`)))

	b, ok, err := s.Get(ctx, "c1/chat_history")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `[{"id":1}]`, string(b))

	require.NoError(t, s.Put(ctx, "c1/chat_history", []byte(`[{"id":2}]`)))
	b, _, err = s.Get(ctx, "c1/chat_history")
	require.NoError(t, err)
	require.Equal(t, `[{"id":2}]`, string(b))

	b, ok, err = s.Get(ctx, "c2/chat_history")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `[]`, string(b))

	_, _, err = s.Get(ctx, " ")
	require.Error(t, err)
	err = s.Put(ctx, "", []byte("x"))
	require.True(t, errors.Is(err, ErrStorageWriteFailure))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	in := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", in))
	in[0] = 'x'

	out, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(out))
	out[1] = 'y'

	again, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}

func TestSQLiteStore(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	ctx := context.Background()

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "c1/chat_history", []byte("persisted")))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	b, ok, err := s2.Get(ctx, "c1/chat_history")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", string(b))
}

func TestNewSQLiteStore_EmptyDSN(t *testing.T) {
	_, err := NewSQLiteStore(" ")
	require.Error(t, err)
	_, err = SQLiteDSNForFile("")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("RAGCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RAGCHAT_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), RedisSettings{
		Addr:   addr,
		Prefix: "ragchat-test:" + time.Now().Format("150405.000000") + ":",
		TTL:    time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestLimitedStore_RejectsOversizedBlobs(t *testing.T) {
	inner := NewMemoryStore(0)
	s := WithLimit(inner, 8)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("12345678")))
	err := s.Put(ctx, "k", []byte("123456789"))
	require.True(t, errors.Is(err, ErrStorageWriteFailure))
	require.Contains(t, err.Error(), "exceeds limit")

	b, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "12345678", string(b))

	require.Same(t, inner, WithLimit(inner, 0))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Settings{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	dbPath := filepath.Join(t.TempDir(), "nested", "blobs.db")
	s, err = Open(ctx, Settings{Backend: "SQLite", SQLiteDB: dbPath, MaxBlobBytes: DefaultMaxBlobBytes})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.IsType(t, &LimitedStore{}, s)
	_, err = os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)

	_, err = Open(ctx, Settings{Backend: "cookie"})
	require.ErrorContains(t, err, "unknown backend")
}

func TestClientKey(t *testing.T) {
	require.Equal(t, "abc/chat_history", ClientKey("abc", ""))
	require.Equal(t, "abc/other", ClientKey(" abc ", "other"))
	require.Equal(t, "chat_history", ClientKey("", DefaultKey))
}
