package blobstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite blob store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile returns a DSN for a database file.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite blob store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite blob store: db is nil")
	}
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS client_blobs (
			blob_key TEXT NOT NULL PRIMARY KEY,
			blob BLOB NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);
	`); err != nil {
		return errors.Wrap(err, "sqlite blob store: migrate")
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("sqlite blob store: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("sqlite blob store: key is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM client_blobs WHERE blob_key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "sqlite blob store: get")
	}
	return blob, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, blob []byte) error {
	if s == nil || s.db == nil {
		return writeFailure(errors.New("db is nil"), "sqlite blob store")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return writeFailure(errors.New("key is empty"), "sqlite blob store")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if blob == nil {
		blob = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_blobs (blob_key, blob, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(blob_key) DO UPDATE SET
			blob = excluded.blob,
			updated_at_ms = excluded.updated_at_ms
	`, key, blob, time.Now().UnixMilli())
	return writeFailure(err, "sqlite blob store: put")
}
