package blobstore

import (
	"context"

	"github.com/pkg/errors"
)

// DefaultMaxBlobBytes mirrors the per-entry cap of browser cookie storage.
const DefaultMaxBlobBytes = 4096

// LimitedStore rejects blobs larger than MaxBytes before they reach the
// wrapped store, so server-side backends fail the same way a client-side
// cookie jar would.
type LimitedStore struct {
	Store
	MaxBytes int
}

var _ Store = &LimitedStore{}

// WithLimit wraps s; maxBytes <= 0 returns s unchanged.
func WithLimit(s Store, maxBytes int) Store {
	if maxBytes <= 0 || s == nil {
		return s
	}
	return &LimitedStore{Store: s, MaxBytes: maxBytes}
}

func (l *LimitedStore) Put(ctx context.Context, key string, blob []byte) error {
	if l.MaxBytes > 0 && len(blob) > l.MaxBytes {
		return writeFailure(
			errors.Errorf("blob of %d bytes exceeds limit of %d bytes", len(blob), l.MaxBytes),
			"limited blob store",
		)
	}
	return l.Store.Put(ctx, key, blob)
}
