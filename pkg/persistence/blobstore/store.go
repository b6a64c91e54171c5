package blobstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrStorageWriteFailure marks a rejected write. Callers keep their in-memory
// state authoritative and treat the failure as a notice.
var ErrStorageWriteFailure = errors.New("storage write failure")

// DefaultKey is the entry that holds a client's transcript.
const DefaultKey = "chat_history"

// Store is a byte-blob key/value store scoped to one client. It holds no
// business logic.
type Store interface {
	// Get returns the blob for key; ok is false when nothing was stored.
	Get(ctx context.Context, key string) (blob []byte, ok bool, err error)
	// Put replaces the blob for key. Failures wrap ErrStorageWriteFailure.
	Put(ctx context.Context, key string, blob []byte) error
	Close() error
}

// ClientKey namespaces key by client so that one backend can serve many
// clients without them seeing each other's entries.
func ClientKey(clientID, key string) string {
	clientID = strings.TrimSpace(clientID)
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	if clientID == "" {
		return key
	}
	return clientID + "/" + key
}

func writeFailure(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(&wrappedWriteFailure{cause: err}, msg)
}

type wrappedWriteFailure struct {
	cause error
}

func (w *wrappedWriteFailure) Error() string {
	return ErrStorageWriteFailure.Error() + ": " + w.cause.Error()
}

func (w *wrappedWriteFailure) Is(target error) bool { return target == ErrStorageWriteFailure }

func (w *wrappedWriteFailure) Unwrap() error { return w.cause }
