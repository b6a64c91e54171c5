// Package blobstore persists opaque per-client blobs.
//
// Backends:
//   - memory: process-local, optional TTL (go-cache).
//   - sqlite: one row per key.
//   - redis: one string per key, optional TTL.
//
// Every backend can be wrapped with WithLimit to reproduce the size cap of
// browser cookie storage. Write failures always match ErrStorageWriteFailure.
package blobstore
