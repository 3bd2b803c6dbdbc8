// Package blobs holds the binary payloads for queued file uploads. Blobs
// are keyed by a generated file id and referenced from queue entries, never
// embedded in them: queue entries must stay small and fast to scan.
package blobs

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hredostate/yebo-sub011/db/kv"
)

const keyPrefix = "blob:"

type Store struct {
	logger *slog.Logger
	store  kv.Store
}

func New(logger *slog.Logger, store kv.Store) *Store {
	return &Store{
		logger: logger.WithGroup("blobs"),
		store:  store,
	}
}

// NewFileID generates a reference key for a pending upload. Millisecond
// timestamp plus a random suffix; collision probability is negligible at
// this scale.
func NewFileID() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

func (s *Store) Put(fileID string, data []byte) error {
	s.logger.Debug("storing blob", "file_id", fileID, "size", len(data))
	return s.store.Set(keyPrefix+fileID, data)
}

// Get returns the stored bytes, or *kv.ErrKeyNotFound if the blob is gone.
func (s *Store) Get(fileID string) ([]byte, error) {
	return s.store.Get(keyPrefix + fileID)
}

// Remove deletes the blob. Removing a missing blob is not an error.
func (s *Store) Remove(fileID string) error {
	return s.store.Delete(keyPrefix + fileID)
}

// Count returns the number of stored blobs.
func (s *Store) Count() (int, error) {
	return s.store.CountPrefix(keyPrefix)
}
