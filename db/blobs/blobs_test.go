package blobs

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/pkg/errors"

	"github.com/hredostate/yebo-sub011/db/kv"
)

type testBlobs struct {
	blobs *Store
	store kv.Store
	dir   string
}

func (t *testBlobs) Cleanup() error {
	t.store.Close()
	return os.RemoveAll(t.dir)
}

func createTestBlobs(t *testing.T) *testBlobs {
	t.Helper()
	dir, err := os.MkdirTemp(os.TempDir(), "blobs_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	store, err := kv.New(kv.Config{Logger: logger, Directory: dir})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return &testBlobs{blobs: New(logger, store), store: store, dir: dir}
}

func TestBlobs_PutGetRemove(t *testing.T) {
	tb := createTestBlobs(t)
	defer tb.Cleanup()

	data := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}
	fileID := NewFileID()

	if err := tb.blobs.Put(fileID, data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := tb.blobs.Get(fileID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %v, want %v", got, data)
	}

	count, err := tb.blobs.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}

	if err := tb.blobs.Remove(fileID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	_, err = tb.blobs.Get(fileID)
	var notFound *kv.ErrKeyNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("Get() after remove error = %v, want ErrKeyNotFound", err)
	}

	// Removing again is a no-op.
	if err := tb.blobs.Remove(fileID); err != nil {
		t.Errorf("Remove() on missing blob error = %v, wantErr nil", err)
	}
}

func TestBlobs_FileIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewFileID()
		if _, dup := seen[id]; dup {
			t.Fatalf("NewFileID() repeated %q", id)
		}
		seen[id] = struct{}{}
	}
}
