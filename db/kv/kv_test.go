package kv

import (
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/pkg/errors"
)

type testStore struct {
	store Store
	dir   string
}

func (t *testStore) Cleanup() error {
	t.store.Close()
	return os.RemoveAll(t.dir)
}

func createTestStore(t *testing.T) *testStore {
	t.Helper()
	dir, err := os.MkdirTemp(os.TempDir(), "kv_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := New(Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
		Directory: dir,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return &testStore{store: store, dir: dir}
}

func TestStore_GetSetDelete(t *testing.T) {
	ts := createTestStore(t)
	defer ts.Cleanup()

	t.Run("set and get", func(t *testing.T) {
		if err := ts.store.Set("alpha", []byte("one")); err != nil {
			t.Errorf("Set() error = %v, wantErr nil", err)
		}
		got, err := ts.store.Get("alpha")
		if err != nil {
			t.Errorf("Get() error = %v, wantErr nil", err)
		}
		if string(got) != "one" {
			t.Errorf("Get() = %q, want %q", got, "one")
		}
	})

	t.Run("get missing key", func(t *testing.T) {
		_, err := ts.store.Get("nope")
		var notFound *ErrKeyNotFound
		if !errors.As(err, &notFound) {
			t.Errorf("Get() error = %v, want ErrKeyNotFound", err)
		}
		if notFound != nil && notFound.Key != "nope" {
			t.Errorf("ErrKeyNotFound.Key = %q, want %q", notFound.Key, "nope")
		}
	})

	t.Run("overwrite existing", func(t *testing.T) {
		if err := ts.store.Set("alpha", []byte("two")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := ts.store.Get("alpha")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "two" {
			t.Errorf("Get() after overwrite = %q, want %q", got, "two")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := ts.store.Delete("alpha"); err != nil {
			t.Errorf("Delete() error = %v, wantErr nil", err)
		}
		_, err := ts.store.Get("alpha")
		var notFound *ErrKeyNotFound
		if !errors.As(err, &notFound) {
			t.Errorf("Get() after delete error = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("delete missing key is no-op", func(t *testing.T) {
		if err := ts.store.Delete("never-existed"); err != nil {
			t.Errorf("Delete() on missing key error = %v, wantErr nil", err)
		}
	})
}

func TestStore_IteratePrefix(t *testing.T) {
	ts := createTestStore(t)
	defer ts.Cleanup()

	// Insert out of lexical order; iteration must come back sorted.
	for _, i := range []int{3, 1, 2, 5, 4} {
		key := fmt.Sprintf("queue:%020d", i)
		if err := ts.store.Set(key, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Set(%s) error = %v", key, err)
		}
	}
	if err := ts.store.Set("other:1", []byte("x")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var keys []string
	err := ts.store.IteratePrefix("queue:", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix() error = %v", err)
	}

	if len(keys) != 5 {
		t.Fatalf("IteratePrefix() visited %d keys, want 5", len(keys))
	}
	for i, key := range keys {
		want := fmt.Sprintf("queue:%020d", i+1)
		if key != want {
			t.Errorf("keys[%d] = %q, want %q", i, key, want)
		}
	}

	count, err := ts.store.CountPrefix("queue:")
	if err != nil {
		t.Fatalf("CountPrefix() error = %v", err)
	}
	if count != 5 {
		t.Errorf("CountPrefix() = %d, want 5", count)
	}
}

func TestStore_IteratePrefixStopsOnError(t *testing.T) {
	ts := createTestStore(t)
	defer ts.Cleanup()

	for i := 0; i < 4; i++ {
		if err := ts.store.Set(fmt.Sprintf("p:%d", i), []byte("v")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	sentinel := errors.New("stop here")
	visited := 0
	err := ts.store.IteratePrefix("p:", func(key string, value []byte) error {
		visited++
		if visited == 2 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("IteratePrefix() error = %v, want sentinel", err)
	}
	if visited != 2 {
		t.Errorf("visited = %d, want 2", visited)
	}
}

func TestStore_SequenceSurvivesReopen(t *testing.T) {
	dir, err := os.MkdirTemp(os.TempDir(), "kv_seq_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	store, err := New(Config{Logger: logger, Directory: dir})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	var last uint64
	for i := 0; i < 5; i++ {
		id, err := store.NextSequence("writes")
		if err != nil {
			t.Fatalf("NextSequence() error = %v", err)
		}
		if id <= last {
			t.Errorf("NextSequence() = %d, want > %d", id, last)
		}
		last = id
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(Config{Logger: logger, Directory: dir})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	id, err := reopened.NextSequence("writes")
	if err != nil {
		t.Fatalf("NextSequence() after reopen error = %v", err)
	}
	if id <= last {
		t.Errorf("NextSequence() after reopen = %d, want > %d", id, last)
	}
}

func TestStore_ValuesSurviveReopen(t *testing.T) {
	dir, err := os.MkdirTemp(os.TempDir(), "kv_reopen_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	store, err := New(Config{Logger: logger, Directory: dir})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Set("durable", []byte("payload")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(Config{Logger: logger, Directory: dir})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("durable")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() after reopen = %q, want %q", got, "payload")
	}
}
