package conflicts

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/hredostate/yebo-sub011/db/kv"
	"github.com/hredostate/yebo-sub011/models"
)

type testConflicts struct {
	conflicts *Store
	store     kv.Store
	dir       string
}

func (t *testConflicts) Cleanup() error {
	t.store.Close()
	return os.RemoveAll(t.dir)
}

func createTestConflicts(t *testing.T) *testConflicts {
	t.Helper()
	dir, err := os.MkdirTemp(os.TempDir(), "conflicts_test_*")
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
	return &testConflicts{conflicts: New(logger, store), store: store, dir: dir}
}

func sampleConflict(table string, id int) models.Conflict {
	return models.Conflict{
		Key:   models.ConflictKey(table, id),
		Table: table,
		Local: models.QueuedWrite{
			ID:        1,
			Kind:      "update",
			Table:     table,
			Payload:   models.Row{"status": "present"},
			Match:     models.Row{"id": id},
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		},
		Server:     models.Row{"id": id, "status": "absent"},
		DetectedAt: time.Now().UTC(),
	}
}

func TestConflicts_PutAndUnresolved(t *testing.T) {
	tc := createTestConflicts(t)
	defer tc.Cleanup()

	if err := tc.conflicts.Put(sampleConflict("attendance_records", 42)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := tc.conflicts.Put(sampleConflict("student_results", 7)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	list, err := tc.conflicts.Unresolved()
	if err != nil {
		t.Fatalf("Unresolved() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Unresolved() = %d entries, want 2", len(list))
	}

	got, err := tc.conflicts.Get("attendance_records-42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Local.Payload["status"] != "present" || got.Server["status"] != "absent" {
		t.Errorf("stored conflict lost its sides: %+v", got)
	}
}

func TestConflicts_PutOverwritesSameRow(t *testing.T) {
	tc := createTestConflicts(t)
	defer tc.Cleanup()

	first := sampleConflict("attendance_records", 42)
	if err := tc.conflicts.Put(first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second := first
	second.Local.Payload = models.Row{"status": "late"}
	if err := tc.conflicts.Put(second); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	list, err := tc.conflicts.Unresolved()
	if err != nil {
		t.Fatalf("Unresolved() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Unresolved() = %d entries, want 1 (same row overwrites)", len(list))
	}
	if list[0].Local.Payload["status"] != "late" {
		t.Errorf("overwrite kept stale local payload: %+v", list[0].Local.Payload)
	}
}

func TestConflicts_MarkResolved(t *testing.T) {
	tc := createTestConflicts(t)
	defer tc.Cleanup()

	if err := tc.conflicts.Put(sampleConflict("attendance_records", 42)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := tc.conflicts.MarkResolved("attendance_records-42"); err != nil {
		t.Fatalf("MarkResolved() error = %v", err)
	}

	list, err := tc.conflicts.Unresolved()
	if err != nil {
		t.Fatalf("Unresolved() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Unresolved() after resolve = %d entries, want 0", len(list))
	}

	// The record stays on disk as an audit entry.
	got, err := tc.conflicts.Get("attendance_records-42")
	if err != nil {
		t.Fatalf("Get() after resolve error = %v", err)
	}
	if !got.Resolved {
		t.Errorf("Resolved = false after MarkResolved")
	}

	// Idempotent, and missing keys are not an error.
	if err := tc.conflicts.MarkResolved("attendance_records-42"); err != nil {
		t.Errorf("MarkResolved() second call error = %v", err)
	}
	if err := tc.conflicts.MarkResolved("no-such-key"); err != nil {
		t.Errorf("MarkResolved() missing key error = %v", err)
	}
}
