package offline

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hredostate/yebo-sub011/backend"
	"github.com/hredostate/yebo-sub011/db/kv"
	"github.com/hredostate/yebo-sub011/db/outbox"
	"github.com/hredostate/yebo-sub011/models"
)

// Sync drains the queue against the backend. At most one drain runs at a
// time; overlapping calls return immediately. The drain halts at the first
// item whose replay fails transiently, leaving that item and everything
// after it for the next attempt.
func (e *Engine) Sync(ctx context.Context) {
	if !e.online.Load() {
		e.logger.Debug("sync skipped, offline")
		return
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug("sync already in progress")
		return
	}
	defer e.syncing.Store(false)

	pending, err := e.queue.Len()
	if err != nil {
		e.logger.Error("failed to count queued writes", "error", err)
		return
	}
	if pending == 0 {
		return
	}
	e.logger.Info("sync starting", "pending", pending)

	if err := e.queue.Drain(func(item outbox.Item) bool {
		return e.applyItem(ctx, item)
	}); err != nil {
		e.logger.Error("sync aborted", "error", err)
		return
	}

	remaining, err := e.queue.Len()
	if err != nil {
		e.logger.Error("failed to count queued writes", "error", err)
		return
	}
	e.logger.Info("sync finished", "applied", pending-remaining, "remaining", remaining)
}

// applyItem replays one queued write. True removes the item from the
// queue, whether it landed or was intentionally discarded; false halts the
// drain with the item kept for retry. A panic inside a replay counts as a
// transient failure.
func (e *Engine) applyItem(ctx context.Context, item outbox.Item) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while replaying queued write", "id", item.ID, "panic", r)
			ok = false
		}
	}()

	switch op := item.Op.(type) {
	case outbox.InsertOp:
		return e.applyRemote(item, func() error {
			_, err := e.remote.Insert(ctx, op.Table, op.Payload)
			return err
		})
	case outbox.UpdateOp:
		return e.applyUpdate(ctx, item, op)
	case outbox.DeleteOp:
		return e.applyRemote(item, func() error {
			_, err := e.remote.Delete(ctx, op.Table, op.Match)
			return err
		})
	case outbox.RPCOp:
		return e.applyRemote(item, func() error {
			_, err := e.remote.RPC(ctx, op.Name, op.Args)
			return err
		})
	case outbox.FunctionOp:
		return e.applyRemote(item, func() error {
			_, err := e.remote.InvokeFunction(ctx, op.Name, op.Body)
			return err
		})
	case outbox.UploadOp:
		return e.applyUpload(ctx, item, op)
	default:
		e.logger.Error("queued write has unknown operation type", "id", item.ID)
		return true
	}
}

func (e *Engine) applyRemote(item outbox.Item, call func() error) bool {
	if err := call(); err != nil {
		e.logger.Warn("replay failed, halting drain", "id", item.ID, "kind", item.Op.Kind(), "error", err)
		return false
	}
	e.logger.Debug("queued write replayed", "id", item.ID, "kind", item.Op.Kind())
	return true
}

func (e *Engine) applyUpdate(ctx context.Context, item outbox.Item, op outbox.UpdateOp) bool {
	conflicted, err := e.detectConflict(ctx, item, op)
	if err != nil {
		e.logger.Warn("conflict check failed, halting drain", "id", item.ID, "table", op.Table, "error", err)
		return false
	}
	if conflicted {
		// Quarantined. The update is consumed without being applied so
		// the rest of the queue keeps moving.
		return true
	}
	return e.applyRemote(item, func() error {
		_, err := e.remote.Update(ctx, op.Table, op.Payload, op.Match)
		return err
	})
}

func (e *Engine) applyUpload(ctx context.Context, item outbox.Item, op outbox.UploadOp) bool {
	data, err := e.blobs.Get(op.FileID)
	if err != nil {
		var notFound *kv.ErrKeyNotFound
		if errors.As(err, &notFound) {
			// The bytes are gone; the upload can never succeed. Discard
			// rather than wedge the queue.
			e.logger.Error("queued upload lost its blob, discarding", "id", item.ID, "file_id", op.FileID)
			return true
		}
		e.logger.Warn("blob read failed, halting drain", "id", item.ID, "file_id", op.FileID, "error", err)
		return false
	}

	if _, err := e.remote.UploadFile(ctx, op.Bucket, op.Path, data, op.Options); err != nil {
		e.logger.Warn("upload replay failed, halting drain", "id", item.ID, "path", op.Path, "error", err)
		return false
	}
	if err := e.blobs.Remove(op.FileID); err != nil {
		e.logger.Warn("failed to remove uploaded blob", "file_id", op.FileID, "error", err)
	}
	e.logger.Debug("queued upload replayed", "id", item.ID, "path", op.Path)
	return true
}

// detectConflict decides whether a queued update clashes with a newer
// server-side edit of the same row. Only allow-listed tables matched by a
// single id are checked; everything else replays last-writer-wins. True
// means the update was quarantined into the conflict store.
func (e *Engine) detectConflict(ctx context.Context, item outbox.Item, op outbox.UpdateOp) (bool, error) {
	if _, watched := e.conflictTables[op.Table]; !watched {
		return false, nil
	}
	matchID, ok := singleIDMatch(op.Match)
	if !ok {
		return false, nil
	}

	raw, err := e.remote.Select(ctx, op.Table, op.Match)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			// Row not on the server; let the update replay and fail or
			// succeed on its own terms.
			return false, nil
		}
		return false, errors.Wrap(err, "conflict check select failed")
	}

	server, err := decodeServerRow(raw)
	if err != nil {
		e.logger.Warn("unreadable server row during conflict check, replaying", "table", op.Table, "error", err)
		return false, nil
	}
	if server == nil {
		return false, nil
	}

	serverTime, ok := parseServerTime(server[e.updatedAtField])
	if !ok || !serverTime.After(item.CreatedAt) {
		// Local write is the newer one; last writer wins.
		return false, nil
	}

	if !fieldsDiffer(op.Payload, server) {
		// Server changed other columns; ours still apply cleanly.
		return false, nil
	}

	conflict := models.Conflict{
		Key:   models.ConflictKey(op.Table, matchID),
		Table: op.Table,
		Local: models.QueuedWrite{
			ID:        item.ID,
			Kind:      string(op.Kind()),
			Table:     op.Table,
			Payload:   op.Payload,
			Match:     op.Match,
			CreatedAt: item.CreatedAt,
		},
		Server:     server,
		DetectedAt: nowUTC(),
	}
	if err := e.conflicts.Put(conflict); err != nil {
		return false, errors.Wrap(err, "failed to record conflict")
	}
	e.logger.Warn("update conflicts with newer server edit, quarantined",
		"table", op.Table, "key", conflict.Key, "queued_at", item.CreatedAt, "server_updated_at", serverTime)
	return true, nil
}

func decodeServerRow(raw json.RawMessage) (models.Row, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var row models.Row
	if err := json.Unmarshal(raw, &row); err == nil {
		return row, nil
	}
	// Some select responses wrap the row in a single-element array.
	var rows []models.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, nil
	}
	return rows[0], nil
}
