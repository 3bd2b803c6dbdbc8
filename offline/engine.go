// Package offline is the facade between application code and the remote
// data backend. Online calls pass straight through; offline writes are
// appended to a durable queue and replayed in order when connectivity
// returns, with write-write conflicts quarantined for manual review.
package offline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hredostate/yebo-sub011/backend"
	"github.com/hredostate/yebo-sub011/db/blobs"
	"github.com/hredostate/yebo-sub011/db/conflicts"
	"github.com/hredostate/yebo-sub011/db/outbox"
	"github.com/hredostate/yebo-sub011/db/readcache"
	"github.com/hredostate/yebo-sub011/models"
)

const DefaultUpdatedAtField = "updated_at"

var (
	DefaultRefreshLimit = rate.Limit(2)
	DefaultRefreshBurst = 4
)

type Config struct {
	Logger    *slog.Logger
	Remote    backend.Remote
	Cache     *readcache.Cache
	Queue     *outbox.Queue
	Blobs     *blobs.Store
	Conflicts *conflicts.Store

	// Tables with meaningful last-modified semantics; only updates to
	// these run the conflict check during drain.
	ConflictTables []string

	// Server column carrying the row's last-modified timestamp. Defaults
	// to DefaultUpdatedAtField.
	UpdatedAtField string

	// Pacing for background cache refetches. Zero values take the
	// defaults.
	RefreshLimit rate.Limit
	RefreshBurst int
}

// Engine is the sync engine. Construct one per process and inject it
// wherever data access happens; all queue mutation funnels through its
// dispatch and Sync paths.
type Engine struct {
	logger    *slog.Logger
	remote    backend.Remote
	cache     *readcache.Cache
	queue     *outbox.Queue
	blobs     *blobs.Store
	conflicts *conflicts.Store

	conflictTables map[string]struct{}
	updatedAtField string
	refresh        *rate.Limiter

	online  atomic.Bool
	syncing atomic.Bool
}

func New(cfg Config) *Engine {
	tables := make(map[string]struct{}, len(cfg.ConflictTables))
	for _, t := range cfg.ConflictTables {
		tables[t] = struct{}{}
	}

	if cfg.UpdatedAtField == "" {
		cfg.UpdatedAtField = DefaultUpdatedAtField
	}
	if cfg.RefreshLimit == 0 {
		cfg.RefreshLimit = DefaultRefreshLimit
	}
	if cfg.RefreshBurst == 0 {
		cfg.RefreshBurst = DefaultRefreshBurst
	}

	e := &Engine{
		logger:         cfg.Logger.WithGroup("offline"),
		remote:         cfg.Remote,
		cache:          cfg.Cache,
		queue:          cfg.Queue,
		blobs:          cfg.Blobs,
		conflicts:      cfg.Conflicts,
		conflictTables: tables,
		updatedAtField: cfg.UpdatedAtField,
		refresh:        rate.NewLimiter(cfg.RefreshLimit, cfg.RefreshBurst),
	}
	e.online.Store(true)
	return e
}

// IsOnline reports the engine's current connectivity belief.
func (e *Engine) IsOnline() bool {
	return e.online.Load()
}

// SetOnline updates the connectivity state without triggering a sync.
func (e *Engine) SetOnline(online bool) {
	if e.online.Swap(online) != online {
		e.logger.Info("connectivity state changed", "online", online)
	}
}

// NotifyConnectivityRestored marks the engine online and drains the queue.
func (e *Engine) NotifyConnectivityRestored(ctx context.Context) {
	e.SetOnline(true)
	e.Sync(ctx)
}

// ScheduleBootSync arranges a one-shot drain shortly after startup to catch
// a queue left over from a previous offline session.
func (e *Engine) ScheduleBootSync(ctx context.Context, delay time.Duration) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			e.logger.Debug("boot sync firing", "delay", delay)
			e.Sync(ctx)
		}
	}()
}

// QueueLen returns the number of pending queued writes.
func (e *Engine) QueueLen() (int, error) {
	return e.queue.Len()
}

// QueueItems returns the pending queued writes in replay order.
func (e *Engine) QueueItems() ([]outbox.Item, error) {
	return e.queue.Items()
}

// GetConflicts returns every conflict awaiting manual resolution.
func (e *Engine) GetConflicts() ([]models.Conflict, error) {
	return e.conflicts.Unresolved()
}

// MarkConflictResolved flips a conflict's resolved flag. No-op on missing
// or already-resolved keys.
func (e *Engine) MarkConflictResolved(key string) error {
	return e.conflicts.MarkResolved(key)
}

// --- Write dispatch ---
//
// Every write-style operation follows the same rule: online calls go
// straight to the backend and return its result unmodified (errors are
// logged but never swallowed); offline calls enqueue and return a synthetic
// "accepted, queued" result.

func (e *Engine) Insert(ctx context.Context, table string, payload models.Row) (models.Result, error) {
	if e.online.Load() {
		data, err := e.remote.Insert(ctx, table, payload)
		if err != nil {
			e.logger.Error("insert failed", "table", table, "error", err)
		}
		return models.Result{Data: data}, err
	}

	item, err := e.queue.Enqueue(outbox.InsertOp{Table: table, Payload: payload.Clone()})
	if err != nil {
		return models.Result{}, err
	}
	e.logger.Info("insert queued", "table", table, "id", item.ID)

	// Optimistic echo: the UI proceeds as if the insert already landed.
	// The enqueue timestamp stands in for an id when the caller did not
	// supply one.
	optimistic := payload.Clone()
	if optimistic == nil {
		optimistic = models.Row{}
	}
	if _, ok := optimistic["id"]; !ok {
		optimistic["id"] = item.CreatedAt.UnixMilli()
	}
	data, err := json.Marshal(optimistic)
	if err != nil {
		e.logger.Warn("failed to encode optimistic insert payload", "table", table, "error", err)
		data = nil
	}
	return models.Result{Data: data, OfflineQueued: true}, nil
}

func (e *Engine) Update(ctx context.Context, table string, payload, match models.Row) (models.Result, error) {
	if e.online.Load() {
		data, err := e.remote.Update(ctx, table, payload, match)
		if err != nil {
			e.logger.Error("update failed", "table", table, "error", err)
		}
		return models.Result{Data: data}, err
	}

	item, err := e.queue.Enqueue(outbox.UpdateOp{Table: table, Payload: payload.Clone(), Match: match.Clone()})
	if err != nil {
		return models.Result{}, err
	}
	e.logger.Info("update queued", "table", table, "id", item.ID)
	return models.Result{OfflineQueued: true}, nil
}

func (e *Engine) Delete(ctx context.Context, table string, match models.Row) (models.Result, error) {
	if e.online.Load() {
		data, err := e.remote.Delete(ctx, table, match)
		if err != nil {
			e.logger.Error("delete failed", "table", table, "error", err)
		}
		return models.Result{Data: data}, err
	}

	item, err := e.queue.Enqueue(outbox.DeleteOp{Table: table, Match: match.Clone()})
	if err != nil {
		return models.Result{}, err
	}
	e.logger.Info("delete queued", "table", table, "id", item.ID)
	return models.Result{OfflineQueued: true}, nil
}

func (e *Engine) RPC(ctx context.Context, name string, args models.Row) (models.Result, error) {
	if e.online.Load() {
		data, err := e.remote.RPC(ctx, name, args)
		if err != nil {
			e.logger.Error("rpc failed", "name", name, "error", err)
		}
		return models.Result{Data: data}, err
	}

	item, err := e.queue.Enqueue(outbox.RPCOp{Name: name, Args: args.Clone()})
	if err != nil {
		return models.Result{}, err
	}
	e.logger.Info("rpc queued", "name", name, "id", item.ID)
	return models.Result{OfflineQueued: true}, nil
}

func (e *Engine) InvokeFunction(ctx context.Context, name string, body models.Row) (models.Result, error) {
	if e.online.Load() {
		data, err := e.remote.InvokeFunction(ctx, name, body)
		if err != nil {
			e.logger.Error("function invoke failed", "name", name, "error", err)
		}
		return models.Result{Data: data}, err
	}

	item, err := e.queue.Enqueue(outbox.FunctionOp{Name: name, Body: body.Clone()})
	if err != nil {
		return models.Result{}, err
	}
	e.logger.Info("function invoke queued", "name", name, "id", item.ID)
	return models.Result{OfflineQueued: true}, nil
}

func (e *Engine) Upload(ctx context.Context, bucket, path string, data []byte, opts models.UploadOptions) (models.Result, error) {
	if e.online.Load() {
		respData, err := e.remote.UploadFile(ctx, bucket, path, data, opts)
		if err != nil {
			e.logger.Error("upload failed", "bucket", bucket, "path", path, "error", err)
		}
		return models.Result{Data: respData}, err
	}

	// Blob first, then the queue entry referencing it. The blob must
	// outlive the queue entry until replay succeeds.
	fileID := blobs.NewFileID()
	if err := e.blobs.Put(fileID, data); err != nil {
		return models.Result{}, err
	}
	item, err := e.queue.Enqueue(outbox.UploadOp{Bucket: bucket, Path: path, FileID: fileID, Options: opts})
	if err != nil {
		return models.Result{}, err
	}
	e.logger.Info("upload queued", "bucket", bucket, "path", path, "file_id", fileID, "id", item.ID)
	return models.Result{OfflineQueued: true}, nil
}
