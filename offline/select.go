package offline

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hredostate/yebo-sub011/db/kv"
	"github.com/hredostate/yebo-sub011/models"
)

// FetchFunc produces fresh data for a cache key, usually a closure over
// Remote.Select.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// SelectCached serves reads cache-first. A cache hit returns immediately
// and, when online, schedules a paced background refetch so the cached copy
// converges without blocking the caller. A miss always runs the blocking
// fetch, even while offline: the cache cannot invent data it never saw, so
// the fetcher's outcome, success or failure, is the caller's outcome.
func (e *Engine) SelectCached(ctx context.Context, key string, fetch FetchFunc) (models.Result, error) {
	cached, err := e.cache.Get(key)
	if err == nil {
		if e.online.Load() && e.refresh.Allow() {
			go e.refreshCache(context.WithoutCancel(ctx), key, fetch)
		}
		return models.Result{Data: cached}, nil
	}

	var notFound *kv.ErrKeyNotFound
	if !errors.As(err, &notFound) {
		return models.Result{}, errors.Wrap(err, "cache read failed")
	}

	if !e.online.Load() {
		e.logger.Warn("cache miss while offline, attempting fetch", "key", key)
	}

	data, err := fetch(ctx)
	if err != nil {
		e.logger.Error("fetch failed", "key", key, "error", err)
		return models.Result{}, err
	}
	if err := e.cache.Set(key, data); err != nil {
		e.logger.Warn("failed to cache fetched data", "key", key, "error", err)
	}
	return models.Result{Data: data}, nil
}

func (e *Engine) refreshCache(ctx context.Context, key string, fetch FetchFunc) {
	data, err := fetch(ctx)
	if err != nil {
		e.logger.Debug("background refresh failed", "key", key, "error", err)
		return
	}
	if err := e.cache.Set(key, data); err != nil {
		e.logger.Warn("failed to store refreshed data", "key", key, "error", err)
	}
}
