// Package outbox is the durable write queue of the offline layer: an
// ordered, persistent list of writes that have not been confirmed by the
// backend. Entries are replayed strictly in enqueue order; a transient
// replay failure halts the drain so later writes to the same rows cannot
// jump the line.
package outbox

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hredostate/yebo-sub011/db/kv"
)

const (
	keyPrefix = "outbox:"
	seqName   = "outbox"
)

// ApplyFunc processes one queued item during drain. Returning true removes
// the item (applied, or intentionally discarded); returning false stops the
// drain with the item left in place for the next pass.
type ApplyFunc func(item Item) bool

type Queue struct {
	logger *slog.Logger
	store  kv.Store
}

func New(logger *slog.Logger, store kv.Store) *Queue {
	return &Queue{
		logger: logger.WithGroup("outbox"),
		store:  store,
	}
}

func itemKey(id uint64) string {
	// Zero-padded so lexicographic key order is numeric id order.
	return fmt.Sprintf("%s%020d", keyPrefix, id)
}

// Enqueue assigns the next id and appends the operation durably.
func (q *Queue) Enqueue(op Op) (Item, error) {
	id, err := q.store.NextSequence(seqName)
	if err != nil {
		return Item{}, errors.Wrap(err, "failed to assign queue id")
	}

	item := Item{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Op:        op,
	}

	data, err := encodeItem(item)
	if err != nil {
		return Item{}, errors.Wrap(err, "failed to encode queue entry")
	}
	if err := q.store.Set(itemKey(id), data); err != nil {
		return Item{}, errors.Wrap(err, "failed to append queue entry")
	}

	q.logger.Debug("enqueued", "id", item.ID, "kind", item.Op.Kind())
	return item, nil
}

// Drain replays queued entries in FIFO order. Entries that fail to decode
// are removed without calling apply: they are corrupted or written by an
// unknown build, and must not block the queue. apply's contract is
// documented on ApplyFunc. Drain returns an error only for store I/O
// failures; per-item outcomes never surface as errors.
func (q *Queue) Drain(apply ApplyFunc) error {
	type entry struct {
		key    string
		item   Item
		decErr error
	}

	var entries []entry
	err := q.store.IteratePrefix(keyPrefix, func(key string, value []byte) error {
		item, decErr := decodeItem(value)
		entries = append(entries, entry{key: key, item: item, decErr: decErr})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to scan queue")
	}

	for _, e := range entries {
		if e.decErr != nil {
			var unknown *ErrUnknownKind
			if errors.As(e.decErr, &unknown) {
				q.logger.Warn("discarding queue entry with unknown kind", "id", unknown.ID, "kind", unknown.Kind)
			} else {
				q.logger.Warn("discarding undecodable queue entry", "key", e.key, "error", e.decErr)
			}
			if err := q.store.Delete(e.key); err != nil {
				return errors.Wrap(err, "failed to remove queue entry")
			}
			continue
		}

		if !apply(e.item) {
			q.logger.Debug("drain halted", "id", e.item.ID, "kind", e.item.Op.Kind())
			return nil
		}

		if err := q.store.Delete(e.key); err != nil {
			return errors.Wrap(err, "failed to remove queue entry")
		}
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() (int, error) {
	return q.store.CountPrefix(keyPrefix)
}

// Items returns every queued entry in FIFO order. Entries that fail to
// decode are skipped; they will be discarded by the next drain.
func (q *Queue) Items() ([]Item, error) {
	var items []Item
	err := q.store.IteratePrefix(keyPrefix, func(key string, value []byte) error {
		item, decErr := decodeItem(value)
		if decErr != nil {
			q.logger.Warn("skipping undecodable queue entry", "key", key, "error", decErr)
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
