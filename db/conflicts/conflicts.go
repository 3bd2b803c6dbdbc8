// Package conflicts persists detected write-write conflicts for manual
// review. Records are mutated only by the resolve action and are never
// deleted; the store doubles as an audit trail.
package conflicts

import (
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hredostate/yebo-sub011/db/kv"
	"github.com/hredostate/yebo-sub011/models"
)

const keyPrefix = "conflict:"

type Store struct {
	logger *slog.Logger
	store  kv.Store
}

func New(logger *slog.Logger, store kv.Store) *Store {
	return &Store{
		logger: logger.WithGroup("conflicts"),
		store:  store,
	}
}

// Put writes a conflict record, overwriting any prior entry for the same
// key. At most one open conflict exists per {table, row}.
func (s *Store) Put(c models.Conflict) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode conflict")
	}
	return s.store.Set(keyPrefix+c.Key, data)
}

// Get returns the conflict stored under key, or *kv.ErrKeyNotFound.
func (s *Store) Get(key string) (models.Conflict, error) {
	data, err := s.store.Get(keyPrefix + key)
	if err != nil {
		return models.Conflict{}, err
	}
	var c models.Conflict
	if err := json.Unmarshal(data, &c); err != nil {
		return models.Conflict{}, &kv.ErrDataCorruption{Key: key, Reason: err.Error()}
	}
	return c, nil
}

// Unresolved returns every conflict still awaiting a decision.
func (s *Store) Unresolved() ([]models.Conflict, error) {
	var out []models.Conflict
	err := s.store.IteratePrefix(keyPrefix, func(key string, value []byte) error {
		var c models.Conflict
		if err := json.Unmarshal(value, &c); err != nil {
			s.logger.Warn("skipping undecodable conflict record", "key", key, "error", err)
			return nil
		}
		if !c.Resolved {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkResolved flips the resolved flag. No-op if the key does not exist;
// re-resolving an already resolved conflict is also a no-op.
func (s *Store) MarkResolved(key string) error {
	c, err := s.Get(key)
	if err != nil {
		var nfErr *kv.ErrKeyNotFound
		if errors.As(err, &nfErr) {
			s.logger.Debug("resolve on missing conflict key", "key", key)
			return nil
		}
		return err
	}
	if c.Resolved {
		return nil
	}
	c.Resolved = true
	s.logger.Info("conflict resolved", "key", key, "table", c.Table)
	return s.Put(c)
}

// Count returns the number of unresolved conflicts.
func (s *Store) Count() (int, error) {
	list, err := s.Unresolved()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
