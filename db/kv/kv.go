package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

/*
	Durable client-side storage for the offline layer. One badger instance
	holds every named store (read cache, write queue, upload blobs, conflict
	records) under distinct key prefixes. Prefix iteration is ascending in
	key order, which is what gives the write queue its FIFO replay order
	across process restarts.
*/

type Config struct {
	Logger         *slog.Logger
	Directory      string
	BadgerLogLevel slog.Level
}

type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error

	// IteratePrefix visits key/value pairs under prefix in ascending key
	// order. Returning an error from visit stops the iteration and is
	// passed through.
	IteratePrefix(prefix string, visit func(key string, value []byte) error) error

	// CountPrefix returns the number of keys under prefix.
	CountPrefix(prefix string) (int, error)

	// NextSequence returns the next value of a persistent monotonic
	// sequence. Values survive restarts and never repeat.
	NextSequence(name string) (uint64, error)

	Close() error
}

type store struct {
	logger *slog.Logger
	db     *badger.DB

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

var _ Store = &store{}

func New(config Config) (Store, error) {
	dir := filepath.Join(config.Directory, "offline")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	badgerLogLevel := badger.INFO
	switch config.BadgerLogLevel {
	case slog.LevelDebug:
		badgerLogLevel = badger.DEBUG
	case slog.LevelInfo:
		badgerLogLevel = badger.INFO
	case slog.LevelWarn:
		badgerLogLevel = badger.WARNING
	case slog.LevelError:
		badgerLogLevel = badger.ERROR
	}

	dbOpts := badger.DefaultOptions(dir).
		WithLogger(newLogger(config.Logger.WithGroup("store"))).
		WithLoggingLevel(badgerLogLevel).
		WithMemTableSize(16 << 20) // 16MB MemTableSize

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	return &store{
		logger: config.Logger.WithGroup("kv"),
		db:     db,
		seqs:   make(map[string]*badger.Sequence),
	}, nil
}

func (s *store) Close() error {
	var firstErr error

	s.seqMu.Lock()
	for name, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.logger.Error("error releasing sequence", "name", name, "error", err)
			if firstErr == nil {
				firstErr = &ErrInternal{Err: err}
			}
		}
	}
	s.seqs = make(map[string]*badger.Sequence)
	s.seqMu.Unlock()

	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing store db", "error", err)
		if firstErr == nil {
			firstErr = &ErrInternal{Err: err}
		}
	}

	return firstErr
}

func (s *store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrKeyNotFound{Key: key}
			}
			return &ErrInternal{Err: err}
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *store) Set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), value); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *store) IteratePrefix(prefix string, visit func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			if err := visit(string(item.Key()), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *store) CountPrefix(prefix string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *store) NextSequence(name string) (uint64, error) {
	s.seqMu.Lock()
	seq, ok := s.seqs[name]
	if !ok {
		var err error
		// Bandwidth of 1 so release on close leaves no gaps.
		seq, err = s.db.GetSequence([]byte(fmt.Sprintf("_seq:%s", name)), 1)
		if err != nil {
			s.seqMu.Unlock()
			return 0, &ErrInternal{Err: err}
		}
		s.seqs[name] = seq
	}
	s.seqMu.Unlock()

	next, err := seq.Next()
	if err != nil {
		return 0, &ErrInternal{Err: err}
	}
	// Sequences hand out values starting at zero; shift so ids start at 1
	// and zero stays free as a "never assigned" marker.
	return next + 1, nil
}
