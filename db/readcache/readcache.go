// Package readcache is the local cache of last-known-good query results.
// The durable badger layer is authoritative and has no expiry; the ttlcache
// front only short-circuits repeat reads within a session.
package readcache

import (
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/hredostate/yebo-sub011/db/kv"
)

const keyPrefix = "cache:"

var DefaultFrontTTL = 1 * time.Minute

type Cache struct {
	logger *slog.Logger
	store  kv.Store
	front  *ttlcache.Cache[string, []byte]
}

func New(logger *slog.Logger, store kv.Store, frontTTL time.Duration) *Cache {
	if frontTTL == 0 {
		frontTTL = DefaultFrontTTL
	}

	front := ttlcache.New[string, []byte](
		ttlcache.WithTTL[string, []byte](frontTTL),

		// The durable layer is the source of truth; the front must age out
		// on schedule rather than staying warm under repeated hits.
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go front.Start()

	return &Cache{
		logger: logger.WithGroup("readcache"),
		store:  store,
		front:  front,
	}
}

// Get returns the last stored value for key, or *kv.ErrKeyNotFound if the
// key was never cached.
func (c *Cache) Get(key string) ([]byte, error) {
	if item := c.front.Get(key); item != nil && !item.IsExpired() {
		c.logger.Debug("front hit", "key", key)
		return item.Value(), nil
	}

	value, err := c.store.Get(keyPrefix + key)
	if err != nil {
		return nil, err
	}
	c.front.Set(key, value, ttlcache.DefaultTTL)
	return value, nil
}

// Set overwrites the stored value for key. Most recent write wins; there is
// no expiry on the durable layer.
func (c *Cache) Set(key string, value []byte) error {
	if err := c.store.Set(keyPrefix+key, value); err != nil {
		return err
	}
	c.front.Set(key, value, ttlcache.DefaultTTL)
	return nil
}

func (c *Cache) Close() {
	c.front.Stop()
}
