// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package cache is the on-disk cache for channel repodata: a byte store keyed
// by URL, with per-entry TTLs.  Conda's real CDN indexes run to hundreds of
// megabytes, so re-fetching them for every `check deps` is not acceptable.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

type Cache struct {
	db *badger.DB
}

// Open opens (creating if needed) a cache directory.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own chatter does not belong on our stderr
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache.Open: %q: %w", dir, err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached value for key, and whether there was one.  Expired and
// missing entries both report absent; corruption is not fatal either, since the
// cache can always be refilled.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case err == nil:
		return val, true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("cache.Get: %q: %w", key, err)
	}
}

// Put stores val under key; a zero ttl means no expiry.
func (c *Cache) Put(key string, val []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), val)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache.Put: %q: %w", key, err)
	}
	return nil
}
