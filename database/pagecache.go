// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const pageCacheKeyPrefix = "page:"

// PageCache is a badger-backed cache for raw upstream provider responses.
// Slowly-changing catalog queries (e.g. the instrument list) are cached with
// a TTL so repeated runs within the same day don't hammer the rate-limited
// provider.
type PageCache struct {
	blob *badger.DB
}

// PageCache returns the page cache backed by the database's blob store
func (d *Database) PageCache() *PageCache {
	return &PageCache{blob: d.blob}
}

// Get returns the cached value for the given key, or found=false when the key
// is absent or expired
func (c *PageCache) Get(key string) (value []byte, found bool, err error) {
	err = c.blob.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pageCacheKeyPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set stores the given value under the given key with a TTL. A zero TTL
// stores the value without expiry.
func (c *PageCache) Set(key string, value []byte, ttl time.Duration) error {
	return c.blob.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(pageCacheKeyPrefix+key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}
