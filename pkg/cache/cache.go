// Package cache provides a disk-backed, expiring cache for platform API
// responses, used to back HTTP conditional requests (spec.md §4.2).
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"
)

var bucketEntries = []byte("entries")

// Class is the cache's expiry class: short-lived (error responses) or
// long-lived (successful responses, whose expiry resets on every read).
type Class byte

const (
	// Short entries expire after ~60s and are used for 4xx responses.
	Short Class = 's'
	// Long entries expire after ~48h, reset on read, used for <400 responses.
	Long Class = 'l'
)

const (
	shortTTL = 60 * time.Second
	longTTL  = 48 * time.Hour
)

// Entry is one cached API response.
type Entry struct {
	Payload []byte    `json:"payload"`
	Date    time.Time `json:"date"` // feeds If-Modified-Since on the next request
	Status  int       `json:"status"`
	Class   Class     `json:"class"`
	expires time.Time
}

type record struct {
	Payload []byte    `json:"payload"`
	Date    time.Time `json:"date"`
	Status  int       `json:"status"`
	Class   Class     `json:"class"`
	Expires time.Time `json:"expires"`
}

// Cache is a key/value cache of API responses keyed by API path, hashed
// to a fixed-length key before use so arbitrary paths never leak into the
// backing store's key space. On-disk, the per-key layout named by
// spec.md §6 is one file per entry, named "<blake2b-hash><s|l>" — this
// implementation keeps that name as a key inside a single bbolt bucket
// rather than one file per key; see DESIGN.md for why.
type Cache struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache buckets: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// key hashes an API path with blake2b and appends the class suffix, per
// spec.md §6's naming contract.
func key(path string, class Class) []byte {
	sum := blake2b.Sum256([]byte(path))
	k := make([]byte, 0, len(sum)*2+1)
	k = append(k, []byte(fmt.Sprintf("%x", sum))...)
	k = append(k, byte(class))
	return k
}

// Get returns the cached entry for path, or nil if absent or expired. A
// Long entry's expiry is reset on every successful read (spec.md §4.2:
// "the long class resets its expiry on read").
func (c *Cache) Get(path string) (*Entry, error) {
	for _, class := range []Class{Long, Short} {
		k := key(path, class)
		var rec record
		var found bool
		err := c.db.View(func(tx *bolt.Tx) error {
			data := tx.Bucket(bucketEntries).Get(k)
			if data == nil {
				return nil
			}
			found = true
			return json.Unmarshal(data, &rec)
		})
		if err != nil {
			return nil, fmt.Errorf("read cache entry for %q: %w", path, err)
		}
		if !found {
			continue
		}
		if time.Now().After(rec.Expires) {
			continue
		}
		if class == Long {
			rec.Expires = time.Now().Add(longTTL)
			if err := c.put(k, rec); err != nil {
				return nil, err
			}
		}
		return &Entry{Payload: rec.Payload, Date: rec.Date, Status: rec.Status, Class: rec.Class}, nil
	}
	return nil, nil
}

// Put stores a response. Status codes below 400 are cached Long; 4xx are
// cached Short, per spec.md §4.6.
func (c *Cache) Put(path string, payload []byte, date time.Time, status int) error {
	class := Long
	ttl := longTTL
	if status >= 400 {
		class = Short
		ttl = shortTTL
	}
	rec := record{Payload: payload, Date: date, Status: status, Class: class, Expires: time.Now().Add(ttl)}
	return c.put(key(path, class), rec)
}

func (c *Cache) put(k []byte, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put(k, data)
	})
}

// Sweep removes every expired entry. Called at task teardown (spec.md
// §4.2: "expired entries are removed lazily at task teardown").
func (c *Cache) Sweep() error {
	now := time.Now()
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if now.After(rec.Expires) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
