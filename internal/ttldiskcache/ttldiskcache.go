// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package ttldiskcache provides a disk backed httpcache.Cache whose entries
// expire after a fixed duration.
package ttldiskcache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"io"
	"time"

	"github.com/peterbourgon/diskv"
	"github.com/rs/zerolog/log"
)

// entry is the value stored on disk for every key.
type entry struct {
	Data    []byte
	Expires time.Time
}

// Cache stores values on disk for at most ttl.
type Cache struct {
	d   *diskv.Diskv
	ttl time.Duration
	now func() time.Time
}

// New returns a Cache storing files under basePath.  Entries expire ttl after
// they are set; a zero ttl means entries never expire.
func New(basePath string, ttl time.Duration) *Cache {
	d := diskv.New(diskv.Options{
		BasePath: basePath,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return &Cache{d: d, ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of cache entries.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the value stored for key if it exists and has not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	name := keyToFilename(key)
	e, ok := c.read(name)
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.erase(name)
		return nil, false
	}
	return e.Data, true
}

// Set stores data for key.
func (c *Cache) Set(key string, data []byte) {
	e := entry{Data: data}
	if c.ttl > 0 {
		e.Expires = c.now().Add(c.ttl)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		log.Error().Err(err).Msg("error encoding cache entry")
		return
	}
	if err := c.d.WriteStream(keyToFilename(key), &buf, true); err != nil {
		log.Error().Err(err).Msg("error writing cache entry")
	}
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.erase(keyToFilename(key))
}

// Sweep removes every expired or unreadable entry and returns the number of
// entries removed.
func (c *Cache) Sweep() int {
	var stale []string
	for name := range c.d.Keys(nil) {
		if e, ok := c.read(name); !ok || c.expired(e) {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		c.erase(name)
	}
	if len(stale) > 0 {
		log.Debug().Int("removed", len(stale)).Str("dir", c.d.BasePath).Msg("swept expired cache entries")
	}
	return len(stale)
}

// SweepEvery calls Sweep at every interval until ctx is done.  It returns
// immediately if interval is not positive.
func (c *Cache) SweepEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache) read(name string) (entry, bool) {
	var e entry
	b, err := c.d.Read(name)
	if err != nil {
		return e, false
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		log.Warn().Err(err).Str("key", name).Msg("error decoding cache entry")
		return e, false
	}
	return e, true
}

func (c *Cache) expired(e entry) bool {
	return !e.Expires.IsZero() && c.now().After(e.Expires)
}

func (c *Cache) erase(name string) {
	if !c.d.Has(name) {
		return
	}
	if err := c.d.Erase(name); err != nil {
		log.Warn().Err(err).Str("key", name).Msg("error deleting cache entry")
	}
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}
