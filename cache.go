// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

// The Cache interface defines a cache for remote source images, keyed by
// URL.  The interface is designed to align with httpcache.Cache, so any of
// its implementations can be used to avoid refetching images that are
// filtered repeatedly.
type Cache interface {
	// Get retrieves the cached data for the provided key.
	Get(key string) (data []byte, ok bool)

	// Set caches the provided data.
	Set(key string, data []byte)

	// Delete deletes the cached data at the specified key.
	Delete(key string)
}

// NopCache provides a no-op cache implementation that doesn't actually cache anything.
var NopCache = new(nopCache)

type nopCache struct{}

func (c nopCache) Get(string) ([]byte, bool) { return nil, false }
func (c nopCache) Set(string, []byte)        {}
func (c nopCache) Delete(string)             {}
