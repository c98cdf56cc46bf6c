// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package ttldiskcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(t.TempDir(), ttl)
	c.now = clk.now
	return c, clk
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("key", []byte("data"))
	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "data", string(got))

	c.Set("key", []byte("replaced"))
	got, ok = c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "replaced", string(got))
}

func TestCache_Expiration(t *testing.T) {
	c, clk := newTestCache(t, time.Minute)

	c.Set("key", []byte("data"))
	clk.advance(59 * time.Second)
	_, ok := c.Get("key")
	assert.True(t, ok, "entry expired early")

	clk.advance(2 * time.Second)
	_, ok = c.Get("key")
	assert.False(t, ok, "entry should have expired")
	assert.False(t, c.d.Has(keyToFilename("key")), "expired entry should be erased on read")
}

func TestCache_NoTTL(t *testing.T) {
	c, clk := newTestCache(t, 0)

	c.Set("key", []byte("data"))
	clk.advance(24 * 365 * time.Hour)
	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "data", string(got))
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set("key", []byte("data"))
	c.Delete("key")
	_, ok := c.Get("key")
	assert.False(t, ok)

	// deleting a missing key is a noop
	c.Delete("key")
}

func TestCache_Layout(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	c.Set("key", []byte("data"))

	name := keyToFilename("key")
	assert.FileExists(t, filepath.Join(c.d.BasePath, name[0:2], name[2:4], name))
}

func TestCache_Sweep(t *testing.T) {
	c, clk := newTestCache(t, time.Minute)

	c.Set("old", []byte("data"))
	clk.advance(30 * time.Second)
	c.Set("new", []byte("data"))
	clk.advance(45 * time.Second)

	// an entry that cannot be decoded is also removed
	require.NoError(t, c.d.Write(keyToFilename("corrupt"), []byte("not gob")))

	assert.Equal(t, 2, c.Sweep())
	_, ok := c.Get("new")
	assert.True(t, ok)
	assert.False(t, c.d.Has(keyToFilename("old")))
	assert.False(t, c.d.Has(keyToFilename("corrupt")))

	assert.Equal(t, 0, c.Sweep())
}

func TestCache_SweepEmptyDir(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing"), time.Minute)
	assert.Equal(t, 0, c.Sweep())
	_, err := os.Stat(c.d.BasePath)
	assert.True(t, os.IsNotExist(err))
}

func TestCache_SweepEvery(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan struct{})
	go func() {
		c.SweepEvery(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SweepEvery did not return after context was canceled")
	}

	// non-positive intervals return immediately
	c.SweepEvery(testContext(t), 0)
}
