// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/imagefilter/imagefilter"
	"github.com/imagefilter/imagefilter/internal/s3cache"
	"github.com/imagefilter/imagefilter/internal/ttldiskcache"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every environment variable loadConfig reads by name.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "JWT_SECRET", "IMAGEFILTER_PORT", "IMAGEFILTER_JWT_SECRET", "IMAGEFILTER_QUALITY", "IMAGEFILTER_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig([]string{"--jwt-secret=s3cret"})
	require.NoError(t, err)

	assert.Equal(t, ":8082", cfg.Addr)
	assert.Equal(t, []byte("s3cret"), cfg.JWTSecret)
	assert.Equal(t, imagefilter.DefaultOptions, cfg.Options)
	assert.Equal(t, []string{"image/*"}, cfg.ContentTypes)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.EqualValues(t, 20<<20, cfg.MaxSourceBytes)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.Cache)
}

func TestLoadConfig_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("IMAGEFILTER_QUALITY", "85")

	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, []byte("from-env"), cfg.JWTSecret)
	assert.Equal(t, 85, cfg.Options.Quality)

	// flags take precedence over the environment
	cfg, err = loadConfig([]string{"--port=9001", "--jwt-secret=from-flag"})
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.Addr)
	assert.Equal(t, []byte("from-flag"), cfg.JWTSecret)
}

func TestLoadConfig_Addr(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig([]string{"--jwt-secret=s", "--port=9001", "--addr=localhost:7000"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:7000", cfg.Addr)
}

func TestLoadConfig_SecretFile(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(file, []byte("file-secret\n"), 0o600))

	cfg, err := loadConfig([]string{"--jwt-secret=@" + file})
	require.NoError(t, err)
	assert.Equal(t, []byte("file-secret"), cfg.JWTSecret)

	_, err = loadConfig([]string{"--jwt-secret=@" + file + ".missing"})
	assert.Error(t, err)
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), "imagefilter.yaml")
	require.NoError(t, os.WriteFile(file, []byte("jwt-secret: from-file\nquality: 90\nsmart-crop: true\ncontent-types: image/png,image/jpeg\n"), 0o600))

	cfg, err := loadConfig([]string{"--config=" + file, "--width=128"})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-file"), cfg.JWTSecret)
	assert.Equal(t, imagefilter.Options{Width: 128, Height: 256, Quality: 90, Grayscale: true, SmartCrop: true}, cfg.Options)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.ContentTypes)

	_, err = loadConfig([]string{"--config=" + file + ".missing"})
	assert.Error(t, err)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)

	_, err := loadConfig(nil)
	assert.ErrorContains(t, err, "jwt secret is required")

	_, err = loadConfig([]string{"--jwt-secret=s", "--log-level=loud"})
	assert.Error(t, err)

	_, err = loadConfig([]string{"--no-such-flag"})
	assert.Error(t, err)

	_, err = loadConfig([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestParseCache(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		value   string
		want    any // expected concrete type, nil for no cache
		wantErr bool
	}{
		{"", nil, false},
		{"memory", &lrucache.LruCache{}, false},
		{"memory:50:1h", &lrucache.LruCache{}, false},
		{"memory:fifty", nil, true},
		{"memory:50:forever", nil, true},
		{dir, &diskcache.Cache{}, false},
		{"file://" + dir, &diskcache.Cache{}, false},
		{"file://" + dir + "?ttl=1h", &ttldiskcache.Cache{}, false},
		{"file://" + dir + "?ttl=soon", nil, true},
		{"s3://us-west-2/bucket/prefix?ttl=1h", &s3cache.Cache{}, false},
		{"s3://us-west-2/", nil, true},
		{"%", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			c, err := parseCache(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, c)
				return
			}
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestTieredCache(t *testing.T) {
	var tc tieredCache
	require.NoError(t, tc.Set("memory file://"+t.TempDir()+"?ttl=1h"))

	assert.IsType(t, &twotier.TwoTier{}, tc.Cache)
	assert.Len(t, tc.background, 1, "ttl disk cache should be swept in the background")

	tc.Cache.Set("key", []byte("value"))
	got, ok := tc.Cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", string(got))

	var empty tieredCache
	require.NoError(t, empty.Set(""))
	assert.Nil(t, empty.Cache)

	assert.Error(t, empty.Set("memory:bad"))
}

func TestLruCache(t *testing.T) {
	c, err := lruCache("10:1m")
	require.NoError(t, err)
	c.Set("key", []byte("value"))
	_, ok := c.Get("key")
	assert.True(t, ok)
}
