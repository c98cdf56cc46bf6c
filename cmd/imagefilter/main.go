// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// imagefilter starts an HTTP server that filters remote images for
// authenticated callers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/PaulARoy/azurestoragecache"
	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	aia "github.com/fcjr/aia-transport-go"
	"github.com/gomodule/redigo/redis"
	"github.com/gregjones/httpcache/diskcache"
	rediscache "github.com/gregjones/httpcache/redis"
	"github.com/imagefilter/imagefilter"
	"github.com/imagefilter/imagefilter/internal/gcscache"
	"github.com/imagefilter/imagefilter/internal/s3cache"
	"github.com/imagefilter/imagefilter/internal/ttldiskcache"
	"github.com/peterbourgon/diskv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultMemorySize = 100

type config struct {
	Addr           string
	JWTSecret      []byte
	Cache          string
	TempDir        string
	Timeout        time.Duration
	MaxSourceBytes int64
	Options        imagefilter.Options
	ContentTypes   []string
	UserAgent      string
	LogLevel       zerolog.Level
}

// loadConfig reads configuration from args, then from IMAGEFILTER_*
// environment variables, then from an optional config file.  PORT and
// JWT_SECRET are also honored.
func loadConfig(args []string) (*config, error) {
	fs := pflag.NewFlagSet("imagefilter", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (json, toml or yaml)")
	fs.String("addr", "", "TCP address to listen on; overrides port")
	fs.Int("port", 8082, "TCP port to listen on")
	fs.String("jwt-secret", "", "secret used to verify bearer tokens, or file containing it prefixed with '@'")
	fs.String("cache", "", "location to cache source images (memory[:size[:age]], directory, file:///dir?ttl=, redis://, s3://, gcs://, azure://)")
	fs.String("temp-dir", "", "directory for temporary filtered images (default os temp dir)")
	fs.Duration("timeout", 30*time.Second, "time limit for fetching a remote image")
	fs.Int64("max-source-bytes", 20<<20, "largest remote image that will be fetched")
	fs.Int("width", imagefilter.DefaultOptions.Width, "width of filtered images, 0 to preserve aspect ratio")
	fs.Int("height", imagefilter.DefaultOptions.Height, "height of filtered images, 0 to preserve aspect ratio")
	fs.Int("quality", imagefilter.DefaultOptions.Quality, "JPEG quality of filtered images")
	fs.Bool("grayscale", imagefilter.DefaultOptions.Grayscale, "convert filtered images to grayscale")
	fs.Bool("smart-crop", false, "crop around the most interesting region instead of stretching")
	fs.String("content-types", "image/*", "comma separated list of allowed remote content types")
	fs.String("user-agent", "imagefilter", "user-agent used when fetching remote images")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("IMAGEFILTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	if err := v.BindEnv("port", "IMAGEFILTER_PORT", "PORT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("jwt-secret", "IMAGEFILTER_JWT_SECRET", "JWT_SECRET"); err != nil {
		return nil, err
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	secret, err := parseSecret(v.GetString("jwt-secret"))
	if err != nil {
		return nil, fmt.Errorf("error reading jwt secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, errors.New("a jwt secret is required (--jwt-secret or JWT_SECRET)")
	}

	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}

	addr := v.GetString("addr")
	if addr == "" {
		addr = ":" + strconv.Itoa(v.GetInt("port"))
	}

	var contentTypes []string
	if s := v.GetString("content-types"); s != "" {
		contentTypes = strings.Split(s, ",")
	}

	return &config{
		Addr:           addr,
		JWTSecret:      secret,
		Cache:          v.GetString("cache"),
		TempDir:        v.GetString("temp-dir"),
		Timeout:        v.GetDuration("timeout"),
		MaxSourceBytes: v.GetInt64("max-source-bytes"),
		Options: imagefilter.Options{
			Width:     v.GetInt("width"),
			Height:    v.GetInt("height"),
			Quality:   v.GetInt("quality"),
			Grayscale: v.GetBool("grayscale"),
			SmartCrop: v.GetBool("smart-crop"),
		},
		ContentTypes: contentTypes,
		UserAgent:    v.GetString("user-agent"),
		LogLevel:     level,
	}, nil
}

// parseSecret returns s, or the contents of the file named by s if it is
// prefixed with '@'.
func parseSecret(s string) ([]byte, error) {
	if strings.HasPrefix(s, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, err
		}
		return []byte(strings.TrimSpace(string(b))), nil
	}
	return []byte(s), nil
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	var cache tieredCache
	if err := cache.Set(cfg.Cache); err != nil {
		log.Fatal().Err(err).Str("cache", cfg.Cache).Msg("invalid cache configuration")
	}

	var transport http.RoundTripper
	if tr, err := aia.NewTransport(); err != nil {
		log.Warn().Err(err).Msg("AIA transport unavailable, using default transport")
	} else {
		transport = tr
	}

	filter := imagefilter.NewURLFilter(transport, cache.Cache)
	filter.Client.Timeout = cfg.Timeout
	filter.Options = cfg.Options
	filter.TempDir = cfg.TempDir
	filter.ContentTypes = cfg.ContentTypes
	filter.MaxSourceBytes = cfg.MaxSourceBytes
	filter.UserAgent = cfg.UserAgent

	gate := &imagefilter.Gate{Verifier: imagefilter.NewJWTVerifier(cfg.JWTSecret)}
	s := imagefilter.NewServer(filter, gate)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Router(),

		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, run := range cache.background {
		go run(ctx)
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("filter", cfg.Options.String()).Msg("imagefilter listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}

// tieredCache allows specifying multiple caches, which will create tiered
// caches using the twotier package.  Caches that need periodic maintenance
// add a function to background.
type tieredCache struct {
	imagefilter.Cache
	background []func(ctx context.Context)
}

func (tc *tieredCache) String() string {
	return fmt.Sprint(tc.Cache)
}

func (tc *tieredCache) Set(value string) error {
	for _, v := range strings.Fields(value) {
		c, err := parseCache(v)
		if err != nil {
			return err
		}
		if c == nil {
			continue
		}

		if ttl, ok := c.(*ttldiskcache.Cache); ok {
			tc.background = append(tc.background, func(ctx context.Context) {
				ttl.SweepEvery(ctx, ttl.TTL())
			})
		}

		if tc.Cache == nil {
			tc.Cache = c
		} else {
			tc.Cache = twotier.New(tc.Cache, c)
		}
	}
	return nil
}

// parseCache parses c returns the specified Cache implementation.
func parseCache(c string) (imagefilter.Cache, error) {
	if c == "" {
		return nil, nil
	}

	if c == "memory" {
		c = fmt.Sprintf("memory:%d", defaultMemorySize)
	}

	u, err := url.Parse(c)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache flag: %w", err)
	}

	switch u.Scheme {
	case "azure":
		return azurestoragecache.New("", "", u.Host)
	case "gcs":
		return gcscache.New(u.Host, strings.TrimPrefix(u.Path, "/"))
	case "memory":
		return lruCache(u.Opaque)
	case "redis":
		conn, err := redis.DialURL(u.String(), redis.DialPassword(os.Getenv("REDIS_PASSWORD")))
		if err != nil {
			return nil, err
		}
		return rediscache.NewWithClient(conn), nil
	case "s3":
		return s3cache.New(u.String())
	case "file":
		if ttl := u.Query().Get("ttl"); ttl != "" {
			d, err := time.ParseDuration(ttl)
			if err != nil {
				return nil, fmt.Errorf("error parsing cache ttl: %w", err)
			}
			return ttldiskcache.New(u.Path, d), nil
		}
		return diskCache(u.Path), nil
	default:
		return diskCache(c), nil
	}
}

// lruCache creates an LRU Cache with the specified options of the form
// "maxSize:maxAge".  maxSize is specified in megabytes, maxAge is a duration.
func lruCache(options string) (*lrucache.LruCache, error) {
	parts := strings.SplitN(options, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}

	var age time.Duration
	if len(parts) > 1 {
		age, err = time.ParseDuration(parts[1])
		if err != nil {
			return nil, err
		}
	}

	return lrucache.New(size*1e6, int64(age.Seconds())), nil
}

func diskCache(path string) *diskcache.Cache {
	d := diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return diskcache.NewWithDiskv(d)
}
