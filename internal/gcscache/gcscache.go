// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package gcscache provides an httpcache.Cache implementation that stores
// cached values on Google Cloud Storage.
package gcscache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
)

// objectHandle is the subset of *storage.ObjectHandle used by Cache.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

// bucketHandle is the subset of *storage.BucketHandle used by Cache.
type bucketHandle interface {
	Object(name string) objectHandle
}

type gcsBucket struct{ *storage.BucketHandle }

func (b gcsBucket) Object(name string) objectHandle {
	return gcsObject{b.BucketHandle.Object(name)}
}

type gcsObject struct{ *storage.ObjectHandle }

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.ObjectHandle.NewReader(ctx)
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	return o.ObjectHandle.NewWriter(ctx)
}

// Cache stores values as objects in a GCS bucket.
type Cache struct {
	bucket bucketHandle
	prefix string
}

// Get returns the object stored for key.  Missing and empty objects are
// reported as cache misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	ctx := context.Background()
	r, err := c.object(key).NewReader(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			log.Warn().Err(err).Msg("error reading from gcs")
		}
		return nil, false
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		log.Warn().Err(err).Msg("error reading from gcs")
		return nil, false
	}
	if len(value) == 0 {
		return nil, false
	}

	return value, true
}

func (c *Cache) Set(key string, value []byte) {
	w := c.object(key).NewWriter(context.Background())
	if _, err := w.Write(value); err != nil {
		log.Warn().Err(err).Msg("error writing to gcs")
	}
	if err := w.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing gcs object writer")
	}
}

func (c *Cache) Delete(key string) {
	if err := c.object(key).Delete(context.Background()); err != nil {
		log.Warn().Err(err).Msg("error deleting gcs object")
	}
}

func (c *Cache) object(key string) objectHandle {
	name := path.Join(c.prefix, keyToFilename(key))
	return c.bucket.Object(name)
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a Cache storing files in the specified GCS bucket.  If prefix
// is not empty, objects will be prefixed with that path. Credentials should
// be specified using one of the mechanisms supported for Application Default
// Credentials (see https://cloud.google.com/docs/authentication/production)
func New(bucket, prefix string) (*Cache, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, err
	}
	return NewWithBucket(gcsBucket{client.Bucket(bucket)}, prefix), nil
}

// NewWithBucket constructs a Cache storing objects in bucket.
func NewWithBucket(bucket bucketHandle, prefix string) *Cache {
	return &Cache{
		bucket: bucket,
		prefix: prefix,
	}
}
