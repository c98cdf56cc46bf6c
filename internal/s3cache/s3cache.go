// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package s3cache provides an httpcache.Cache implementation that stores
// cached values on Amazon S3, optionally expiring them.
package s3cache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/rs/zerolog/log"
)

type cacheEntry struct {
	Data    []byte    `json:"data"`
	Expires time.Time `json:"expires,omitempty"`
}

// Cache stores values as objects in an S3 bucket.
type Cache struct {
	s3iface.S3API
	bucket, prefix string
	ttl            time.Duration
	now            func() time.Time
}

func (c *Cache) Get(key string) ([]byte, bool) {
	name := c.objectName(key)
	resp, err := c.GetObject(&s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &name,
	})
	if err != nil {
		var aerr awserr.Error
		if !errors.As(err, &aerr) || aerr.Code() != s3.ErrCodeNoSuchKey {
			log.Warn().Err(err).Str("bucket", c.bucket).Msg("error fetching from s3")
		}
		return nil, false
	}
	defer resp.Body.Close()

	var entry cacheEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		log.Warn().Err(err).Str("object", name).Msg("error decoding s3 cache entry")
		return nil, false
	}

	if !entry.Expires.IsZero() && c.now().After(entry.Expires) {
		c.Delete(key)
		return nil, false
	}

	return entry.Data, true
}

func (c *Cache) Set(key string, value []byte) {
	entry := cacheEntry{Data: value}
	if c.ttl > 0 {
		entry.Expires = c.now().Add(c.ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("error encoding s3 cache entry")
		return
	}

	name := c.objectName(key)
	_, err = c.PutObject(&s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(data)),
		Bucket: &c.bucket,
		Key:    &name,
	})
	if err != nil {
		log.Warn().Err(err).Str("bucket", c.bucket).Msg("error writing to s3")
	}
}

func (c *Cache) Delete(key string) {
	name := c.objectName(key)
	_, err := c.DeleteObject(&s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &name,
	})
	if err != nil {
		log.Warn().Err(err).Str("bucket", c.bucket).Msg("error deleting from s3")
	}
}

func (c *Cache) objectName(key string) string {
	return path.Join(c.prefix, keyToFilename(key))
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a cache configured using the provided URL string.  URL
// should be of the form: "s3://region/bucket/optional-path-prefix".  A ttl
// query parameter such as "?ttl=24h" sets how long entries live.
func New(s string) (*Cache, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	region := u.Host
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	bucket := parts[0]
	var prefix string
	if len(parts) > 1 {
		prefix = parts[1]
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 cache URL %q has no bucket", s)
	}

	var ttl time.Duration
	if v := u.Query().Get("ttl"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("error parsing s3 cache ttl: %w", err)
		}
	}

	config := aws.NewConfig().WithRegion(region)

	// allow overriding some additional config options, mostly useful when
	// working with s3-compatible services other than AWS.
	if v := u.Query().Get("endpoint"); v != "" {
		config = config.WithEndpoint(v)
	}
	if v := u.Query().Get("disableSSL"); v == "1" {
		config = config.WithDisableSSL(true)
	}
	if v := u.Query().Get("s3ForcePathStyle"); v == "1" {
		config = config.WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, err
	}

	return newWithClient(s3.New(sess), bucket, prefix, ttl), nil
}

func newWithClient(client s3iface.S3API, bucket, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		S3API:  client,
		bucket: bucket,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}
