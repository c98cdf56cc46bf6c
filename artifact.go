// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Artifact is a temporary filtered image owned by a single request.
type Artifact struct {
	path    string
	cleanup func(paths ...string)
	once    sync.Once
}

// NewArtifact takes ownership of the file at path.  cleanup is called with
// the path on the first call to Release; if nil, DeleteLocalFiles is used.
func NewArtifact(path string, cleanup func(paths ...string)) *Artifact {
	if cleanup == nil {
		cleanup = DeleteLocalFiles
	}
	return &Artifact{path: path, cleanup: cleanup}
}

// Path returns the local path of the artifact.
func (a *Artifact) Path() string { return a.path }

// Release deletes the artifact.  Only the first call has any effect.
func (a *Artifact) Release() {
	a.once.Do(func() {
		a.cleanup(a.path)
	})
}

// DeleteLocalFiles removes each of the named files.  It is best-effort:
// files that no longer exist are ignored and other failures are logged.
func DeleteLocalFiles(paths ...string) {
	for _, p := range paths {
		err := os.Remove(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			artifactCleanupErrors.Inc()
			log.Warn().Str("path", p).Err(err).Msg("could not clean up temp file")
			continue
		}
		log.Debug().Str("path", p).Msg("cleaned up temp file")
	}
}
