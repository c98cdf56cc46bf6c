// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"errors"
	"fmt"
)

// Outcome classifies how a request finished.  It is used for logging and as
// a metrics label, and exactly one outcome is recorded per request.
type Outcome string

const (
	OutcomeSuccess              Outcome = "success"
	OutcomeUnauthorized         Outcome = "unauthorized"
	OutcomeAuthenticationFailed Outcome = "authentication_failed"
	OutcomeBadRequest           Outcome = "bad_request"
	OutcomeProcessingFailed     Outcome = "processing_failed"
	OutcomeTransportFailed      Outcome = "transport_failed"
)

var (
	// ErrMissingHeader is returned when a request carries no Authorization header.
	ErrMissingHeader = errors.New("no authorization headers")

	// ErrMalformedToken is returned when the Authorization header does not
	// consist of exactly a scheme and a token.
	ErrMalformedToken = errors.New("malformed token")

	// ErrAuthentication wraps any failure reported by a TokenVerifier.
	ErrAuthentication = errors.New("failed to authenticate")

	// ErrMissingImageURL is returned when the image_url query parameter is absent or empty.
	ErrMissingImageURL = errors.New("the image_url query parameter is required")

	// ErrNotImage is returned when the remote resource is not an allowed image type.
	ErrNotImage = errors.New("remote resource is not an allowed image type")

	// ErrImageTooLarge is returned when the remote image exceeds the
	// configured byte or pixel limits.
	ErrImageTooLarge = errors.New("image too large")

	// ErrArtifactStore hides local file system failures, which must never
	// reach a client with their paths attached.
	ErrArtifactStore = errors.New("unable to store filtered image")
)

// URLError reports a malformed or unsupported image URL.
type URLError struct {
	Message string
	URL     string
}

func (e URLError) Error() string {
	return fmt.Sprintf("malformed URL %q: %s", e.URL, e.Message)
}

// RemoteError reports a non-OK response from the server hosting an image.
type RemoteError struct {
	URL        string
	Status     string
	StatusCode int
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("remote URL %q returned status: %v", e.URL, e.Status)
}
