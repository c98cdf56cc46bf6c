// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// Package imagefilter provides an authenticated HTTP server that fetches
// remote images, filters them, and returns the filtered bytes.  For typical
// use of creating and running a Server, see cmd/imagefilter/main.go.
package imagefilter // import "github.com/imagefilter/imagefilter"

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// usage is the body returned from the root route.
const usage = "try GET /filteredimage?image_url={{}}"

// Server serves filtered image requests.
type Server struct {
	Filter     Filter            // filter used to produce filtered images
	Authorizer RequestAuthorizer // authorizer run before every protected route

	// Cleanup deletes filtered images once they have been sent.  If nil,
	// DeleteLocalFiles is used.
	Cleanup func(paths ...string)
}

// NewServer constructs a new server.  Requests to protected routes are
// authorized with auth before filter is used to produce images.
func NewServer(filter Filter, auth RequestAuthorizer) *Server {
	return &Server{
		Filter:     filter,
		Authorizer: auth,
	}
}

// Router returns a handler serving all routes.  /metrics is served without
// authorization; every other route is behind the Authorizer.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(timeRequests)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(RequireAuth(s.Authorizer))
	protected.HandleFunc("/", s.serveRoot).Methods(http.MethodGet)
	protected.HandleFunc("/filteredimage", s.serveFilteredImage).Methods(http.MethodGet)
	protected.HandleFunc("/filteredimage/", s.serveFilteredImage).Methods(http.MethodGet)

	return r
}

// ServeHTTP implements http.Handler by delegating to Router.  Callers
// serving many requests should build the router once instead.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router().ServeHTTP(w, r)
}

func (s *Server) serveRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, usage)
}

// serveFilteredImage filters the image named by the image_url query
// parameter and sends it.  The filtered image is deleted on every path once
// it has been produced.
func (s *Server) serveFilteredImage(w http.ResponseWriter, r *http.Request) {
	imageURL := r.URL.Query().Get("image_url")
	if imageURL == "" {
		msg := fmt.Sprintf("error: %v", ErrMissingImageURL)
		log.Warn().Str("outcome", string(OutcomeBadRequest)).Msg(msg)
		recordOutcome(OutcomeBadRequest)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	path, err := s.Filter.Filter(r.Context(), imageURL)
	if err != nil {
		if isPathError(err) {
			log.Error().Err(err).Str("url", imageURL).Msg("filter returned a file system error")
			err = ErrArtifactStore
		}
		msg := fmt.Sprintf("error filtering image: %v", err)
		log.Warn().Str("url", imageURL).Str("outcome", string(OutcomeProcessingFailed)).Msg(msg)
		recordOutcome(OutcomeProcessingFailed)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	artifact := NewArtifact(path, s.Cleanup)
	defer artifact.Release()

	n, err := sendFile(w, artifact.Path())
	if err != nil {
		log.Error().Err(err).Str("url", imageURL).Int64("bytes", n).Str("outcome", string(OutcomeTransportFailed)).Msg("error sending filtered image")
		recordOutcome(OutcomeTransportFailed)
		return
	}

	log.Info().Str("url", imageURL).Int64("bytes", n).Str("outcome", string(OutcomeSuccess)).Msg("served filtered image")
	recordOutcome(OutcomeSuccess)
}

// sendFile writes the file at path as a 200 response, returning the number
// of body bytes written.  If the file cannot be opened, a 500 response is
// sent instead.
func sendFile(w http.ResponseWriter, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "error sending filtered image", http.StatusInternalServerError)
		return 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "error sending filtered image", http.StatusInternalServerError)
		return 0, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		buf := make([]byte, 512)
		n, _ := io.ReadFull(f, buf)
		contentType = http.DetectContentType(buf[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			http.Error(w, "error sending filtered image", http.StatusInternalServerError)
			return 0, err
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.WriteHeader(http.StatusOK)
	return io.Copy(w, f)
}

// timeRequests records the response time of every routed request.
func timeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		httpRequestsResponseTime.Observe(time.Since(start).Seconds())
	})
}
