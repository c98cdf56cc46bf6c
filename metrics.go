// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtered_image_requests_total",
			Help: "Number of requests, partitioned by outcome.",
		}, []string{"outcome"})
	requestServedFromCacheCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "source_images_served_from_cache",
			Help: "Number of source images served from the fetch cache.",
		})
	imageFilterSummary = prometheus.NewSummary(prometheus.SummaryOpts{
		Name: "image_filter_seconds",
		Help: "Time taken to decode, filter and encode images in seconds.",
	})
	remoteImageFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remote_image_fetch_errors",
		Help: "Total image fetch failures",
	})
	artifactCleanupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artifact_cleanup_errors",
		Help: "Total failures deleting temporary filtered images",
	})
	httpRequestsResponseTime = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "http",
		Name:      "response_time_seconds",
		Help:      "Request response times",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestServedFromCacheCount)
	prometheus.MustRegister(imageFilterSummary)
	prometheus.MustRegister(remoteImageFetchErrors)
	prometheus.MustRegister(artifactCleanupErrors)
	prometheus.MustRegister(httpRequestsResponseTime)
}

func recordOutcome(o Outcome) {
	requestsTotal.WithLabelValues(string(o)).Inc()
}
