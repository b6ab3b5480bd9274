// Package metrics exposes Prometheus counters for the public document flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TokenResolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cleanops", Name: "public_token_resolves_total", Help: "Number of public token resolutions by outcome."},
		[]string{"outcome"},
	)
	DocumentViews = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cleanops", Name: "document_views_total", Help: "Number of first views recorded on public documents."},
	)
	DocumentAccepts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cleanops", Name: "document_accepts_total", Help: "Number of accept attempts by outcome."},
		[]string{"outcome"},
	)
	DocumentRejects = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cleanops", Name: "document_rejects_total", Help: "Number of public document rejections."},
	)
	ExpiredLinkHits = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cleanops", Name: "expired_link_hits_total", Help: "Number of requests that arrived on an expired public link."},
	)
	JobsConverted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cleanops", Name: "jobs_converted_total", Help: "Number of work orders created from accepted documents."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(TokenResolves)
	reg.MustRegister(DocumentViews)
	reg.MustRegister(DocumentAccepts)
	reg.MustRegister(DocumentRejects)
	reg.MustRegister(ExpiredLinkHits)
	reg.MustRegister(JobsConverted)
}
