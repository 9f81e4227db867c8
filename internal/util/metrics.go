package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncs_started_total",
		Help: "Total number of sync operations started",
	})

	SyncsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncs_completed_total",
		Help: "Total number of sync operations reaching a terminal state",
	}, []string{"status", "strategy"})

	SyncsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncs_failed_total",
		Help: "Total number of sync operations failed before any item was attempted",
	}, []string{"reason"})

	SyncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_total",
		Help: "Total number of envelope items processed, by outcome",
	}, []string{"outcome"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_duration_seconds",
		Help:    "Duration of complete sync operations",
		Buckets: prometheus.DefBuckets,
	})

	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_export_duration_seconds",
		Help:    "Duration of the export step against the source node",
		Buckets: prometheus.DefBuckets,
	})

	RequestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_request_retries_total",
		Help: "Total number of retried outpost requests",
	}, []string{"method"})

	AuthenticationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_authentications_total",
		Help: "Total number of outpost login attempts by result",
	}, []string{"result"})

	ReauthenticationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outpost_reauthentications_total",
		Help: "Total number of transparent re-authentication attempts",
	})

	SyncLockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_lock_contention_total",
		Help: "Total number of syncs rejected because the target was locked",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
