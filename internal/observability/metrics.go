package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "magnify_http_request_duration_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	LoansIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "magnify_loans_issued_total",
		Help: "Total loans issued",
	})

	LoansSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magnify_loans_settled_total",
		Help: "Total loans settled by outcome",
	}, []string{"outcome"})

	OutboxJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magnify_outbox_jobs_total",
		Help: "Outbox jobs processed by result",
	}, []string{"topic", "result"})
)
