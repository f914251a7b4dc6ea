package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	settlementOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainraise",
			Subsystem: "settlement",
			Name:      "operations_total",
			Help:      "Registry and settlement operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainraise",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainraise",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	outboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainraise",
			Subsystem: "outbox",
			Name:      "records_total",
			Help:      "Outbox records handed to the publisher.",
		},
		[]string{"event_type", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(settlementOps, httpRequests, httpDuration, outboxPublished)
	})
}

func RecordSettlement(operation, outcome string) {
	RegisterMetrics()
	settlementOps.WithLabelValues(operation, outcome).Inc()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

func RecordOutboxPublish(eventType string, success bool) {
	RegisterMetrics()
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	outboxPublished.WithLabelValues(eventType, outcome).Inc()
}
