// Package prom exports streambus notifications as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/klikkai/streambus"
)

// Observer counts notifications per type and stream and records handler
// and publish latencies.
type Observer struct {
	notifications *prometheus.CounterVec
	processing    *prometheus.HistogramVec
	publish       *prometheus.HistogramVec
	retryAttempt  *prometheus.HistogramVec
}

var _ streambus.Observer = (*Observer)(nil)

// New registers the collectors with reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Observer {
	f := promauto.With(reg)
	return &Observer{
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Bus notifications by type and stream",
		}, []string{"type", "stream"}),
		processing: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Handler duration of processed and failed events",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stream", "outcome"}),
		publish: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Append latency of published events",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stream"}),
		retryAttempt: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_attempt",
			Help:      "Attempt number of scheduled retries",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"stream"}),
	}
}

func (o *Observer) OnNotification(n streambus.Notification) {
	o.notifications.WithLabelValues(string(n.Type), n.Stream).Inc()
	switch n.Type {
	case streambus.Processed:
		o.processing.WithLabelValues(n.Stream, "ok").Observe(n.Duration.Seconds())
	case streambus.Failed:
		o.processing.WithLabelValues(n.Stream, "error").Observe(n.Duration.Seconds())
	case streambus.Published:
		o.publish.WithLabelValues(n.Stream).Observe(n.Duration.Seconds())
	case streambus.RetryScheduled:
		o.retryAttempt.WithLabelValues(n.Stream).Observe(float64(n.Attempt))
	}
}
