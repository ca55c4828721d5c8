// Package metrics registers the bridge's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RecordsReceived counts records accepted from the intake topic.
	RecordsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emonbridge_records_received_total",
		Help: "Archive records accepted from the intake topic.",
	})

	// Uploads counts delivery outcomes by result (ok, failed, skipped).
	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emonbridge_uploads_total",
		Help: "Delivery cycles by result.",
	}, []string{"result"})

	// RecordsDropped counts records discarded before delivery by reason
	// (invalid, backlog_full, stale, throttled).
	RecordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emonbridge_records_dropped_total",
		Help: "Records discarded before delivery, by reason.",
	}, []string{"reason"})

	// BacklogLength tracks the number of records waiting for delivery.
	BacklogLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emonbridge_backlog_length",
		Help: "Records currently queued for delivery.",
	})

	// UploadDuration observes the wall time of one complete delivery
	// attempt cycle, retries included.
	UploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emonbridge_upload_duration_seconds",
		Help:    "Duration of one delivery cycle, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(RecordsReceived, Uploads, RecordsDropped, BacklogLength, UploadDuration)
}
