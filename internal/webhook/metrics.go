package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ifsyncd_events_total",
		Help: "Webhook deliveries by object type and outcome.",
	}, []string{"object_type", "result"})

	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ifsyncd_apply_duration_seconds",
		Help:    "End to end processing time per delivery, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"object_type"})

	deadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ifsyncd_dead_letters_total",
		Help: "Failed deliveries published to the dead-letter subject.",
	})
)
