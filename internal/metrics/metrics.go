// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sol_engine",
			Name:      "samples_ingested_total",
			Help:      "Total accepted signal samples, partitioned by signal.",
		},
		[]string{"signal"},
	)

	samplesRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sol_engine",
			Name:      "samples_rejected_total",
			Help:      "Total samples rejected by validation.",
		},
	)

	recomputesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sol_engine",
			Name:      "correlation_recomputes_total",
			Help:      "Total correlation snapshot recomputations.",
		},
	)

	forecastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sol_engine",
			Name:      "forecasts_total",
			Help:      "Total forecast queries, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	notificationsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sol_engine",
			Name:      "notifications_dispatched_total",
			Help:      "Total proactive notifications dispatched.",
		},
	)

	replyDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sol_engine",
			Name:      "reply_seconds",
			Help:      "Companion reply latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		},
		[]string{"outcome"},
	)
)

// Register attaches the engine's collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesIngestedTotal,
		samplesRejectedTotal,
		recomputesTotal,
		forecastsTotal,
		notificationsDispatchedTotal,
		replyDurationSeconds,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// SampleIngested records an accepted sample for a signal.
func SampleIngested(signal string) {
	samplesIngestedTotal.WithLabelValues(signal).Inc()
}

// SampleRejected records a sample that failed validation.
func SampleRejected() {
	samplesRejectedTotal.Inc()
}

// RecomputeRan records one correlation recomputation.
func RecomputeRan() {
	recomputesTotal.Inc()
}

// ForecastServed records a forecast query and whether one was produced.
func ForecastServed(produced bool) {
	outcome := "forecast"
	if !produced {
		outcome = "none"
	}
	forecastsTotal.WithLabelValues(outcome).Inc()
}

// NotificationDispatched records one proactive notification delivery.
func NotificationDispatched() {
	notificationsDispatchedTotal.Inc()
}

// ObserveReply records reply latency and whether the provider or the
// fallback produced it.
func ObserveReply(duration time.Duration, fallback bool) {
	outcome := "generated"
	if fallback {
		outcome = "fallback"
	}
	if duration < 0 {
		duration = 0
	}
	replyDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}
