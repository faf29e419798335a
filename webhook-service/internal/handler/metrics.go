package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики обработки провайдерских уведомлений.
var (
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_callbacks_total",
		Help: "Provider callbacks processed, labeled by reconciliation outcome.",
	}, []string{"outcome"})

	callbackDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_callback_duration_seconds",
		Help:    "End-to-end callback reconciliation latency.",
		Buckets: prometheus.DefBuckets,
	})
)
