package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncengine",
		Name:      "cycles_total",
		Help:      "Completed sync cycles by request kind and outcome.",
	}, []string{"request", "outcome"})

	cycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "syncengine",
		Name:      "cycle_seconds",
		Help:      "Wall time of one request/response exchange.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"request"})

	uploadedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncengine",
		Name:      "uploaded_records_total",
		Help:      "Records uploaded to the server.",
	})

	downloadedBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncengine",
		Name:      "downloaded_batches_total",
		Help:      "Responses that carried new server data.",
	})
)

func init() {
	prometheus.MustRegister(cyclesTotal, cycleDuration, uploadedRecords, downloadedBatches)
}

var tracer = otel.Tracer("github.com/jakobkummerow/weinkeller-sub000/syncengine")
