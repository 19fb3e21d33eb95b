package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	writeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cellar",
		Name:      "persist_write_seconds",
		Help:      "Latency for writing an accepted push through to Postgres.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	writtenRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cellar",
		Name:      "persist_records_total",
		Help:      "Records written through to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(writeLatency, writtenRecords)
}
