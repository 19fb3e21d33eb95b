package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	pushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cellar",
		Name:      "pushes_total",
		Help:      "Accepted client pushes.",
	})

	getsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cellar",
		Name:      "gets_total",
		Help:      "Served incremental downloads.",
	})

	pushedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cellar",
		Name:      "pushed_records_total",
		Help:      "Records received in client pushes.",
	})

	recordsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cellar",
		Name:      "records",
		Help:      "Records held in the authoritative store, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(pushesTotal, getsTotal, pushedRecords, recordsTotal)
}

var tracer = otel.Tracer("github.com/jakobkummerow/weinkeller-sub000/server")
