package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	backupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cellar",
		Name:      "backups_total",
		Help:      "Archives uploaded to object storage.",
	})

	backupSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cellar",
		Name:      "backup_size_bytes",
		Help:      "Size of the most recent uploaded archive.",
	})
)

func init() {
	prometheus.MustRegister(backupsTotal, backupSizeBytes)
}
