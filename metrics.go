package partstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	stored        *prometheus.CounterVec
	compactions   *prometheus.CounterVec
	compactionDur prometheus.Histogram
	lookups       *prometheus.CounterVec
	indexRebuilds prometheus.Counter
	removed       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partstore",
			Name:      "records_stored_total",
			Help:      "Raw records appended to journals.",
		}, []string{"mode"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partstore",
			Name:      "bucket_compactions_total",
			Help:      "Bucket compactions by result.",
		}, []string{"result"}),
		compactionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "partstore",
			Name:      "bucket_compaction_duration_seconds",
			Help:      "Duration of single bucket compactions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partstore",
			Name:      "lookups_total",
			Help:      "Point lookups by result.",
		}, []string{"result"}),
		indexRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partstore",
			Name:      "index_rebuilds_total",
			Help:      "Bucket indexes written.",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partstore",
			Name:      "keys_removed_total",
			Help:      "Keys removed from compacted buckets.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.stored,
			m.compactions,
			m.compactionDur,
			m.lookups,
			m.indexRebuilds,
			m.removed,
		)
	}
	return m
}
