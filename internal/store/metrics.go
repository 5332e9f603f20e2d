package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctkeeper_refresh_passes_total",
		Help: "Per-certificate refresh passes by result.",
	}, []string{"result"})

	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctkeeper_sct_fetch_failures_total",
		Help: "Failed external SCT fetch invocations.",
	})

	collatedSCTs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctkeeper_collated_scts",
		Help: "SCTs written into the most recently collated blob.",
	})
)
