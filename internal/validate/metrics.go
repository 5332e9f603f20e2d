package validate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctkeeper_validation_verdicts_total",
		Help: "Connection validation outcomes.",
	}, []string{"verdict"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctkeeper_validation_cache_hits_total",
		Help: "Validations satisfied from the verdict cache.",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctkeeper_validation_cache_misses_total",
		Help: "Validations that had to verify signatures.",
	})
)
