package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ctkeeper_audit_records_total",
	Help: "Audit records appended to the per-process file.",
})
