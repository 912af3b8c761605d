package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector registers and records the store's Prometheus metrics. A nil
// *Collector is valid and records nothing, so instrumentation call sites
// never branch.
type Collector struct {
	opsTotal        *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	transfersTotal  *prometheus.CounterVec
	maintenanceRuns *prometheus.CounterVec
	itemsPerTier    *prometheus.GaugeVec
}

// NewCollector builds a collector registered against reg. A nil reg uses
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		opsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_operations_total",
				Help:      "Total number of memory operations",
			},
			[]string{"operation", "tier", "status"},
		),
		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "memory_operation_duration_seconds",
				Help:      "Memory operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "tier"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_transfers_total",
				Help:      "Total number of cross-tier transfers",
			},
			[]string{"source", "destination", "status"},
		),
		maintenanceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Total number of maintenance runs",
			},
			[]string{"status"},
		),
		itemsPerTier: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_items",
				Help:      "Current number of items held per tier",
			},
			[]string{"tier"},
		),
	}
}

// RecordOperation counts one operation and observes its duration.
func (c *Collector) RecordOperation(operation, tier string, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.opsTotal.WithLabelValues(operation, tier, status).Inc()
	c.opDuration.WithLabelValues(operation, tier).Observe(elapsed.Seconds())
}

// RecordTransfer counts one cross-tier transfer attempt.
func (c *Collector) RecordTransfer(source, destination string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.transfersTotal.WithLabelValues(source, destination, status).Inc()
}

// RecordMaintenance counts one maintenance run.
func (c *Collector) RecordMaintenance(err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.maintenanceRuns.WithLabelValues(status).Inc()
}

// SetTierItems sets the per-tier item gauge from a stats snapshot.
func (c *Collector) SetTierItems(tier string, count int64) {
	if c == nil {
		return
	}
	c.itemsPerTier.WithLabelValues(tier).Set(float64(count))
}
