package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	idAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kura_id_allocations_total",
			Help: "Number of counter allocations by collection and kind",
		},
		[]string{"collection", "kind"},
	)

	idsAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kura_ids_allocated_total",
			Help: "Number of identifiers handed out by collection",
		},
		[]string{"collection"},
	)

	idAllocationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kura_id_allocation_errors_total",
			Help: "Number of failed identifier allocations by collection and reason",
		},
		[]string{"collection", "reason"},
	)

	idAllocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kura_id_allocation_duration_seconds",
			Help:    "Latency of identifier allocations including the store round trip",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "kind"},
	)
)
