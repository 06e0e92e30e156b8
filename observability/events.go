package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type escrowMetrics struct {
	transfers *prometheus.CounterVec
	value     *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *escrowMetrics
)

// Escrow returns the metrics registry tracking committed escrow movements.
func Escrow() *escrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &escrowMetrics{
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobchain",
				Subsystem: "escrow",
				Name:      "transfers_total",
				Help:      "Count of escrow movements segmented by direction.",
			}, []string{"direction"}),
			value: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobchain",
				Subsystem: "escrow",
				Name:      "value_total",
				Help:      "Value moved through escrow segmented by direction. Approximate for very large amounts.",
			}, []string{"direction"}),
		}
		prometheus.MustRegister(escrowRegistry.transfers, escrowRegistry.value)
	})
	return escrowRegistry
}

// RecordTransfer counts one deposit, release or refund.
func (m *escrowMetrics) RecordTransfer(direction string, amount *big.Int) {
	if m == nil {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(direction))
	if normalized == "" {
		normalized = "unknown"
	}
	m.transfers.WithLabelValues(normalized).Inc()
	if v := bigToFloat(amount); v > 0 {
		m.value.WithLabelValues(normalized).Add(v)
	}
}
