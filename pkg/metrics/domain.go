package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels shared by the stock and token counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// DomainMetrics counts stock ledger and refresh token operations.
type DomainMetrics struct {
	stockOps  *prometheus.CounterVec
	tokenOps  *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	lowStock  prometheus.Gauge
}

// NewDomainMetrics registers the domain collectors on the provided registerer.
// A nil registerer yields a no-op collector.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	stockOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "operations_total",
		Help:      "Stock ledger operations by operation and outcome.",
	}, []string{"operation", "outcome"})
	tokenOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresh_token",
		Name:      "operations_total",
		Help:      "Refresh token transitions by operation and outcome.",
	}, []string{"operation", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_conflicts_total",
		Help:      "Optimistic concurrency conflicts by entity.",
	}, []string{"entity"})
	lowStock := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "low_stock_records",
		Help:      "Active stock records at or below their reorder level at the last scan.",
	})
	reg.MustRegister(stockOps, tokenOps, conflicts, lowStock)
	return &DomainMetrics{
		stockOps:  stockOps,
		tokenOps:  tokenOps,
		conflicts: conflicts,
		lowStock:  lowStock,
	}
}

func (d *DomainMetrics) StockOperation(operation, outcome string) {
	if d == nil || d.stockOps == nil {
		return
	}
	d.stockOps.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (d *DomainMetrics) TokenOperation(operation, outcome string) {
	if d == nil || d.tokenOps == nil {
		return
	}
	d.tokenOps.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (d *DomainMetrics) StorageConflict(entity string) {
	if d == nil || d.conflicts == nil {
		return
	}
	d.conflicts.WithLabelValues(normalizeLabel(entity)).Inc()
}

// SetLowStockRecords publishes the size of the latest low-stock scan.
func (d *DomainMetrics) SetLowStockRecords(count int) {
	if d == nil || d.lowStock == nil {
		return
	}
	d.lowStock.Set(float64(count))
}
