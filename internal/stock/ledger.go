package stock

import (
	"math"
	"time"

	"github.com/inventrack/inventrack-backend/pkg/db/models"
)

// MaxQuantity is the largest on-hand quantity the INTEGER columns can hold.
const MaxQuantity = math.MaxInt32

// Ledger applies quantity changes to a single stock record in memory.
// It performs no I/O; persisting the mutated record is the caller's job.
type Ledger struct {
	now func() time.Time
}

// NewLedger builds a ledger stamping mutations with now. A nil clock uses time.Now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// AvailableQuantity is on-hand stock not promised to anyone.
func AvailableQuantity(rec *models.StockRecord) int {
	return rec.Quantity - rec.ReservedQuantity
}

// IsLowStock reports whether on-hand stock is at or below the reorder level.
func IsLowStock(rec *models.StockRecord) bool {
	return rec.Quantity <= rec.ReorderLevel
}

func IsOutOfStock(rec *models.StockRecord) bool {
	return rec.Quantity <= 0
}

// IsOverStocked is false when no maximum is configured.
func IsOverStocked(rec *models.StockRecord) bool {
	return rec.MaxStockLevel != nil && rec.Quantity > *rec.MaxStockLevel
}

// CanReserve reports whether qty units can be promised from rec.
func (l *Ledger) CanReserve(rec *models.StockRecord, qty int) bool {
	return qty <= AvailableQuantity(rec)
}

// Reserve moves qty units from available to reserved.
func (l *Ledger) Reserve(rec *models.StockRecord, qty int) error {
	if qty <= 0 {
		return invalidQuantity(qty)
	}
	if !l.CanReserve(rec, qty) {
		return insufficient(qty, AvailableQuantity(rec))
	}
	rec.ReservedQuantity += qty
	rec.LastUpdated = l.stamp()
	return nil
}

// Release returns up to qty reserved units. Releasing more than is reserved
// clears the reservation.
func (l *Ledger) Release(rec *models.StockRecord, qty int) error {
	if qty <= 0 {
		return invalidQuantity(qty)
	}
	rec.ReservedQuantity -= min(qty, rec.ReservedQuantity)
	rec.LastUpdated = l.stamp()
	return nil
}

// Deduct removes qty units from on-hand stock. The reservation is left alone;
// callers fulfilling a reservation release it separately or use Fulfill.
func (l *Ledger) Deduct(rec *models.StockRecord, qty int) error {
	if qty <= 0 {
		return invalidQuantity(qty)
	}
	if qty > rec.Quantity {
		return insufficient(qty, rec.Quantity)
	}
	rec.Quantity -= qty
	rec.LastUpdated = l.stamp()
	return nil
}

// Fulfill ships qty previously reserved units: on-hand and reserved both drop by qty.
func (l *Ledger) Fulfill(rec *models.StockRecord, qty int) error {
	if qty <= 0 {
		return invalidQuantity(qty)
	}
	if qty > rec.ReservedQuantity {
		return insufficient(qty, rec.ReservedQuantity)
	}
	if qty > rec.Quantity {
		return insufficient(qty, rec.Quantity)
	}
	rec.Quantity -= qty
	rec.ReservedQuantity -= qty
	rec.LastUpdated = l.stamp()
	return nil
}

// Restock adds qty units to on-hand stock.
func (l *Ledger) Restock(rec *models.StockRecord, qty int) error {
	if qty <= 0 {
		return invalidQuantity(qty)
	}
	if qty > MaxQuantity-rec.Quantity {
		return quantityOverflow(rec.Quantity, qty)
	}
	now := l.stamp()
	rec.Quantity += qty
	rec.LastUpdated = now
	rec.LastRestocked = &now
	return nil
}

func (l *Ledger) stamp() time.Time {
	return l.now().UTC()
}

// Levels is a read-only view of a record with its derived predicates.
type Levels struct {
	ProductID     int64      `json:"product_id"`
	LocationID    int64      `json:"location_id"`
	Quantity      int        `json:"quantity"`
	Reserved      int        `json:"reserved_quantity"`
	Available     int        `json:"available_quantity"`
	ReorderLevel  int        `json:"reorder_level"`
	MaxStockLevel *int       `json:"max_stock_level,omitempty"`
	LowStock      bool       `json:"is_low_stock"`
	OutOfStock    bool       `json:"is_out_of_stock"`
	OverStocked   bool       `json:"is_over_stocked"`
	Active        bool       `json:"is_active"`
	Version       int64      `json:"version"`
	LastUpdated   time.Time  `json:"last_updated"`
	LastRestocked *time.Time `json:"last_restocked,omitempty"`
}

// LevelsOf snapshots rec.
func LevelsOf(rec *models.StockRecord) Levels {
	return Levels{
		ProductID:     rec.ProductID,
		LocationID:    rec.LocationID,
		Quantity:      rec.Quantity,
		Reserved:      rec.ReservedQuantity,
		Available:     AvailableQuantity(rec),
		ReorderLevel:  rec.ReorderLevel,
		MaxStockLevel: rec.MaxStockLevel,
		LowStock:      IsLowStock(rec),
		OutOfStock:    IsOutOfStock(rec),
		OverStocked:   IsOverStocked(rec),
		Active:        rec.IsActive,
		Version:       rec.Version,
		LastUpdated:   rec.LastUpdated,
		LastRestocked: rec.LastRestocked,
	}
}
