package models

import (
	"fmt"
	"time"
)

// StockRecord tracks on-hand and reserved units for one product at one location.
// Product and location are referenced by id only.
type StockRecord struct {
	ProductID        int64      `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	LocationID       int64      `gorm:"column:location_id;primaryKey;autoIncrement:false"`
	Quantity         int        `gorm:"column:quantity;not null;default:0"`
	ReservedQuantity int        `gorm:"column:reserved_quantity;not null;default:0"`
	ReorderLevel     int        `gorm:"column:reorder_level;not null"`
	MaxStockLevel    *int       `gorm:"column:max_stock_level"`
	LastUpdated      time.Time  `gorm:"column:last_updated;not null;index"`
	LastRestocked    *time.Time `gorm:"column:last_restocked"`
	Notes            *string    `gorm:"column:notes;size:500"`
	Version          int64      `gorm:"column:version;not null;default:0"`
	Entity
}

// StockKey renders the composite key as "<product>:<location>".
func StockKey(productID, locationID int64) string {
	return fmt.Sprintf("%d:%d", productID, locationID)
}

// Key returns the composite key of the record.
func (r StockRecord) Key() string {
	return StockKey(r.ProductID, r.LocationID)
}
