package models

import "time"

// Entity carries the soft-delete flag and audit timestamps shared by every table.
// It is embedded by value; nothing dispatches on it.
type Entity struct {
	IsActive  bool      `gorm:"column:is_active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// ActiveEntity returns an Entity flagged active.
func ActiveEntity() Entity {
	return Entity{IsActive: true}
}
