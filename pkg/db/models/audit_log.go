package models

import "time"

// AuditLog is an append-only record of a state-changing operation and its outcome.
type AuditLog struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	EntityName   string    `gorm:"column:entity_name;size:100;not null;index:idx_audit_logs_entity"`
	EntityID     string    `gorm:"column:entity_id;size:64;not null;index:idx_audit_logs_entity"`
	Action       string    `gorm:"column:action;size:50;not null"`
	UserID       *int64    `gorm:"column:user_id"`
	Timestamp    time.Time `gorm:"column:timestamp;not null;index"`
	OldValues    *string   `gorm:"column:old_values;type:text"`
	NewValues    *string   `gorm:"column:new_values;type:text"`
	IPAddress    *string   `gorm:"column:ip_address;size:45"`
	UserAgent    *string   `gorm:"column:user_agent;size:500"`
	Module       *string   `gorm:"column:module;size:200"`
	IsSuccessful bool      `gorm:"column:is_successful;not null"`
	ErrorMessage *string   `gorm:"column:error_message;size:1000"`
	Entity
}
