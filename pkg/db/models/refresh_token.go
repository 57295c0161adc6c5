package models

import "time"

// RefreshToken is one link in a user's refresh-token rotation chain.
// Only a keyed digest of the opaque token is stored.
type RefreshToken struct {
	ID                int64      `gorm:"column:id;primaryKey"`
	TokenHash         string     `gorm:"column:token_hash;size:128;not null;uniqueIndex"`
	UserID            int64      `gorm:"column:user_id;not null;index"`
	ChainID           string     `gorm:"column:chain_id;size:36;not null;index"`
	ExpiryDate        time.Time  `gorm:"column:expiry_date;not null;index"`
	IsRevoked         bool       `gorm:"column:is_revoked;not null;default:false"`
	IsUsed            bool       `gorm:"column:is_used;not null;default:false"`
	RevokedAt         *time.Time `gorm:"column:revoked_at"`
	UsedAt            *time.Time `gorm:"column:used_at"`
	IPAddress         *string    `gorm:"column:ip_address;size:45"`
	UserAgent         *string    `gorm:"column:user_agent;size:500"`
	ReasonRevoked     *string    `gorm:"column:reason_revoked;size:200"`
	ReplacedByTokenID *int64     `gorm:"column:replaced_by_token_id"`
	Version           int64      `gorm:"column:version;not null;default:0"`
	Entity
}
