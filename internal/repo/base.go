package repo

import (
	"context"

	"gorm.io/gorm"
)

// VersionColumn is the optimistic concurrency column shared by versioned tables.
const VersionColumn = "version"

// Base provides a shared foundation for domain repositories.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// WithTx rebinds the base to tx. A nil tx keeps the current connection.
func (b Base) WithTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// UpdateVersioned writes updates to the row selected by where only while its
// version still equals expected, and bumps the version by one.
// It reports false when no row matched, which callers treat as a lost race.
func (b Base) UpdateVersioned(ctx context.Context, model any, expected int64, updates map[string]any, where string, args ...any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values[VersionColumn] = expected + 1

	res := b.DB(ctx).
		Model(model).
		Where(where, args...).
		Where(VersionColumn+" = ?", expected).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
