package stock

import (
	"context"
	"errors"

	"github.com/inventrack/inventrack-backend/internal/repo"
	"github.com/inventrack/inventrack-backend/pkg/db"
	"github.com/inventrack/inventrack-backend/pkg/db/models"
	pkgerrors "github.com/inventrack/inventrack-backend/pkg/errors"
	"gorm.io/gorm"
)

// Key identifies a stock record.
type Key struct {
	ProductID  int64
	LocationID int64
}

func (k Key) String() string {
	return models.StockKey(k.ProductID, k.LocationID)
}

// Repository persists stock records with optimistic versioning.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Load(ctx context.Context, key Key) (*models.StockRecord, error)
	Save(ctx context.Context, rec *models.StockRecord) error
	Create(ctx context.Context, rec *models.StockRecord) error
	ListActiveByProduct(ctx context.Context, productID int64) ([]models.StockRecord, error)
	ListLowStock(ctx context.Context, limit int) ([]models.StockRecord, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) Load(ctx context.Context, key Key) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := r.base.DB(ctx).
		Where("product_id = ? AND location_id = ?", key.ProductID, key.LocationID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return &rec, nil
}

// Save writes rec if nobody else saved it since it was loaded.
// On success rec.Version is advanced to the stored version.
func (r *repository) Save(ctx context.Context, rec *models.StockRecord) error {
	updates := map[string]any{
		"quantity":          rec.Quantity,
		"reserved_quantity": rec.ReservedQuantity,
		"reorder_level":     rec.ReorderLevel,
		"max_stock_level":   rec.MaxStockLevel,
		"last_updated":      rec.LastUpdated,
		"last_restocked":    rec.LastRestocked,
		"notes":             rec.Notes,
		"is_active":         rec.IsActive,
	}
	ok, err := r.base.UpdateVersioned(ctx, &models.StockRecord{}, rec.Version, updates,
		"product_id = ? AND location_id = ?", rec.ProductID, rec.LocationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save stock record")
	}
	if !ok {
		return ErrConflict
	}
	rec.Version++
	return nil
}

func (r *repository) Create(ctx context.Context, rec *models.StockRecord) error {
	rec.Version = 0
	if err := r.base.DB(ctx).Create(rec).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock record")
	}
	return nil
}

func (r *repository) ListActiveByProduct(ctx context.Context, productID int64) ([]models.StockRecord, error) {
	var recs []models.StockRecord
	if err := r.base.DB(ctx).
		Where("product_id = ? AND is_active = ?", productID, true).
		Order("location_id ASC").
		Find(&recs).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock records")
	}
	return recs, nil
}

func (r *repository) ListLowStock(ctx context.Context, limit int) ([]models.StockRecord, error) {
	var recs []models.StockRecord
	query := r.base.DB(ctx).
		Where("is_active = ? AND quantity <= reorder_level", true).
		Order("product_id ASC, location_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list low stock records")
	}
	return recs, nil
}
