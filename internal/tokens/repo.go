package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/inventrack/inventrack-backend/internal/repo"
	"github.com/inventrack/inventrack-backend/pkg/db"
	"github.com/inventrack/inventrack-backend/pkg/db/models"
	pkgerrors "github.com/inventrack/inventrack-backend/pkg/errors"
	"gorm.io/gorm"
)

// Repository persists refresh tokens with optimistic versioning.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LoadByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	Save(ctx context.Context, rec *models.RefreshToken) error
	Create(ctx context.Context, rec *models.RefreshToken) error
	RevokeChain(ctx context.Context, chainID, reason string, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64, reason string, at time.Time) (int64, error)
}

type repository struct {
	base repo.Base
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) LoadByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	var rec models.RefreshToken
	if err := r.base.DB(ctx).Where("token_hash = ?", hash).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refresh token")
	}
	return &rec, nil
}

func (r *repository) Save(ctx context.Context, rec *models.RefreshToken) error {
	updates := map[string]any{
		"is_revoked":           rec.IsRevoked,
		"is_used":              rec.IsUsed,
		"revoked_at":           rec.RevokedAt,
		"used_at":              rec.UsedAt,
		"reason_revoked":       rec.ReasonRevoked,
		"replaced_by_token_id": rec.ReplacedByTokenID,
		"is_active":            rec.IsActive,
	}
	ok, err := r.base.UpdateVersioned(ctx, &models.RefreshToken{}, rec.Version, updates, "id = ?", rec.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save refresh token")
	}
	if !ok {
		return ErrConflict
	}
	rec.Version++
	return nil
}

func (r *repository) Create(ctx context.Context, rec *models.RefreshToken) error {
	rec.Version = 0
	if err := r.base.DB(ctx).Create(rec).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refresh token")
	}
	return nil
}

func (r *repository) RevokeChain(ctx context.Context, chainID, reason string, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, reason, at, "chain_id = ?", chainID)
}

func (r *repository) RevokeAllForUser(ctx context.Context, userID int64, reason string, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, reason, at, "user_id = ?", userID)
}

// revokeWhere revokes every matching token not yet revoked. Already revoked
// rows keep their original time and reason.
func (r *repository) revokeWhere(ctx context.Context, reason string, at time.Time, where string, args ...any) (int64, error) {
	res := r.base.DB(ctx).
		Model(&models.RefreshToken{}).
		Where(where, args...).
		Where("is_revoked = ?", false).
		Updates(map[string]any{
			"is_revoked":       true,
			"revoked_at":       at,
			"reason_revoked":   truncateReason(reason),
			repo.VersionColumn: gorm.Expr(repo.VersionColumn + " + 1"),
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "revoke refresh tokens")
	}
	return res.RowsAffected, nil
}
