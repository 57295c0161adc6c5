package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inventrack/inventrack-backend/internal/audit"
	"github.com/inventrack/inventrack-backend/pkg/db/models"
	pkgerrors "github.com/inventrack/inventrack-backend/pkg/errors"
	"github.com/inventrack/inventrack-backend/pkg/logger"
	"github.com/inventrack/inventrack-backend/pkg/metrics"
	"github.com/inventrack/inventrack-backend/pkg/validation"
)

const (
	defaultMaxAttempts  = 3
	defaultReorderLevel = 10
	auditModule         = "stock"

	OpCreate    = "create"
	OpReserve   = "reserve"
	OpRelease   = "release"
	OpDeduct    = "deduct"
	OpFulfill   = "fulfill"
	OpRestock   = "restock"
	OpSetActive = "set_active"
)

// Service exposes stock ledger operations over persisted records.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*Levels, error)
	Get(ctx context.Context, productID, locationID int64) (*Levels, error)
	Availability(ctx context.Context, productID int64) (*Availability, error)
	LowStock(ctx context.Context, limit int) ([]Levels, error)
	CanReserve(ctx context.Context, input MutationInput) (bool, error)
	Reserve(ctx context.Context, input MutationInput) (*Levels, error)
	Release(ctx context.Context, input MutationInput) (*Levels, error)
	Deduct(ctx context.Context, input MutationInput) (*Levels, error)
	Fulfill(ctx context.Context, input MutationInput) (*Levels, error)
	Restock(ctx context.Context, input MutationInput) (*Levels, error)
	SetActive(ctx context.Context, input SetActiveInput) (*Levels, error)
}

// Actor identifies who triggered an operation, for the audit trail.
type Actor struct {
	UserID    *int64  `json:"user_id,omitempty"`
	IPAddress *string `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent *string `json:"user_agent,omitempty" validate:"omitempty,max=500"`
}

type CreateInput struct {
	ProductID     int64   `json:"product_id" validate:"gt=0"`
	LocationID    int64   `json:"location_id" validate:"gt=0"`
	Quantity      int     `json:"quantity" validate:"gte=0,lte=2147483647"`
	ReorderLevel  *int    `json:"reorder_level,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	MaxStockLevel *int    `json:"max_stock_level,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	Notes         *string `json:"notes,omitempty" validate:"omitempty,max=500"`
	Actor         Actor   `json:"actor"`
}

type MutationInput struct {
	ProductID  int64 `json:"product_id" validate:"gt=0"`
	LocationID int64 `json:"location_id" validate:"gt=0"`
	Quantity   int   `json:"quantity" validate:"gt=0,lte=2147483647"`
	Actor      Actor `json:"actor"`
}

type SetActiveInput struct {
	ProductID  int64 `json:"product_id" validate:"gt=0"`
	LocationID int64 `json:"location_id" validate:"gt=0"`
	Active     bool  `json:"active"`
	Actor      Actor `json:"actor"`
}

// Availability sums promisable stock over a product's active locations.
type Availability struct {
	ProductID int64    `json:"product_id"`
	Available int      `json:"available_quantity"`
	Locations []Levels `json:"locations"`
}

type ServiceParams struct {
	Repo        Repository
	Audit       audit.Recorder
	Logger      *logger.Logger
	Metrics     *metrics.DomainMetrics
	MaxAttempts int
	Clock       func() time.Time
}

type service struct {
	repo        Repository
	audit       audit.Recorder
	logg        *logger.Logger
	metrics     *metrics.DomainMetrics
	ledger      *Ledger
	maxAttempts int
	now         func() time.Time
}

// NewService wires the stock service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &service{
		repo:        params.Repo,
		audit:       params.Audit,
		logg:        params.Logger,
		metrics:     params.Metrics,
		ledger:      NewLedger(now),
		maxAttempts: attempts,
		now:         now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*Levels, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithStockKey(ctx, input.ProductID, input.LocationID)

	reorder := defaultReorderLevel
	if input.ReorderLevel != nil {
		reorder = *input.ReorderLevel
	}
	rec := &models.StockRecord{
		ProductID:     input.ProductID,
		LocationID:    input.LocationID,
		Quantity:      input.Quantity,
		ReorderLevel:  reorder,
		MaxStockLevel: input.MaxStockLevel,
		Notes:         input.Notes,
		LastUpdated:   s.now().UTC(),
		Entity:        models.ActiveEntity(),
	}
	err := s.repo.Create(ctx, rec)
	var after *snapshot
	if err == nil {
		snap := snapshotOf(rec)
		after = &snap
	}
	s.record(ctx, OpCreate, rec.Key(), input.Actor, nil, after, err)
	s.observe(ctx, OpCreate, err)
	if err != nil {
		return nil, err
	}
	levels := LevelsOf(rec)
	return &levels, nil
}

func (s *service) Get(ctx context.Context, productID, locationID int64) (*Levels, error) {
	rec, err := s.repo.Load(ctx, Key{ProductID: productID, LocationID: locationID})
	if err != nil {
		return nil, err
	}
	levels := LevelsOf(rec)
	return &levels, nil
}

func (s *service) Availability(ctx context.Context, productID int64) (*Availability, error) {
	if productID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id must be positive")
	}
	recs, err := s.repo.ListActiveByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	out := &Availability{ProductID: productID, Locations: make([]Levels, 0, len(recs))}
	for i := range recs {
		levels := LevelsOf(&recs[i])
		// a location deducted ahead of its release contributes nothing rather than a debt
		out.Available += max(levels.Available, 0)
		out.Locations = append(out.Locations, levels)
	}
	return out, nil
}

// LowStock lists active records at or below their reorder level, at most limit
// of them when limit is positive.
func (s *service) LowStock(ctx context.Context, limit int) ([]Levels, error) {
	recs, err := s.repo.ListLowStock(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Levels, 0, len(recs))
	for i := range recs {
		out = append(out, LevelsOf(&recs[i]))
	}
	return out, nil
}

func (s *service) CanReserve(ctx context.Context, input MutationInput) (bool, error) {
	if err := validation.Struct(input); err != nil {
		return false, err
	}
	rec, err := s.repo.Load(ctx, Key{ProductID: input.ProductID, LocationID: input.LocationID})
	if err != nil {
		return false, err
	}
	return rec.IsActive && s.ledger.CanReserve(rec, input.Quantity), nil
}

func (s *service) Reserve(ctx context.Context, input MutationInput) (*Levels, error) {
	return s.mutate(ctx, OpReserve, input, func(rec *models.StockRecord) error {
		if !rec.IsActive {
			return ErrInactive
		}
		return s.ledger.Reserve(rec, input.Quantity)
	})
}

func (s *service) Release(ctx context.Context, input MutationInput) (*Levels, error) {
	return s.mutate(ctx, OpRelease, input, func(rec *models.StockRecord) error {
		return s.ledger.Release(rec, input.Quantity)
	})
}

func (s *service) Deduct(ctx context.Context, input MutationInput) (*Levels, error) {
	return s.mutate(ctx, OpDeduct, input, func(rec *models.StockRecord) error {
		return s.ledger.Deduct(rec, input.Quantity)
	})
}

func (s *service) Fulfill(ctx context.Context, input MutationInput) (*Levels, error) {
	return s.mutate(ctx, OpFulfill, input, func(rec *models.StockRecord) error {
		return s.ledger.Fulfill(rec, input.Quantity)
	})
}

func (s *service) Restock(ctx context.Context, input MutationInput) (*Levels, error) {
	return s.mutate(ctx, OpRestock, input, func(rec *models.StockRecord) error {
		return s.ledger.Restock(rec, input.Quantity)
	})
}

func (s *service) SetActive(ctx context.Context, input SetActiveInput) (*Levels, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	key := Key{ProductID: input.ProductID, LocationID: input.LocationID}
	return s.apply(ctx, OpSetActive, key, input.Actor, func(rec *models.StockRecord) error {
		rec.IsActive = input.Active
		rec.LastUpdated = s.now().UTC()
		return nil
	})
}

func (s *service) mutate(ctx context.Context, op string, input MutationInput, change func(*models.StockRecord) error) (*Levels, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	key := Key{ProductID: input.ProductID, LocationID: input.LocationID}
	return s.apply(ctx, op, key, input.Actor, change)
}

// apply runs Load, change, Save and starts over from a fresh Load when the
// save loses a race, up to maxAttempts times.
func (s *service) apply(ctx context.Context, op string, key Key, actor Actor, change func(*models.StockRecord) error) (*Levels, error) {
	ctx = s.logg.WithStockKey(ctx, key.ProductID, key.LocationID)
	if actor.UserID != nil {
		ctx = s.logg.WithUserID(ctx, *actor.UserID)
	}

	for attempt := 1; ; attempt++ {
		rec, err := s.repo.Load(ctx, key)
		if err != nil {
			s.record(ctx, op, key.String(), actor, nil, nil, err)
			s.observe(ctx, op, err)
			return nil, err
		}

		before := snapshotOf(rec)
		if err := change(rec); err != nil {
			s.record(ctx, op, key.String(), actor, &before, nil, err)
			s.observe(ctx, op, err)
			return nil, err
		}

		err = s.repo.Save(ctx, rec)
		if err == nil {
			after := snapshotOf(rec)
			s.record(ctx, op, key.String(), actor, &before, &after, nil)
			s.observe(ctx, op, nil)
			levels := LevelsOf(rec)
			return &levels, nil
		}

		if errors.Is(err, ErrConflict) && attempt < s.maxAttempts {
			s.metrics.StorageConflict(audit.EntityStockRecord)
			s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), "stock save lost race, reloading")
			continue
		}
		if errors.Is(err, ErrConflict) {
			s.metrics.StorageConflict(audit.EntityStockRecord)
		}
		s.record(ctx, op, key.String(), actor, &before, nil, err)
		s.observe(ctx, op, err)
		return nil, err
	}
}

func (s *service) record(ctx context.Context, op, entityID string, actor Actor, before, after *snapshot, opErr error) {
	entry := audit.Entry{
		EntityName: audit.EntityStockRecord,
		EntityID:   entityID,
		Action:     op,
		UserID:     actor.UserID,
		Success:    opErr == nil,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		Module:     auditModule,
	}
	if before != nil {
		entry.OldValue = before
	}
	if after != nil {
		entry.NewValue = after
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logg.Error(ctx, "failed to record stock audit entry", err)
	}
}

func (s *service) observe(ctx context.Context, op string, err error) {
	if err == nil {
		s.metrics.StockOperation(op, metrics.OutcomeSuccess)
		return
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInsufficientStock, pkgerrors.CodeStateConflict, pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound, pkgerrors.CodeConflict:
		s.metrics.StockOperation(op, metrics.OutcomeRejected)
		s.logg.Info(s.logg.WithField(ctx, "reason", err.Error()), "stock "+op+" rejected")
	case pkgerrors.CodeStorageConflict:
		s.metrics.StockOperation(op, metrics.OutcomeConflict)
		s.logg.Warn(ctx, "stock "+op+" gave up after repeated concurrent updates")
	default:
		s.metrics.StockOperation(op, metrics.OutcomeError)
		s.logg.Error(s.logg.WithField(ctx, "error_chain", pkgerrors.Dump(err).Chain), "stock "+op+" failed", err)
	}
}

// snapshot holds the audited fields of a stock record.
type snapshot struct {
	Quantity         int        `json:"quantity"`
	ReservedQuantity int        `json:"reserved_quantity"`
	IsActive         bool       `json:"is_active"`
	Version          int64      `json:"version"`
	LastUpdated      time.Time  `json:"last_updated"`
	LastRestocked    *time.Time `json:"last_restocked,omitempty"`
}

func snapshotOf(rec *models.StockRecord) snapshot {
	return snapshot{
		Quantity:         rec.Quantity,
		ReservedQuantity: rec.ReservedQuantity,
		IsActive:         rec.IsActive,
		Version:          rec.Version,
		LastUpdated:      rec.LastUpdated,
		LastRestocked:    rec.LastRestocked,
	}
}
