package cron

import (
	"context"
	"fmt"

	"github.com/inventrack/inventrack-backend/internal/stock"
	"github.com/inventrack/inventrack-backend/pkg/logger"
	"github.com/inventrack/inventrack-backend/pkg/metrics"
)

const defaultLowStockBatch = 500

type LowStockJobParams struct {
	Logger    *logger.Logger
	Source    lowStockSource
	Metrics   *metrics.DomainMetrics
	BatchSize int
}

// lowStockSource is satisfied by stock.Service.
type lowStockSource interface {
	LowStock(ctx context.Context, limit int) ([]stock.Levels, error)
}

// NewLowStockJob reports active stock records at or below their reorder level.
func NewLowStockJob(params LowStockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Source == nil {
		return nil, fmt.Errorf("low stock source required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultLowStockBatch
	}
	return &lowStockJob{
		logg:    params.Logger,
		source:  params.Source,
		metrics: params.Metrics,
		batch:   batch,
	}, nil
}

type lowStockJob struct {
	logg    *logger.Logger
	source  lowStockSource
	metrics *metrics.DomainMetrics
	batch   int
}

func (j *lowStockJob) Name() string { return "low-stock-report" }

func (j *lowStockJob) Run(ctx context.Context) error {
	records, err := j.source.LowStock(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list low stock: %w", err)
	}

	outOfStock := 0
	for _, levels := range records {
		if levels.OutOfStock {
			outOfStock++
		}
		recCtx := j.logg.WithStockKey(ctx, levels.ProductID, levels.LocationID)
		recCtx = j.logg.WithFields(recCtx, map[string]any{
			"quantity":      levels.Quantity,
			"reserved":      levels.Reserved,
			"reorder_level": levels.ReorderLevel,
			"out_of_stock":  levels.OutOfStock,
		})
		j.logg.Warn(recCtx, "stock at or below reorder level")
	}
	j.metrics.SetLowStockRecords(len(records))

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"low_stock":    len(records),
		"out_of_stock": outOfStock,
		"truncated":    len(records) == j.batch,
	})
	j.logg.Info(logCtx, "low stock scan complete")
	return nil
}
