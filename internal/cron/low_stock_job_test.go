package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/inventrack/inventrack-backend/internal/stock"
	"github.com/inventrack/inventrack-backend/pkg/logger"
	"github.com/inventrack/inventrack-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLowStockSource struct {
	records []stock.Levels
	err     error
	limit   int
}

func (s *stubLowStockSource) LowStock(ctx context.Context, limit int) ([]stock.Levels, error) {
	s.limit = limit
	return s.records, s.err
}

func TestLowStockJobReportsRecords(t *testing.T) {
	buf := &bytes.Buffer{}
	reg := prometheus.NewRegistry()
	source := &stubLowStockSource{records: []stock.Levels{
		{ProductID: 1, LocationID: 1, Quantity: 2, ReorderLevel: 5, LowStock: true},
		{ProductID: 2, LocationID: 1, Quantity: 0, ReorderLevel: 5, LowStock: true, OutOfStock: true},
	}}
	job, err := NewLowStockJob(LowStockJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test", Output: buf}),
		Source:    source,
		Metrics:   metrics.NewDomainMetrics(reg),
		BatchSize: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "low-stock-report", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 50, source.limit)
	assert.Contains(t, buf.String(), `"stock_key":"2:1"`)
	assert.Contains(t, buf.String(), `"out_of_stock":1`)

	problems, err := testutil.GatherAndCount(reg, "inventrack_stock_low_stock_records")
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
}

func TestLowStockJobPropagatesErrors(t *testing.T) {
	job, err := NewLowStockJob(LowStockJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}}),
		Source: &stubLowStockSource{err: errors.New("db down")},
	})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}

func TestNewLowStockJobValidation(t *testing.T) {
	_, err := NewLowStockJob(LowStockJobParams{})
	require.Error(t, err)

	_, err = NewLowStockJob(LowStockJobParams{Logger: logger.New(logger.Options{})})
	require.Error(t, err)
}
