package repo

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type versionedRow struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	Name    string `gorm:"column:name"`
	Version int64  `gorm:"column:version;not null;default:0"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

func TestNewBaseStoresConnection(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.db != db {
		t.Fatalf("expected base db to match provided connection")
	}
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)

	if withCtx == nil {
		t.Fatalf("expected non-nil DB when context provided")
	}
	if withCtx.Statement == nil {
		t.Fatalf("expected statement created after WithContext")
	}
	if withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through, got %v", withCtx.Statement.Context)
	}

	withoutCtx := base.DB(nil)
	if withoutCtx != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseWithTx(t *testing.T) {
	db := newTestDB(t)
	other := newTestDB(t)
	base := NewBase(db)

	assert.Same(t, db, base.WithTx(nil).db)
	assert.Same(t, other, base.WithTx(other).db)
}

func TestUpdateVersioned(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AutoMigrate(&versionedRow{}))
	require.NoError(t, db.Create(&versionedRow{ID: 1, Name: "first"}).Error)

	base := NewBase(db)
	ctx := context.Background()

	ok, err := base.UpdateVersioned(ctx, &versionedRow{}, 0, map[string]any{"name": "second"}, "id = ?", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = base.UpdateVersioned(ctx, &versionedRow{}, 0, map[string]any{"name": "stale"}, "id = ?", 1)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not match")

	var row versionedRow
	require.NoError(t, db.First(&row, "id = ?", 1).Error)
	assert.Equal(t, "second", row.Name)
	assert.Equal(t, int64(1), row.Version)
}
