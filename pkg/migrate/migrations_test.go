package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inventrack/inventrack-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestStockMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_stock_records"), []string{
		"CREATE TABLE IF NOT EXISTS stock_records",
		"PRIMARY KEY (product_id, location_id)",
		"CHECK (quantity >= 0)",
		"CHECK (reserved_quantity >= 0)",
		"version BIGINT NOT NULL DEFAULT 0",
		"DROP TABLE IF EXISTS stock_records",
	})
}

func TestRefreshTokenMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_refresh_tokens"), []string{
		"CREATE TABLE IF NOT EXISTS refresh_tokens",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_refresh_tokens_token_hash",
		"replaced_by_token_id BIGINT REFERENCES refresh_tokens(id)",
		"DROP TABLE IF EXISTS refresh_tokens",
	})
}

func TestAuditMigrationContainsColumns(t *testing.T) {
	assertContains(t, readMigration(t, "create_audit_logs"), []string{
		"CREATE TABLE IF NOT EXISTS audit_logs",
		"is_successful BOOLEAN NOT NULL",
		"error_message VARCHAR(1000)",
		"DROP TABLE IF EXISTS audit_logs",
	})
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename error")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Stock Notes!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_stock_notes.sql") {
		t.Fatalf("unexpected migration path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
