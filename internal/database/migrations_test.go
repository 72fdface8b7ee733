package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/audit"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "admin.db"), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for _, table := range []string{"documents", "user_overlays", "directory_users", "admin_logs", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
	if !db.Migrator().HasIndex(&audit.Entry{}, auditActorIndexName) {
		t.Fatalf("expected index %s", auditActorIndexName)
	}
	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count migrations failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one recorded migration, got %d", count)
	}
}

func TestMigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	db, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	var count int64
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationAuditActorIndex).Count(&count).Error; err != nil {
		t.Fatalf("count migrations failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected migration recorded once, got %d", count)
	}
}

func TestIndexMigrationToleratesExistingIndex(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "admin.db"), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := createAuditActorIndex(db); err != nil {
		t.Fatalf("expected second index creation to be skipped, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn", nil); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(DriverSQLite, " ", nil); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}
