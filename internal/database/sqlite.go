package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/audit"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/documents"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured database and performs schema migrations.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver != DriverPostgres {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&documents.Document{},
		&users.Overlay{},
		&users.DirectoryUser{},
		&audit.Entry{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driverName(driver)))
	}

	return db, nil
}

// OpenSQLite is Open with the embedded driver.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	return Open(DriverSQLite, path, logger)
}

func driverName(driver string) string {
	if driver == "" {
		return DriverSQLite
	}
	return driver
}
