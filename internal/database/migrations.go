package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/audit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationAuditActorIndex = "2026-03-02_admin_logs_action_actor_index"

	auditActorIndexName = "idx_admin_logs_action_actor"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationAuditActorIndex, apply: createAuditActorIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// createAuditActorIndex backs per-admin audit lookups by action.
func createAuditActorIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&audit.Entry{}, auditActorIndexName) {
		return nil
	}
	return db.Exec("CREATE INDEX " + auditActorIndexName + " ON admin_logs (action, actor_email)").Error
}
