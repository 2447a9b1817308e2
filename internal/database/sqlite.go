package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"github.com/MarcoPoloResearchLab/cargo888/internal/quotes"
	"github.com/MarcoPoloResearchLab/cargo888/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// scanTrackingColumn marks a qr_labels table created before scans were counted.
const scanTrackingColumn = "last_scanned_at"

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate brings the schema of db up to date.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	dropped, err := dropOutdatedLabelTable(db)
	if err != nil {
		return err
	}
	if dropped && logger != nil {
		logger.Warn("dropped outdated label table",
			zap.String("table", labels.Label{}.TableName()),
			zap.String("missing_column", scanTrackingColumn))
	}

	if err := db.AutoMigrate(
		&cargo.Cargo{},
		&cargo.Article{},
		&cargo.Box{},
		&labels.Label{},
		&users.User{},
		&quotes.Quote{},
		&migrationRecord{},
	); err != nil {
		return err
	}

	return applyMigrations(db, logger)
}

// dropOutdatedLabelTable removes a label table without scan tracking so that
// AutoMigrate recreates it with the current unique and not-null constraints.
// Labels are derived data and can be regenerated from their boxes.
func dropOutdatedLabelTable(db *gorm.DB) (bool, error) {
	migrator := db.Migrator()
	if !migrator.HasTable(&labels.Label{}) {
		return false, nil
	}
	if migrator.HasColumn(&labels.Label{}, scanTrackingColumn) {
		return false, nil
	}
	if err := migrator.DropTable(&labels.Label{}); err != nil {
		return false, err
	}
	return true, nil
}
