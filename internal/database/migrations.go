package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeLabelStatus = "2025-02-10_normalize_legacy_label_status"
	migrationUppercaseMarks       = "2025-02-24_uppercase_shipping_marks"
)

// legacyLabelStatuses maps the status values written by earlier releases.
var legacyLabelStatuses = map[string]labels.Status{
	"generado":  labels.StatusGenerated,
	"impreso":   labels.StatusPrinted,
	"escaneado": labels.StatusScanned,
	"":          labels.StatusGenerated,
}

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
		{name: migrationNormalizeLabelStatus, apply: normalizeLabelStatus},
		{name: migrationUppercaseMarks, apply: uppercaseShippingMarks},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func normalizeLabelStatus(db *gorm.DB) error {
	for legacy, current := range legacyLabelStatuses {
		err := db.Model(&labels.Label{}).
			Where("status = ?", legacy).
			Update("status", current).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// uppercaseShippingMarks aligns marks stored before cargo creation upper-cased them.
func uppercaseShippingMarks(db *gorm.DB) error {
	return db.Model(&cargo.Cargo{}).
		Where("shipping_mark <> UPPER(shipping_mark)").
		Update("shipping_mark", gorm.Expr("UPPER(shipping_mark)")).Error
}
