package labels

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew      = "labels.service.new"
	opGenerateForBox  = "labels.generate_for_box"
	opRegenerate      = "labels.regenerate_for_box"
	opGenerateCargo   = "labels.generate_for_cargo"
	opGenerateArticle = "labels.generate_for_article"
	opListForCargo    = "labels.list_for_cargo"
	opGetLabel        = "labels.get_label"
	opMarkPrinted     = "labels.mark_printed"
	opCargoStatistics = "labels.cargo_statistics"
	opValidateScan    = "labels.validate_scan"
	opDeleteForBoxes  = "labels.delete_for_boxes"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errLabelExists     = errors.New("box already has a label")
	errMissingCode     = errors.New("scanned code is required")
	noOpLogger         = zap.NewNop()
)

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Suffix   SuffixFunc
	Logger   *zap.Logger
	Observer ScanObserver
}

// Service stores labels and records scans.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	builder  *Builder
	logger   *zap.Logger
	observer ScanObserver
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Storage(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		clock:    clock,
		builder:  NewBuilder(clock, cfg.Suffix),
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

// SetObserver replaces the scan observer. It must be called before serving requests.
func (s *Service) SetObserver(observer ScanObserver) {
	s.observer = observer
}

// GenerateForBox creates the label of a box that has none.
func (s *Service) GenerateForBox(ctx context.Context, boxID int64) (Label, error) {
	var created Label
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := countLabelsForBox(tx, boxID)
		if err != nil {
			return apperr.Storage(opGenerateForBox, "label_lookup_failed", err)
		}
		if existing > 0 {
			return apperr.New(opGenerateForBox, "label_exists", apperr.KindConflict, errLabelExists)
		}
		created, err = s.insertLabel(ctx, tx, opGenerateForBox, boxID)
		return err
	})
	if err != nil {
		return Label{}, err
	}
	return created, nil
}

// RegenerateForBox replaces any label of the box with a freshly built one.
func (s *Service) RegenerateForBox(ctx context.Context, boxID int64) (Label, error) {
	var created Label
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("box_id = ?", boxID).Delete(&Label{}).Error; err != nil {
			s.logError(opRegenerate, "label_delete_failed", err, zap.Int64("box_id", boxID))
			return apperr.Storage(opRegenerate, "label_delete_failed", err)
		}
		var err error
		created, err = s.insertLabel(ctx, tx, opRegenerate, boxID)
		return err
	})
	if err != nil {
		return Label{}, err
	}
	s.logger.Info("label regenerated", zap.Int64("box_id", boxID), zap.String("code", created.Code))
	return created, nil
}

// GenerateForCargo labels every box of a cargo, one box at a time. Boxes that
// already carry a label are kept unless force is set. A failing box does not
// undo the boxes processed before it.
func (s *Service) GenerateForCargo(ctx context.Context, cargoID int64, force bool) ([]BoxOutcome, error) {
	contexts, err := cargo.ListBoxContexts(ctx, s.db, cargoID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.generateAll(ctx, opGenerateCargo, contexts, force)
	s.logger.Info("cargo labels generated",
		zap.Int64("cargo_id", cargoID),
		zap.Int("boxes", len(contexts)),
		zap.Bool("force", force))
	return outcomes, err
}

// GenerateForArticle labels the boxes of one article with the same rules as GenerateForCargo.
func (s *Service) GenerateForArticle(ctx context.Context, articleID int64, force bool) ([]BoxOutcome, error) {
	contexts, err := cargo.ListArticleBoxContexts(ctx, s.db, articleID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.generateAll(ctx, opGenerateArticle, contexts, force)
	s.logger.Info("article labels generated",
		zap.Int64("article_id", articleID),
		zap.Int("boxes", len(contexts)),
		zap.Bool("force", force))
	return outcomes, err
}

func (s *Service) generateAll(ctx context.Context, operation string, contexts []cargo.BoxContext, force bool) ([]BoxOutcome, error) {
	outcomes := make([]BoxOutcome, 0, len(contexts))
	for _, boxContext := range contexts {
		if err := ctx.Err(); err != nil {
			return outcomes, apperr.Storage(operation, "cancelled", err)
		}
		boxID := boxContext.Box.ID

		var current Label
		lookupErr := s.db.WithContext(ctx).Where("box_id = ?", boxID).Order("id DESC").Take(&current).Error
		switch {
		case lookupErr == nil && !force:
			outcomes = append(outcomes, BoxOutcome{BoxID: boxID, Kind: OutcomeExisting, LabelID: current.ID, Code: current.Code})
			continue
		case lookupErr != nil && !errors.Is(lookupErr, gorm.ErrRecordNotFound):
			s.logError(operation, "label_lookup_failed", lookupErr, zap.Int64("box_id", boxID))
			outcomes = append(outcomes, BoxOutcome{BoxID: boxID, Kind: OutcomeFailed, Error: lookupErr.Error()})
			continue
		}

		kind := OutcomeCreated
		var label Label
		var genErr error
		if lookupErr == nil {
			kind = OutcomeRegenerated
			label, genErr = s.RegenerateForBox(ctx, boxID)
		} else {
			label, genErr = s.GenerateForBox(ctx, boxID)
		}
		if genErr != nil {
			s.logError(operation, "box_failed", genErr, zap.Int64("box_id", boxID))
			outcomes = append(outcomes, BoxOutcome{BoxID: boxID, Kind: OutcomeFailed, Error: genErr.Error()})
			continue
		}
		outcomes = append(outcomes, BoxOutcome{BoxID: boxID, Kind: kind, LabelID: label.ID, Code: label.Code})
	}
	return outcomes, nil
}

// ListForCargo returns every label of a cargo with its payload decoded.
func (s *Service) ListForCargo(ctx context.Context, cargoID int64) ([]View, error) {
	db := s.db.WithContext(ctx)
	var cargoCount int64
	if err := db.Model(&cargo.Cargo{}).Where("id = ?", cargoID).Count(&cargoCount).Error; err != nil {
		return nil, apperr.Storage(opListForCargo, "cargo_lookup_failed", err)
	}
	if cargoCount == 0 {
		return nil, apperr.NotFound(opListForCargo, "cargo_not_found", gorm.ErrRecordNotFound)
	}

	var rows []Label
	if err := db.Where("box_id IN (?)", cargo.BoxIDsForCargo(db, cargoID)).Order("id").Find(&rows).Error; err != nil {
		s.logError(opListForCargo, "label_select_failed", err, zap.Int64("cargo_id", cargoID))
		return nil, apperr.Storage(opListForCargo, "label_select_failed", err)
	}

	views := make([]View, 0, len(rows))
	for _, row := range rows {
		payload, err := DecodePayload(row.PayloadJSON)
		if err != nil {
			s.logger.Warn("stored payload is not valid json",
				zap.Int64("label_id", row.ID),
				zap.Error(err))
		}
		views = append(views, View{Label: row, Payload: payload})
	}
	return views, nil
}

// GetLabel reads one label by id.
func (s *Service) GetLabel(ctx context.Context, labelID int64) (Label, error) {
	var label Label
	if err := s.db.WithContext(ctx).Where("id = ?", labelID).Take(&label).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Label{}, apperr.NotFound(opGetLabel, "label_not_found", err)
		}
		return Label{}, apperr.Storage(opGetLabel, "label_select_failed", err)
	}
	return label, nil
}

// MarkPrinted records a print. A scanned label keeps its scanned status.
func (s *Service) MarkPrinted(ctx context.Context, labelID int64, printedBy string) (Label, error) {
	now := s.clock().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Label{}).Where("id = ?", labelID).Updates(map[string]any{
			"printed_at": now,
			"printed_by": optionalString(printedBy),
		})
		if result.Error != nil {
			return apperr.Storage(opMarkPrinted, "label_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound(opMarkPrinted, "label_not_found", gorm.ErrRecordNotFound)
		}
		if err := tx.Model(&Label{}).
			Where("id = ? AND status = ?", labelID, StatusGenerated).
			Update("status", StatusPrinted).Error; err != nil {
			return apperr.Storage(opMarkPrinted, "status_update_failed", err)
		}
		return nil
	})
	if err != nil {
		return Label{}, err
	}
	return s.GetLabel(ctx, labelID)
}

// CargoStatistics counts labels by status for one cargo.
func (s *Service) CargoStatistics(ctx context.Context, cargoID int64) (Statistics, error) {
	db := s.db.WithContext(ctx)
	var cargoCount int64
	if err := db.Model(&cargo.Cargo{}).Where("id = ?", cargoID).Count(&cargoCount).Error; err != nil {
		return Statistics{}, apperr.Storage(opCargoStatistics, "cargo_lookup_failed", err)
	}
	if cargoCount == 0 {
		return Statistics{}, apperr.NotFound(opCargoStatistics, "cargo_not_found", gorm.ErrRecordNotFound)
	}

	stats := Statistics{CargoID: cargoID}
	if err := db.Model(&cargo.Box{}).Where("id IN (?)", cargo.BoxIDsForCargo(db, cargoID)).Count(&stats.Boxes).Error; err != nil {
		return Statistics{}, apperr.Storage(opCargoStatistics, "box_count_failed", err)
	}

	var rows []struct {
		Status Status
		Count  int64
		Scans  int64
	}
	if err := db.Model(&Label{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(scan_count), 0) AS scans").
		Where("box_id IN (?)", cargo.BoxIDsForCargo(db, cargoID)).
		Group("status").
		Scan(&rows).Error; err != nil {
		s.logError(opCargoStatistics, "label_count_failed", err, zap.Int64("cargo_id", cargoID))
		return Statistics{}, apperr.Storage(opCargoStatistics, "label_count_failed", err)
	}
	for _, row := range rows {
		stats.Labels += row.Count
		stats.TotalScans += row.Scans
		switch row.Status {
		case StatusGenerated:
			stats.Generated += row.Count
		case StatusPrinted:
			stats.Printed += row.Count
		case StatusScanned:
			stats.Scanned += row.Count
		}
	}

	var labeledBoxes int64
	if err := db.Model(&Label{}).
		Where("box_id IN (?)", cargo.BoxIDsForCargo(db, cargoID)).
		Distinct("box_id").
		Count(&labeledBoxes).Error; err != nil {
		return Statistics{}, apperr.Storage(opCargoStatistics, "label_count_failed", err)
	}
	stats.Unlabeled = stats.Boxes - labeledBoxes
	return stats, nil
}

// ValidateScan resolves a scanned code and records the scan. Every scan bumps
// the counter and the last-scan fields. Only the first scan sets the scanned
// status, time and scanner; the conditional update guarantees a single winner
// among concurrent first scans.
func (s *Service) ValidateScan(ctx context.Context, raw string, scannerID string) (ScanResult, error) {
	code := ExtractCode(raw)
	if code == "" {
		return ScanResult{}, apperr.Validation(opValidateScan, "missing_code", errMissingCode)
	}

	now := s.clock().UTC()
	scanner := optionalString(scannerID)
	var result ScanResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var label Label
		if err := tx.Where("code = ?", code).Take(&label).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound(opValidateScan, "code_not_found", err)
			}
			return apperr.Storage(opValidateScan, "label_select_failed", err)
		}

		first := tx.Model(&Label{}).
			Where("id = ? AND status <> ?", label.ID, StatusScanned).
			Updates(map[string]any{
				"status":          StatusScanned,
				"scanned_at":      now,
				"scanned_by":      scanner,
				"scan_count":      gorm.Expr("scan_count + 1"),
				"last_scanned_at": now,
				"last_scanned_by": scanner,
			})
		if first.Error != nil {
			return apperr.Storage(opValidateScan, "label_update_failed", first.Error)
		}
		result.AlreadyScanned = first.RowsAffected == 0

		if result.AlreadyScanned {
			if err := tx.Model(&Label{}).Where("id = ?", label.ID).Updates(map[string]any{
				"scan_count":      gorm.Expr("scan_count + 1"),
				"last_scanned_at": now,
				"last_scanned_by": scanner,
			}).Error; err != nil {
				return apperr.Storage(opValidateScan, "label_update_failed", err)
			}
		}

		if err := tx.Where("id = ?", label.ID).Take(&result.Label).Error; err != nil {
			return apperr.Storage(opValidateScan, "label_reload_failed", err)
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindStorage {
			s.logError(opValidateScan, "scan_failed", err, zap.String("code", code))
		}
		return ScanResult{}, err
	}

	payload, decodeErr := DecodePayload(result.Label.PayloadJSON)
	if decodeErr != nil {
		s.logger.Warn("stored payload is not valid json",
			zap.Int64("label_id", result.Label.ID),
			zap.Error(decodeErr))
	}
	result.Payload = payload

	s.logger.Info("label scanned",
		zap.String("code", code),
		zap.Bool("already_scanned", result.AlreadyScanned),
		zap.Int("scan_count", result.Label.ScanCount))
	s.publish(ctx, result, now)
	return result, nil
}

// DeleteForBoxes removes, inside tx, the labels of the boxes selected by the boxIDs subquery.
func (s *Service) DeleteForBoxes(tx *gorm.DB, boxIDs *gorm.DB) error {
	result := tx.Where("box_id IN (?)", boxIDs).Delete(&Label{})
	if result.Error != nil {
		s.logError(opDeleteForBoxes, "label_delete_failed", result.Error)
		return result.Error
	}
	s.logger.Debug("box labels deleted", zap.Int64("labels", result.RowsAffected))
	return nil
}

// ExtractCode returns the label code carried by raw scanner input. Input that
// is not a JSON object is taken as the code itself.
func ExtractCode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	var envelope struct {
		Code      string `json:"codigo_unico"`
		QRCode    string `json:"codigo_qr"`
		PlainCode string `json:"code"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return trimmed
	}
	for _, candidate := range []string{envelope.Code, envelope.QRCode, envelope.PlainCode} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate
		}
	}
	return trimmed
}

func (s *Service) insertLabel(ctx context.Context, tx *gorm.DB, operation string, boxID int64) (Label, error) {
	source, err := cargo.LoadBoxContext(ctx, tx, boxID)
	if err != nil {
		return Label{}, err
	}
	draft, err := s.builder.Build(source)
	if err != nil {
		return Label{}, err
	}
	label := Label{
		BoxID:       boxID,
		Code:        draft.Code,
		PayloadJSON: draft.PayloadJSON,
		Status:      StatusGenerated,
	}
	if err := tx.Create(&label).Error; err != nil {
		s.logError(operation, "label_insert_failed", err, zap.Int64("box_id", boxID))
		return Label{}, apperr.Storage(operation, "label_insert_failed", err)
	}
	return label, nil
}

func (s *Service) publish(ctx context.Context, result ScanResult, scannedAt time.Time) {
	if s.observer == nil {
		return
	}
	var cargoID int64
	if err := s.db.WithContext(ctx).
		Model(&cargo.Article{}).
		Select("articles.cargo_id").
		Joins("JOIN boxes ON boxes.article_id = articles.id").
		Where("boxes.id = ?", result.Label.BoxID).
		Scan(&cargoID).Error; err != nil {
		s.logger.Warn("scan event dropped", zap.Int64("label_id", result.Label.ID), zap.Error(err))
		return
	}
	s.observer.PublishScan(ScanEvent{
		CargoID:        cargoID,
		LabelID:        result.Label.ID,
		Code:           result.Label.Code,
		BoxNumber:      result.Payload.BoxNumber,
		TotalBoxes:     result.Payload.TotalBoxes,
		AlreadyScanned: result.AlreadyScanned,
		ScanCount:      result.Label.ScanCount,
		ScannedAt:      scannedAt,
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("labels service error", attrs...)
}

func countLabelsForBox(tx *gorm.DB, boxID int64) (int64, error) {
	var count int64
	err := tx.Model(&Label{}).Where("box_id = ?", boxID).Count(&count).Error
	return count, err
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
