package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "quotes.service.new"
	opCreate     = "quotes.create"
	opList       = "quotes.list"
	opGet        = "quotes.get"
	opDelete     = "quotes.delete"

	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUser     = errors.New("quotes belong to an authenticated user")
)

type ServiceConfig struct {
	Database *gorm.DB
	Rates    *Rates
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service prices shipments and stores the quote history.
type Service struct {
	db     *gorm.DB
	rates  Rates
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Storage(opServiceNew, "missing_database", errMissingDatabase)
	}
	rates := DefaultRates()
	if cfg.Rates != nil {
		rates = *cfg.Rates
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, rates: rates, clock: clock, logger: logger}, nil
}

// Preview prices a shipment without storing it.
func (s *Service) Preview(mode Mode, input Input) (Result, error) {
	return Calculate(mode, input, s.rates)
}

// Create prices a shipment and records the quote for userID.
func (s *Service) Create(ctx context.Context, userID int64, mode Mode, input Input) (Quote, Result, error) {
	if userID <= 0 {
		return Quote{}, Result{}, apperr.New(opCreate, "missing_user", apperr.KindUnauthorized, errMissingUser)
	}
	result, err := Calculate(mode, input, s.rates)
	if err != nil {
		return Quote{}, Result{}, err
	}
	detail, err := json.Marshal(result)
	if err != nil {
		return Quote{}, Result{}, apperr.Storage(opCreate, "encode_detail_failed", err)
	}

	record := Quote{
		UserID:           userID,
		Mode:             result.Mode,
		Destination:      result.Destination,
		LengthCM:         input.LengthCM,
		WidthCM:          input.WidthCM,
		HeightCM:         input.HeightCM,
		WeightKG:         result.WeightKG,
		VolumeM3:         result.VolumeM3,
		ChargeableWeight: result.ChargeableWeight,
		TotalUSD:         result.TotalUSD,
		TotalCOP:         result.TotalCOP,
		DetailJSON:       string(detail),
		CreatedAt:        s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.Int64("user_id", userID))
		return Quote{}, Result{}, apperr.Storage(opCreate, "insert_failed", err)
	}

	s.logger.Info("quote created",
		zap.Int64("quote_id", record.ID),
		zap.Int64("user_id", userID),
		zap.String("mode", string(mode)),
		zap.String("total_usd", result.TotalUSD.StringFixed(2)))
	return record, result, nil
}

// List returns the newest quotes of userID. A non-positive limit means the default.
func (s *Service) List(ctx context.Context, userID int64, limit int) ([]Quote, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var records []Quote
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.logError(opList, "select_failed", err, zap.Int64("user_id", userID))
		return nil, apperr.Storage(opList, "select_failed", err)
	}
	return records, nil
}

// Get returns one quote of userID together with its decoded breakdown.
func (s *Service) Get(ctx context.Context, userID, quoteID int64) (Quote, Result, error) {
	var record Quote
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", quoteID, userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Quote{}, Result{}, apperr.NotFound(opGet, "quote_not_found", err)
		}
		s.logError(opGet, "select_failed", err, zap.Int64("quote_id", quoteID))
		return Quote{}, Result{}, apperr.Storage(opGet, "select_failed", err)
	}
	var result Result
	if err := json.Unmarshal([]byte(record.DetailJSON), &result); err != nil {
		s.logError(opGet, "decode_detail_failed", err, zap.Int64("quote_id", quoteID))
		return Quote{}, Result{}, apperr.Storage(opGet, "decode_detail_failed", err)
	}
	return record, result, nil
}

// Delete removes one of the user's stored quotes.
func (s *Service) Delete(ctx context.Context, userID, quoteID int64) error {
	if userID <= 0 {
		return apperr.New(opDelete, "missing_user", apperr.KindUnauthorized, errMissingUser)
	}
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", quoteID, userID).Delete(&Quote{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.Int64("quote_id", quoteID))
		return apperr.Storage(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(opDelete, "quote_not_found", gorm.ErrRecordNotFound)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}, fields...)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	s.logger.Error("quotes service failure", allFields...)
}
