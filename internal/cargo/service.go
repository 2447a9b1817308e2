package cargo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "cargo.service.new"
	opCreate      = "cargo.create"
	opGet         = "cargo.get"
	opGetByCode   = "cargo.get_by_code"
	opListOwner   = "cargo.list_for_owner"
	opOwned       = "cargo.owned"
	opDelete      = "cargo.delete"
	opLoadBox     = "cargo.load_box"
	opListBoxes   = "cargo.list_boxes"
	opListArticle = "cargo.list_article_boxes"

	cargoCodePrefix = "888CGS-"
	maxBoxesPerRow  = 10000

	defaultListLimit = 20
	maxListLimit     = 100
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errNoArticles      = errors.New("at least one article is required")
	errMissingCode     = errors.New("cargo code is required")
	noOpLogger         = zap.NewNop()
)

// BoxCleanup removes rows owned by boxes that are about to be deleted.
// boxIDs is a subquery selecting the ids of those boxes.
type BoxCleanup func(tx *gorm.DB, boxIDs *gorm.DB) error

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// OnBoxesDeleted runs inside the delete transaction before boxes are removed.
	OnBoxesDeleted BoxCleanup
}

// Service manages cargo, article and box records.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	logger    *zap.Logger
	onDeleted BoxCleanup
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
		db:        cfg.Database,
		clock:     clock,
		logger:    logger,
		onDeleted: cfg.OnBoxesDeleted,
	}, nil
}

// NewCargoCode derives the default cargo code from the clock.
func NewCargoCode(now time.Time) string {
	return fmt.Sprintf("%s%06d", cargoCodePrefix, now.UnixMilli()%1000000)
}

// Create persists a cargo with its articles and one box row per declared box.
func (s *Service) Create(ctx context.Context, request CreateRequest) (CargoDetail, error) {
	if s.db == nil {
		return CargoDetail{}, apperr.Storage(opCreate, "missing_database", errMissingDatabase)
	}
	if len(request.Articles) == 0 {
		return CargoDetail{}, apperr.Validation(opCreate, "missing_articles", errNoArticles)
	}
	for index, article := range request.Articles {
		if article.BoxCount <= 0 || article.BoxCount > maxBoxesPerRow {
			return CargoDetail{}, apperr.Validation(opCreate, "invalid_box_count",
				fmt.Errorf("article %d declares %d boxes", index+1, article.BoxCount))
		}
	}

	code := strings.TrimSpace(request.Code)
	if code == "" {
		code = NewCargoCode(s.clock())
	}

	detail := CargoDetail{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Cargo{}).Where("code = ?", code).Count(&existing).Error; err != nil {
			s.logError(opCreate, "code_lookup_failed", err, zap.String("cargo_code", code))
			return apperr.Storage(opCreate, "code_lookup_failed", err)
		}
		if existing > 0 {
			return apperr.New(opCreate, "duplicate_code", apperr.KindConflict,
				fmt.Errorf("cargo code %q already exists", code))
		}

		record := Cargo{
			Code:               code,
			OwnerUserID:        request.OwnerUserID,
			ClientName:         strings.TrimSpace(request.ClientName),
			ClientEmail:        strings.TrimSpace(request.ClientEmail),
			ClientPhone:        strings.TrimSpace(request.ClientPhone),
			ShippingMark:       strings.ToUpper(strings.TrimSpace(request.ShippingMark)),
			DestinationCity:    strings.TrimSpace(request.DestinationCity),
			DestinationAddress: strings.TrimSpace(request.DestinationAddress),
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opCreate, "cargo_insert_failed", err, zap.String("cargo_code", code))
			return apperr.Storage(opCreate, "cargo_insert_failed", err)
		}
		detail.Cargo = record

		for _, input := range request.Articles {
			article := Article{
				CargoID:       record.ID,
				Reference:     strings.TrimSpace(input.Reference),
				DescriptionES: strings.TrimSpace(input.DescriptionES),
				DescriptionZH: strings.TrimSpace(input.DescriptionZH),
				BoxCount:      input.BoxCount,
				UnitsPerBox:   input.UnitsPerBox,
				GrossWeight:   input.GrossWeight,
				CBM:           input.CBM,
				ImageURL:      strings.TrimSpace(input.ImageURL),
			}
			if err := tx.Create(&article).Error; err != nil {
				s.logError(opCreate, "article_insert_failed", err, zap.Int64("cargo_id", record.ID))
				return apperr.Storage(opCreate, "article_insert_failed", err)
			}

			boxes := make([]Box, 0, input.BoxCount)
			for number := 1; number <= input.BoxCount; number++ {
				boxes = append(boxes, Box{
					ArticleID: article.ID,
					Number:    number,
					Total:     input.BoxCount,
					Units:     input.UnitsPerBox,
				})
			}
			if err := tx.CreateInBatches(&boxes, 200).Error; err != nil {
				s.logError(opCreate, "box_insert_failed", err, zap.Int64("article_id", article.ID))
				return apperr.Storage(opCreate, "box_insert_failed", err)
			}
			detail.Articles = append(detail.Articles, ArticleDetail{Article: article, Boxes: boxes})
		}
		return nil
	})
	if txErr != nil {
		return CargoDetail{}, txErr
	}

	s.logger.Info("cargo created",
		zap.Int64("cargo_id", detail.Cargo.ID),
		zap.String("cargo_code", detail.Cargo.Code),
		zap.Int("boxes", detail.BoxCount()))
	return detail, nil
}

// Get returns a cargo with its articles and boxes.
func (s *Service) Get(ctx context.Context, cargoID int64) (CargoDetail, error) {
	return s.loadDetail(ctx, opGet, zap.Int64("cargo_id", cargoID), "id = ?", cargoID)
}

// GetByCode returns the cargo carrying code with its articles and boxes.
func (s *Service) GetByCode(ctx context.Context, code string) (CargoDetail, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CargoDetail{}, apperr.Validation(opGetByCode, "missing_code", errMissingCode)
	}
	return s.loadDetail(ctx, opGetByCode, zap.String("cargo_code", code), "code = ?", code)
}

// ListForOwner returns the newest cargos of one owner with their box counts.
// A non-positive limit selects the default page size.
func (s *Service) ListForOwner(ctx context.Context, ownerID int64, limit int) ([]Summary, error) {
	if s.db == nil {
		return nil, apperr.Storage(opListOwner, "missing_database", errMissingDatabase)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	db := s.db.WithContext(ctx)

	var records []Cargo
	if err := db.Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		s.logError(opListOwner, "cargo_select_failed", err, zap.Int64("owner_user_id", ownerID))
		return nil, apperr.Storage(opListOwner, "cargo_select_failed", err)
	}
	if len(records) == 0 {
		return []Summary{}, nil
	}

	cargoIDs := make([]int64, 0, len(records))
	for _, record := range records {
		cargoIDs = append(cargoIDs, record.ID)
	}
	var counts []struct {
		CargoID  int64
		Articles int64
		Boxes    int64
	}
	if err := db.Model(&Article{}).
		Select("articles.cargo_id AS cargo_id, COUNT(DISTINCT articles.id) AS articles, COUNT(boxes.id) AS boxes").
		Joins("LEFT JOIN boxes ON boxes.article_id = articles.id").
		Where("articles.cargo_id IN ?", cargoIDs).
		Group("articles.cargo_id").
		Scan(&counts).Error; err != nil {
		s.logError(opListOwner, "box_count_failed", err, zap.Int64("owner_user_id", ownerID))
		return nil, apperr.Storage(opListOwner, "box_count_failed", err)
	}
	byCargo := make(map[int64]int, len(counts))
	for index, count := range counts {
		byCargo[count.CargoID] = index
	}

	summaries := make([]Summary, 0, len(records))
	for _, record := range records {
		summary := Summary{Cargo: record}
		if index, ok := byCargo[record.ID]; ok {
			summary.Articles = counts[index].Articles
			summary.Boxes = counts[index].Boxes
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Owned returns the cargo when it belongs to ownerID. A cargo of another
// owner is reported as not found.
func (s *Service) Owned(ctx context.Context, cargoID, ownerID int64) (Cargo, error) {
	return s.ownedCargo(ctx, "cargo_not_found", ownerID, func(db *gorm.DB) *gorm.DB {
		return db.Where("cargos.id = ?", cargoID)
	})
}

// OwnedByArticle returns the cargo holding articleID when it belongs to ownerID.
func (s *Service) OwnedByArticle(ctx context.Context, articleID, ownerID int64) (Cargo, error) {
	return s.ownedCargo(ctx, "article_not_found", ownerID, func(db *gorm.DB) *gorm.DB {
		return db.Joins("JOIN articles ON articles.cargo_id = cargos.id").
			Where("articles.id = ?", articleID)
	})
}

// OwnedByBox returns the cargo holding boxID when it belongs to ownerID.
func (s *Service) OwnedByBox(ctx context.Context, boxID, ownerID int64) (Cargo, error) {
	return s.ownedCargo(ctx, "box_not_found", ownerID, func(db *gorm.DB) *gorm.DB {
		return db.Joins("JOIN articles ON articles.cargo_id = cargos.id").
			Joins("JOIN boxes ON boxes.article_id = articles.id").
			Where("boxes.id = ?", boxID)
	})
}

func (s *Service) ownedCargo(ctx context.Context, missingReason string, ownerID int64, scope func(*gorm.DB) *gorm.DB) (Cargo, error) {
	if s.db == nil {
		return Cargo{}, apperr.Storage(opOwned, "missing_database", errMissingDatabase)
	}
	var record Cargo
	err := s.db.WithContext(ctx).
		Model(&Cargo{}).
		Scopes(scope).
		Select("cargos.*").
		Where("cargos.owner_user_id = ?", ownerID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Cargo{}, apperr.NotFound(opOwned, missingReason, err)
		}
		s.logError(opOwned, "cargo_select_failed", err, zap.Int64("owner_user_id", ownerID))
		return Cargo{}, apperr.Storage(opOwned, "cargo_select_failed", err)
	}
	return record, nil
}

func (s *Service) loadDetail(ctx context.Context, operation string, subject zap.Field, query string, args ...any) (CargoDetail, error) {
	if s.db == nil {
		return CargoDetail{}, apperr.Storage(operation, "missing_database", errMissingDatabase)
	}
	db := s.db.WithContext(ctx)

	var record Cargo
	if err := db.Where(query, args...).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CargoDetail{}, apperr.NotFound(operation, "cargo_not_found", err)
		}
		s.logError(operation, "cargo_select_failed", err, subject)
		return CargoDetail{}, apperr.Storage(operation, "cargo_select_failed", err)
	}

	var articles []Article
	if err := db.Where("cargo_id = ?", record.ID).Order("id").Find(&articles).Error; err != nil {
		s.logError(operation, "article_select_failed", err, subject)
		return CargoDetail{}, apperr.Storage(operation, "article_select_failed", err)
	}

	detail := CargoDetail{Cargo: record, Articles: make([]ArticleDetail, 0, len(articles))}
	for _, article := range articles {
		var boxes []Box
		if err := db.Where("article_id = ?", article.ID).Order("number").Find(&boxes).Error; err != nil {
			s.logError(operation, "box_select_failed", err, zap.Int64("article_id", article.ID))
			return CargoDetail{}, apperr.Storage(operation, "box_select_failed", err)
		}
		detail.Articles = append(detail.Articles, ArticleDetail{Article: article, Boxes: boxes})
	}
	return detail, nil
}

// Delete removes a cargo together with its articles, boxes and box-owned rows.
func (s *Service) Delete(ctx context.Context, cargoID int64) error {
	if s.db == nil {
		return apperr.Storage(opDelete, "missing_database", errMissingDatabase)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Cargo
		if err := tx.Where("id = ?", cargoID).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound(opDelete, "cargo_not_found", err)
			}
			return apperr.Storage(opDelete, "cargo_select_failed", err)
		}

		// ids travel as subqueries; a large cargo would overflow the bound variable limit
		var boxCount int64
		if err := tx.Model(&Box{}).Where("article_id IN (?)", articleIDsForCargo(tx, cargoID)).Count(&boxCount).Error; err != nil {
			return apperr.Storage(opDelete, "box_select_failed", err)
		}

		if boxCount > 0 && s.onDeleted != nil {
			if err := s.onDeleted(tx, BoxIDsForCargo(tx, cargoID)); err != nil {
				s.logError(opDelete, "box_cleanup_failed", err, zap.Int64("cargo_id", cargoID))
				return apperr.Storage(opDelete, "box_cleanup_failed", err)
			}
		}
		if boxCount > 0 {
			if err := tx.Where("article_id IN (?)", articleIDsForCargo(tx, cargoID)).Delete(&Box{}).Error; err != nil {
				s.logError(opDelete, "box_delete_failed", err, zap.Int64("cargo_id", cargoID))
				return apperr.Storage(opDelete, "box_delete_failed", err)
			}
		}
		if err := tx.Where("cargo_id = ?", cargoID).Delete(&Article{}).Error; err != nil {
			return apperr.Storage(opDelete, "article_delete_failed", err)
		}
		if err := tx.Delete(&record).Error; err != nil {
			return apperr.Storage(opDelete, "cargo_delete_failed", err)
		}

		s.logger.Info("cargo deleted",
			zap.Int64("cargo_id", cargoID),
			zap.Int64("boxes", boxCount))
		return nil
	})
}

// BoxIDsForCargo selects the ids of every box of a cargo, for use as a subquery.
func BoxIDsForCargo(db *gorm.DB, cargoID int64) *gorm.DB {
	return db.Model(&Box{}).
		Select("boxes.id").
		Joins("JOIN articles ON articles.id = boxes.article_id").
		Where("articles.cargo_id = ?", cargoID)
}

func articleIDsForCargo(db *gorm.DB, cargoID int64) *gorm.DB {
	return db.Model(&Article{}).Select("id").Where("cargo_id = ?", cargoID)
}

// LoadBoxContext reads a box with its article and cargo using db, which may be a transaction.
func LoadBoxContext(ctx context.Context, db *gorm.DB, boxID int64) (BoxContext, error) {
	if db == nil {
		return BoxContext{}, apperr.Storage(opLoadBox, "missing_database", errMissingDatabase)
	}
	db = db.WithContext(ctx)

	var result BoxContext
	if err := db.Where("id = ?", boxID).Take(&result.Box).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BoxContext{}, apperr.NotFound(opLoadBox, "box_not_found", err)
		}
		return BoxContext{}, apperr.Storage(opLoadBox, "box_select_failed", err)
	}
	if err := db.Where("id = ?", result.Box.ArticleID).Take(&result.Article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BoxContext{}, apperr.NotFound(opLoadBox, "article_not_found", err)
		}
		return BoxContext{}, apperr.Storage(opLoadBox, "article_select_failed", err)
	}
	if err := db.Where("id = ?", result.Article.CargoID).Take(&result.Cargo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BoxContext{}, apperr.NotFound(opLoadBox, "cargo_not_found", err)
		}
		return BoxContext{}, apperr.Storage(opLoadBox, "cargo_select_failed", err)
	}
	return result, nil
}

// ListBoxContexts returns every box of a cargo ordered by article and box number.
func ListBoxContexts(ctx context.Context, db *gorm.DB, cargoID int64) ([]BoxContext, error) {
	if db == nil {
		return nil, apperr.Storage(opListBoxes, "missing_database", errMissingDatabase)
	}
	db = db.WithContext(ctx)

	var record Cargo
	if err := db.Where("id = ?", cargoID).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(opListBoxes, "cargo_not_found", err)
		}
		return nil, apperr.Storage(opListBoxes, "cargo_select_failed", err)
	}

	var articles []Article
	if err := db.Where("cargo_id = ?", cargoID).Order("id").Find(&articles).Error; err != nil {
		return nil, apperr.Storage(opListBoxes, "article_select_failed", err)
	}

	contexts := make([]BoxContext, 0)
	for _, article := range articles {
		boxes, err := articleBoxContexts(db, article, record)
		if err != nil {
			return nil, apperr.Storage(opListBoxes, "box_select_failed", err)
		}
		contexts = append(contexts, boxes...)
	}
	return contexts, nil
}

// ListArticleBoxContexts returns the boxes of one article ordered by box number.
func ListArticleBoxContexts(ctx context.Context, db *gorm.DB, articleID int64) ([]BoxContext, error) {
	if db == nil {
		return nil, apperr.Storage(opListArticle, "missing_database", errMissingDatabase)
	}
	db = db.WithContext(ctx)

	var article Article
	if err := db.Where("id = ?", articleID).Take(&article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(opListArticle, "article_not_found", err)
		}
		return nil, apperr.Storage(opListArticle, "article_select_failed", err)
	}
	var record Cargo
	if err := db.Where("id = ?", article.CargoID).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(opListArticle, "cargo_not_found", err)
		}
		return nil, apperr.Storage(opListArticle, "cargo_select_failed", err)
	}

	contexts, err := articleBoxContexts(db, article, record)
	if err != nil {
		return nil, apperr.Storage(opListArticle, "box_select_failed", err)
	}
	return contexts, nil
}

func articleBoxContexts(db *gorm.DB, article Article, record Cargo) ([]BoxContext, error) {
	var boxes []Box
	if err := db.Where("article_id = ?", article.ID).Order("number").Find(&boxes).Error; err != nil {
		return nil, err
	}
	contexts := make([]BoxContext, 0, len(boxes))
	for _, box := range boxes {
		contexts = append(contexts, BoxContext{Box: box, Article: article, Cargo: record})
	}
	return contexts, nil
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
	s.logger.Error("cargo service error", attrs...)
}
