package cargo

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "cargo.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Cargo{}, &Article{}, &Box{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, cleanup BoxCleanup) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:       db,
		Clock:          func() time.Time { return time.UnixMilli(1735689600123) },
		OnBoxesDeleted: cleanup,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func floatPtr(value float64) *float64 {
	return &value
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	if err == nil || apperr.KindOf(err) != apperr.KindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestNewCargoCodeUsesLastSixDigitsOfMillis(t *testing.T) {
	code := NewCargoCode(time.UnixMilli(1735689600123))
	if code != "888CGS-600123" {
		t.Fatalf("unexpected cargo code %q", code)
	}
}

func TestCreateCargoExpandsBoxes(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil)

	detail, err := service.Create(context.Background(), CreateRequest{
		ClientName:      " Ana ",
		ShippingMark:    "888abc",
		DestinationCity: "Bogotá",
		Articles: []ArticleInput{
			{Reference: "REF-1", DescriptionES: "Zapatos", BoxCount: 3, GrossWeight: floatPtr(12.5)},
			{Reference: "REF-2", DescriptionZH: "鞋", BoxCount: 2},
		},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if detail.Cargo.Code != "888CGS-600123" {
		t.Fatalf("unexpected code %q", detail.Cargo.Code)
	}
	if detail.Cargo.ClientName != "Ana" || detail.Cargo.ShippingMark != "888ABC" {
		t.Fatalf("expected normalized cargo fields, got %+v", detail.Cargo)
	}
	if detail.BoxCount() != 5 {
		t.Fatalf("expected 5 boxes, got %d", detail.BoxCount())
	}

	first := detail.Articles[0]
	for index, box := range first.Boxes {
		if box.Number != index+1 || box.Total != 3 {
			t.Fatalf("unexpected box numbering %+v", box)
		}
	}

	reloaded, err := service.Get(context.Background(), detail.Cargo.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.BoxCount() != 5 || len(reloaded.Articles) != 2 {
		t.Fatalf("unexpected reloaded detail %+v", reloaded)
	}
}

func TestCreateCargoRejectsDuplicateCode(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil)
	request := CreateRequest{Code: "CG-1", Articles: []ArticleInput{{BoxCount: 1}}}

	if _, err := service.Create(context.Background(), request); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	_, err := service.Create(context.Background(), request)
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateCargoValidatesArticles(t *testing.T) {
	service := newTestService(t, openTestDatabase(t), nil)

	testCases := []struct {
		name    string
		request CreateRequest
		reason  string
	}{
		{name: "no articles", request: CreateRequest{}, reason: "missing_articles"},
		{name: "zero boxes", request: CreateRequest{Articles: []ArticleInput{{BoxCount: 0}}}, reason: "invalid_box_count"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), testCase.request)
			appErr, ok := apperr.As(err)
			if !ok || appErr.Kind() != apperr.KindValidation || appErr.Reason() != testCase.reason {
				t.Fatalf("expected validation %s, got %v", testCase.reason, err)
			}
		})
	}
}

func TestGetCargoNotFound(t *testing.T) {
	service := newTestService(t, openTestDatabase(t), nil)
	_, err := service.Get(context.Background(), 404)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCargoCascadesThroughCleanup(t *testing.T) {
	db := openTestDatabase(t)
	var cleaned []int64
	service := newTestService(t, db, func(tx *gorm.DB, boxIDs *gorm.DB) error {
		return tx.Model(&Box{}).Where("id IN (?)", boxIDs).Order("id").Pluck("id", &cleaned).Error
	})

	detail, err := service.Create(context.Background(), CreateRequest{
		Code:     "CG-DEL",
		Articles: []ArticleInput{{BoxCount: 2}, {BoxCount: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := service.Delete(context.Background(), detail.Cargo.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if len(cleaned) != 3 {
		t.Fatalf("expected cleanup for 3 boxes, got %v", cleaned)
	}

	var remaining int64
	db.Model(&Box{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("expected boxes removed, %d remain", remaining)
	}
	db.Model(&Article{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("expected articles removed, %d remain", remaining)
	}

	if err := service.Delete(context.Background(), detail.Cargo.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestLoadBoxContextJoinsOwners(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil)
	detail, err := service.Create(context.Background(), CreateRequest{
		Code:     "CG-CTX",
		Articles: []ArticleInput{{Reference: "R", BoxCount: 2}},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	box := detail.Articles[0].Boxes[1]
	boxContext, err := LoadBoxContext(context.Background(), db, box.ID)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if boxContext.Cargo.Code != "CG-CTX" || boxContext.Article.Reference != "R" || boxContext.Box.Number != 2 {
		t.Fatalf("unexpected context %+v", boxContext)
	}

	if _, err := LoadBoxContext(context.Background(), db, 9999); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	contexts, err := ListBoxContexts(context.Background(), db, detail.Cargo.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(contexts) != 2 || !strings.HasPrefix(contexts[0].Cargo.Code, "CG-") {
		t.Fatalf("unexpected contexts %+v", contexts)
	}
}

func TestDeleteCargoWithMoreBoxesThanBoundVariables(t *testing.T) {
	if testing.Short() {
		t.Skip("creates 40000 boxes")
	}
	db := openTestDatabase(t)
	var selected int64
	service := newTestService(t, db, func(tx *gorm.DB, boxIDs *gorm.DB) error {
		return tx.Model(&Box{}).Where("id IN (?)", boxIDs).Count(&selected).Error
	})

	articles := make([]ArticleInput, 0, 4)
	for index := 0; index < 4; index++ {
		articles = append(articles, ArticleInput{Reference: "BULK", BoxCount: maxBoxesPerRow})
	}
	detail, err := service.Create(context.Background(), CreateRequest{Code: "CG-BULK", Articles: articles})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if detail.BoxCount() != 4*maxBoxesPerRow {
		t.Fatalf("expected %d boxes, got %d", 4*maxBoxesPerRow, detail.BoxCount())
	}

	if err := service.Delete(context.Background(), detail.Cargo.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if selected != int64(4*maxBoxesPerRow) {
		t.Fatalf("expected cleanup to see %d boxes, saw %d", 4*maxBoxesPerRow, selected)
	}
	var remaining int64
	db.Model(&Box{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("expected boxes removed, %d remain", remaining)
	}
}

func TestDeleteCargoKeepsOtherCargos(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil)
	doomed, err := service.Create(context.Background(), CreateRequest{Code: "CG-A", Articles: []ArticleInput{{BoxCount: 2}}})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	kept, err := service.Create(context.Background(), CreateRequest{Code: "CG-B", Articles: []ArticleInput{{BoxCount: 3}}})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := service.Delete(context.Background(), doomed.Cargo.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	reloaded, err := service.Get(context.Background(), kept.Cargo.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.BoxCount() != 3 {
		t.Fatalf("expected untouched cargo to keep 3 boxes, got %d", reloaded.BoxCount())
	}
}

func TestGetByCode(t *testing.T) {
	service := newTestService(t, openTestDatabase(t), nil)
	created, err := service.Create(context.Background(), CreateRequest{Code: "888CGS-777", Articles: []ArticleInput{{BoxCount: 2}}})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	found, err := service.GetByCode(context.Background(), " 888CGS-777 ")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if found.Cargo.ID != created.Cargo.ID || found.BoxCount() != 2 {
		t.Fatalf("unexpected cargo %+v", found.Cargo)
	}

	testCases := []struct {
		name string
		code string
		kind apperr.Kind
	}{
		{name: "blank", code: "  ", kind: apperr.KindValidation},
		{name: "unknown", code: "888CGS-000", kind: apperr.KindNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := service.GetByCode(context.Background(), testCase.code); apperr.KindOf(err) != testCase.kind {
				t.Fatalf("expected %s, got %v", testCase.kind, err)
			}
		})
	}
}

func TestListForOwnerNewestFirstWithCounts(t *testing.T) {
	db := openTestDatabase(t)
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	db.Config.NowFunc = func() time.Time {
		current = current.Add(time.Minute)
		return current
	}

	for index, boxes := range []int{1, 2, 3} {
		request := CreateRequest{
			Code:        "CG-OWN-" + string(rune('A'+index)),
			OwnerUserID: 7,
			Articles:    []ArticleInput{{BoxCount: boxes}, {BoxCount: 1}},
		}
		if _, err := service.Create(context.Background(), request); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}
	if _, err := service.Create(context.Background(), CreateRequest{Code: "CG-OTHER", OwnerUserID: 8, Articles: []ArticleInput{{BoxCount: 1}}}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	summaries, err := service.ListForOwner(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 cargos, got %d", len(summaries))
	}
	if summaries[0].Cargo.Code != "CG-OWN-C" || summaries[0].Boxes != 4 || summaries[0].Articles != 2 {
		t.Fatalf("unexpected newest summary %+v", summaries[0])
	}
	if summaries[2].Cargo.Code != "CG-OWN-A" || summaries[2].Boxes != 2 {
		t.Fatalf("unexpected oldest summary %+v", summaries[2])
	}

	limited, err := service.ListForOwner(context.Background(), 7, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected one cargo with limit 1, got %d (%v)", len(limited), err)
	}
	empty, err := service.ListForOwner(context.Background(), 99, 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no cargos for unknown owner, got %d (%v)", len(empty), err)
	}
}

func TestOwnershipLookups(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil)
	detail, err := service.Create(context.Background(), CreateRequest{
		Code:        "CG-MINE",
		OwnerUserID: 5,
		Articles:    []ArticleInput{{BoxCount: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	articleID := detail.Articles[0].Article.ID
	boxID := detail.Articles[0].Boxes[0].ID

	testCases := []struct {
		name   string
		lookup func(ownerID int64) (Cargo, error)
		reason string
	}{
		{name: "cargo", lookup: func(ownerID int64) (Cargo, error) {
			return service.Owned(context.Background(), detail.Cargo.ID, ownerID)
		}, reason: "cargo_not_found"},
		{name: "article", lookup: func(ownerID int64) (Cargo, error) {
			return service.OwnedByArticle(context.Background(), articleID, ownerID)
		}, reason: "article_not_found"},
		{name: "box", lookup: func(ownerID int64) (Cargo, error) {
			return service.OwnedByBox(context.Background(), boxID, ownerID)
		}, reason: "box_not_found"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			record, err := testCase.lookup(5)
			if err != nil {
				t.Fatalf("unexpected owner lookup error: %v", err)
			}
			if record.Code != "CG-MINE" || record.OwnerUserID != 5 {
				t.Fatalf("unexpected cargo %+v", record)
			}
			_, err = testCase.lookup(6)
			appErr, ok := apperr.As(err)
			if !ok || appErr.Kind() != apperr.KindNotFound || appErr.Reason() != testCase.reason {
				t.Fatalf("expected %s for another owner, got %v", testCase.reason, err)
			}
		})
	}
}

func TestListArticleBoxContexts(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil)
	detail, err := service.Create(context.Background(), CreateRequest{
		Code:     "CG-ART",
		Articles: []ArticleInput{{Reference: "A", BoxCount: 1}, {Reference: "B", BoxCount: 3}},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	contexts, err := ListArticleBoxContexts(context.Background(), db, detail.Articles[1].Article.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(contexts) != 3 {
		t.Fatalf("expected 3 boxes, got %d", len(contexts))
	}
	for index, boxContext := range contexts {
		if boxContext.Box.Number != index+1 || boxContext.Article.Reference != "B" || boxContext.Cargo.Code != "CG-ART" {
			t.Fatalf("unexpected context %+v", boxContext)
		}
	}

	if _, err := ListArticleBoxContexts(context.Background(), db, 9999); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
