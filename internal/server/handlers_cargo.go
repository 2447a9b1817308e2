package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"github.com/MarcoPoloResearchLab/cargo888/internal/notify"
	"github.com/gin-gonic/gin"
)

type articleRequestPayload struct {
	Reference     string   `json:"ref_art"`
	DescriptionES string   `json:"descripcion_espanol"`
	DescriptionZH string   `json:"descripcion_chino"`
	BoxCount      int      `json:"cantidad_cajas"`
	UnitsPerBox   int      `json:"unidades_por_caja"`
	GrossWeight   *float64 `json:"peso_bruto"`
	CBM           *float64 `json:"cbm"`
	ImageURL      string   `json:"imagen_url"`
}

type createCargoRequestPayload struct {
	Code               string                  `json:"codigo_carga"`
	ClientName         string                  `json:"nombre_cliente"`
	ClientEmail        string                  `json:"correo_cliente"`
	ClientPhone        string                  `json:"telefono_cliente"`
	ShippingMark       string                  `json:"shipping_mark"`
	DestinationCity    string                  `json:"ciudad_destino"`
	DestinationAddress string                  `json:"direccion_destino"`
	Articles           []articleRequestPayload `json:"articulos"`
	GenerateLabels     bool                    `json:"generar_qr"`
}

type boxResponsePayload struct {
	ID          int64    `json:"id"`
	Number      int      `json:"numero_caja"`
	Total       int      `json:"total_cajas"`
	Description *string  `json:"descripcion,omitempty"`
	Reference   *string  `json:"ref_art,omitempty"`
	GrossWeight *float64 `json:"peso,omitempty"`
	CBM         *float64 `json:"cbm,omitempty"`
	Units       int      `json:"unidades"`
}

type articleResponsePayload struct {
	ID            int64                `json:"id"`
	Reference     string               `json:"ref_art"`
	DescriptionES string               `json:"descripcion_espanol"`
	DescriptionZH string               `json:"descripcion_chino"`
	BoxCount      int                  `json:"cantidad_cajas"`
	UnitsPerBox   int                  `json:"unidades_por_caja"`
	GrossWeight   *float64             `json:"peso_bruto,omitempty"`
	CBM           *float64             `json:"cbm,omitempty"`
	ImageURL      string               `json:"imagen_url,omitempty"`
	Boxes         []boxResponsePayload `json:"cajas"`
}

type cargoResponsePayload struct {
	ID                 int64                    `json:"id"`
	Code               string                   `json:"codigo_carga"`
	ClientName         string                   `json:"nombre_cliente"`
	ClientEmail        string                   `json:"correo_cliente"`
	ClientPhone        string                   `json:"telefono_cliente"`
	ShippingMark       string                   `json:"shipping_mark"`
	DestinationCity    string                   `json:"ciudad_destino"`
	DestinationAddress string                   `json:"direccion_destino"`
	TotalBoxes         int                      `json:"total_cajas"`
	CreatedAt          time.Time                `json:"fecha_creacion"`
	Articles           []articleResponsePayload `json:"articulos"`
}

type cargoSummaryPayload struct {
	ID              int64     `json:"id"`
	Code            string    `json:"codigo_carga"`
	ClientName      string    `json:"nombre_cliente"`
	ShippingMark    string    `json:"shipping_mark"`
	DestinationCity string    `json:"ciudad_destino"`
	TotalArticles   int64     `json:"total_articulos"`
	TotalBoxes      int64     `json:"total_cajas"`
	CreatedAt       time.Time `json:"fecha_creacion"`
}

func newCargoResponse(detail cargo.CargoDetail) cargoResponsePayload {
	response := cargoResponsePayload{
		ID:                 detail.Cargo.ID,
		Code:               detail.Cargo.Code,
		ClientName:         detail.Cargo.ClientName,
		ClientEmail:        detail.Cargo.ClientEmail,
		ClientPhone:        detail.Cargo.ClientPhone,
		ShippingMark:       detail.Cargo.ShippingMark,
		DestinationCity:    detail.Cargo.DestinationCity,
		DestinationAddress: detail.Cargo.DestinationAddress,
		TotalBoxes:         detail.BoxCount(),
		CreatedAt:          detail.Cargo.CreatedAt,
		Articles:           make([]articleResponsePayload, 0, len(detail.Articles)),
	}
	for _, article := range detail.Articles {
		entry := articleResponsePayload{
			ID:            article.Article.ID,
			Reference:     article.Article.Reference,
			DescriptionES: article.Article.DescriptionES,
			DescriptionZH: article.Article.DescriptionZH,
			BoxCount:      article.Article.BoxCount,
			UnitsPerBox:   article.Article.UnitsPerBox,
			GrossWeight:   article.Article.GrossWeight,
			CBM:           article.Article.CBM,
			ImageURL:      article.Article.ImageURL,
			Boxes:         make([]boxResponsePayload, 0, len(article.Boxes)),
		}
		for _, box := range article.Boxes {
			entry.Boxes = append(entry.Boxes, boxResponsePayload{
				ID:          box.ID,
				Number:      box.Number,
				Total:       box.Total,
				Description: box.Description,
				Reference:   box.Reference,
				GrossWeight: box.GrossWeight,
				CBM:         box.CBM,
				Units:       box.Units,
			})
		}
		response.Articles = append(response.Articles, entry)
	}
	return response
}

func (h *httpHandler) handleCreateCargo(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var request createCargoRequestPayload
	if !bindJSON(c, &request) {
		return
	}
	ctx := c.Request.Context()

	owner, err := h.users.Get(ctx, userID)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	createRequest := cargo.CreateRequest{
		Code:               request.Code,
		OwnerUserID:        owner.ID,
		ClientName:         firstNonEmpty(request.ClientName, owner.Name),
		ClientEmail:        firstNonEmpty(request.ClientEmail, owner.Email),
		ClientPhone:        firstNonEmpty(request.ClientPhone, owner.Phone),
		ShippingMark:       firstNonEmpty(request.ShippingMark, owner.ShippingMark),
		DestinationCity:    firstNonEmpty(request.DestinationCity, owner.City),
		DestinationAddress: request.DestinationAddress,
		Articles:           make([]cargo.ArticleInput, 0, len(request.Articles)),
	}
	for _, article := range request.Articles {
		createRequest.Articles = append(createRequest.Articles, cargo.ArticleInput{
			Reference:     article.Reference,
			DescriptionES: article.DescriptionES,
			DescriptionZH: article.DescriptionZH,
			BoxCount:      article.BoxCount,
			UnitsPerBox:   article.UnitsPerBox,
			GrossWeight:   article.GrossWeight,
			CBM:           article.CBM,
			ImageURL:      article.ImageURL,
		})
	}

	detail, err := h.cargo.Create(ctx, createRequest)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	h.notifier.Dispatch("cargo.registered", notify.CargoRegistered(
		detail.Cargo.ClientEmail,
		detail.Cargo.ClientPhone,
		detail.Cargo.ClientName,
		detail.Cargo.Code,
		detail.BoxCount()))

	body := gin.H{
		"success": true,
		"mensaje": "Carga registrada correctamente",
		"datos":   newCargoResponse(detail),
	}
	if request.GenerateLabels {
		outcomes, err := h.labels.GenerateForCargo(ctx, detail.Cargo.ID, false)
		if err != nil {
			h.writeServiceError(c, err, "")
			return
		}
		h.announceLabels(detail.Cargo, outcomes)
		body["qr"] = summarizeOutcomes(outcomes)
	}
	c.JSON(http.StatusCreated, body)
}

func (h *httpHandler) handleListCargos(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(c, "invalid_limit", "Límite inválido")
			return
		}
		limit = parsed
	}
	summaries, err := h.cargo.ListForOwner(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	response := make([]cargoSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		response = append(response, cargoSummaryPayload{
			ID:              summary.Cargo.ID,
			Code:            summary.Cargo.Code,
			ClientName:      summary.Cargo.ClientName,
			ShippingMark:    summary.Cargo.ShippingMark,
			DestinationCity: summary.Cargo.DestinationCity,
			TotalArticles:   summary.Articles,
			TotalBoxes:      summary.Boxes,
			CreatedAt:       summary.Cargo.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": response})
}

func (h *httpHandler) handleGetCargo(c *gin.Context) {
	cargoID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if _, ok := h.ownedCargo(c, cargoID); !ok {
		return
	}
	detail, err := h.cargo.Get(c.Request.Context(), cargoID)
	if err != nil {
		h.writeServiceError(c, err, "Carga no encontrada")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": newCargoResponse(detail)})
}

func (h *httpHandler) handleGetCargoByCode(c *gin.Context) {
	detail, err := h.cargo.GetByCode(c.Request.Context(), c.Param("codigo"))
	if err != nil {
		h.writeServiceError(c, err, "Carga no encontrada")
		return
	}
	if _, ok := h.ownedCargo(c, detail.Cargo.ID); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": newCargoResponse(detail)})
}

func (h *httpHandler) handleDeleteCargo(c *gin.Context) {
	cargoID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if _, ok := h.ownedCargo(c, cargoID); !ok {
		return
	}
	if err := h.cargo.Delete(c.Request.Context(), cargoID); err != nil {
		h.writeServiceError(c, err, "Carga no encontrada")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "mensaje": "Carga eliminada"})
}

// announceLabels notifies the cargo's client once new labels exist.
func (h *httpHandler) announceLabels(record cargo.Cargo, outcomes []labels.BoxOutcome) {
	summary := summarizeOutcomes(outcomes)
	if summary.Created+summary.Regenerated == 0 {
		return
	}
	h.notifier.Dispatch("labels.ready", notify.LabelsReady(
		record.ClientEmail,
		record.ClientPhone,
		record.Code,
		summary.Created+summary.Regenerated))
}

// ownedCargo loads a cargo of the calling user and reports whether the
// request may continue. Cargos of other users answer as not found.
func (h *httpHandler) ownedCargo(c *gin.Context, cargoID int64) (cargo.Cargo, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return cargo.Cargo{}, false
	}
	record, err := h.cargo.Owned(c.Request.Context(), cargoID, userID)
	if err != nil {
		h.writeServiceError(c, err, "Carga no encontrada")
		return cargo.Cargo{}, false
	}
	return record, true
}

// ownedBox reports whether boxID belongs to a cargo of the calling user.
func (h *httpHandler) ownedBox(c *gin.Context, boxID int64) bool {
	userID, ok := requireUserID(c)
	if !ok {
		return false
	}
	if _, err := h.cargo.OwnedByBox(c.Request.Context(), boxID, userID); err != nil {
		h.writeServiceError(c, err, "Caja no encontrada")
		return false
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
