package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"github.com/MarcoPoloResearchLab/cargo888/internal/qrrender"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

type labelResponsePayload struct {
	ID            int64           `json:"id"`
	BoxID         int64           `json:"id_caja"`
	Code          string          `json:"codigo_qr"`
	Status        labels.Status   `json:"estado"`
	ScanCount     int             `json:"contador_escaneos"`
	ScannedBy     *string         `json:"escaneado_por,omitempty"`
	ScannedAt     *time.Time      `json:"fecha_escaneo,omitempty"`
	LastScannedBy *string         `json:"ultimo_escaneo_por,omitempty"`
	LastScannedAt *time.Time      `json:"fecha_ultimo_escaneo,omitempty"`
	PrintedBy     *string         `json:"impreso_por,omitempty"`
	PrintedAt     *time.Time      `json:"fecha_impresion,omitempty"`
	CreatedAt     time.Time       `json:"fecha_generacion"`
	ImageURL      string          `json:"url_imagen"`
	Payload       *labels.Payload `json:"datos_qr,omitempty"`
}

func newLabelResponse(label labels.Label, payload *labels.Payload) labelResponsePayload {
	return labelResponsePayload{
		ID:            label.ID,
		BoxID:         label.BoxID,
		Code:          label.Code,
		Status:        label.Status,
		ScanCount:     label.ScanCount,
		ScannedBy:     label.ScannedBy,
		ScannedAt:     label.ScannedAt,
		LastScannedBy: label.LastScannedBy,
		LastScannedAt: label.LastScannedAt,
		PrintedBy:     label.PrintedBy,
		PrintedAt:     label.PrintedAt,
		CreatedAt:     label.CreatedAt,
		ImageURL:      "/qr/image/" + strconv.FormatInt(label.ID, 10),
		Payload:       payload,
	}
}

type outcomeSummary struct {
	Total       int `json:"total"`
	Created     int `json:"creados"`
	Regenerated int `json:"regenerados"`
	Existing    int `json:"existentes"`
	Failed      int `json:"fallidos"`
}

func summarizeOutcomes(outcomes []labels.BoxOutcome) outcomeSummary {
	summary := outcomeSummary{Total: len(outcomes)}
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case labels.OutcomeCreated:
			summary.Created++
		case labels.OutcomeRegenerated:
			summary.Regenerated++
		case labels.OutcomeExisting:
			summary.Existing++
		case labels.OutcomeFailed:
			summary.Failed++
		}
	}
	return summary
}

func (h *httpHandler) handleLabelImage(c *gin.Context) {
	labelID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	options, ok := h.imageOptions(c)
	if !ok {
		return
	}
	label, err := h.labels.GetLabel(c.Request.Context(), labelID)
	if err != nil {
		h.writeServiceError(c, err, "Código QR no encontrado")
		return
	}
	image, err := h.renderer.Render(label.Code, options)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	c.Header("Cache-Control", immutableCacheControl)
	c.Data(http.StatusOK, "image/png", image)
}

// imageOptions reads width, margin and logo from the query string.
func (h *httpHandler) imageOptions(c *gin.Context) (qrrender.Options, bool) {
	options := qrrender.Options{Width: h.imageDefaults.Width, Margin: h.imageDefaults.Margin}
	if raw := c.Query("width"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(c, "invalid_width", "Ancho inválido")
			return qrrender.Options{}, false
		}
		options.Width = width
	}
	if raw := c.Query("margin"); raw != "" {
		margin, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(c, "invalid_margin", "Margen inválido")
			return qrrender.Options{}, false
		}
		options.Margin = margin
	}
	if raw := c.Query("logo"); raw != "" {
		withLogo, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(c, "invalid_logo", "Parámetro logo inválido")
			return qrrender.Options{}, false
		}
		options.WithoutLogo = !withLogo
	}
	return options, true
}

type validateRequestPayload struct {
	Code string `json:"codigoQR"`
}

func (h *httpHandler) handleValidateScan(c *gin.Context) {
	var request validateRequestPayload
	if !bindJSON(c, &request) {
		return
	}
	if strings.TrimSpace(request.Code) == "" {
		writeBadRequest(c, "missing_code", "El código QR es requerido")
		return
	}
	result, err := h.labels.ValidateScan(c.Request.Context(), request.Code, c.GetString(userIDContextKey))
	if err != nil {
		h.writeServiceError(c, err, "Código QR no encontrado")
		return
	}
	message := "QR validado correctamente"
	if result.AlreadyScanned {
		message = "Este QR ya fue escaneado anteriormente"
	}
	payload := result.Payload
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"yaEscaneado": result.AlreadyScanned,
		"mensaje":     message,
		"datos":       newLabelResponse(result.Label, &payload),
	})
}

func (h *httpHandler) handleGenerateForBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "boxId")
	if !ok || !h.ownedBox(c, boxID) {
		return
	}
	label, err := h.labels.GenerateForBox(c.Request.Context(), boxID)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "mensaje": "QR generado", "datos": newLabelResponse(label, nil)})
}

func (h *httpHandler) handleRegenerateForBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "boxId")
	if !ok || !h.ownedBox(c, boxID) {
		return
	}
	label, err := h.labels.RegenerateForBox(c.Request.Context(), boxID)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "mensaje": "QR regenerado", "datos": newLabelResponse(label, nil)})
}

func (h *httpHandler) handleGenerateForCargo(c *gin.Context) {
	cargoID, ok := parseIDParam(c, "cargaId")
	if !ok {
		return
	}
	force, ok := parseForce(c)
	if !ok {
		return
	}
	record, ok := h.ownedCargo(c, cargoID)
	if !ok {
		return
	}
	outcomes, err := h.labels.GenerateForCargo(c.Request.Context(), cargoID, force)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	h.respondWithOutcomes(c, record, outcomes)
}

func (h *httpHandler) handleGenerateForArticle(c *gin.Context) {
	articleID, ok := parseIDParam(c, "articuloId")
	if !ok {
		return
	}
	force, ok := parseForce(c)
	if !ok {
		return
	}
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	record, err := h.cargo.OwnedByArticle(ctx, articleID, userID)
	if err != nil {
		h.writeServiceError(c, err, "Artículo no encontrado")
		return
	}
	outcomes, err := h.labels.GenerateForArticle(ctx, articleID, force)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	h.respondWithOutcomes(c, record, outcomes)
}

func (h *httpHandler) respondWithOutcomes(c *gin.Context, record cargo.Cargo, outcomes []labels.BoxOutcome) {
	h.announceLabels(record, outcomes)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"datos": gin.H{
			"resumen":    summarizeOutcomes(outcomes),
			"resultados": outcomes,
		},
	})
}

func parseForce(c *gin.Context) (bool, bool) {
	raw := c.Query("force")
	if raw == "" {
		return false, true
	}
	force, err := strconv.ParseBool(raw)
	if err != nil {
		writeBadRequest(c, "invalid_force", "Parámetro force inválido")
		return false, false
	}
	return force, true
}

func (h *httpHandler) handleListForCargo(c *gin.Context) {
	cargoID, ok := parseIDParam(c, "cargaId")
	if !ok {
		return
	}
	if _, ok := h.ownedCargo(c, cargoID); !ok {
		return
	}
	views, err := h.labels.ListForCargo(c.Request.Context(), cargoID)
	if err != nil {
		h.writeServiceError(c, err, "Carga no encontrada")
		return
	}
	response := make([]labelResponsePayload, 0, len(views))
	for _, view := range views {
		payload := view.Payload
		response = append(response, newLabelResponse(view.Label, &payload))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": response})
}

func (h *httpHandler) handleCargoStatistics(c *gin.Context) {
	cargoID, ok := parseIDParam(c, "cargaId")
	if !ok {
		return
	}
	if _, ok := h.ownedCargo(c, cargoID); !ok {
		return
	}
	stats, err := h.labels.CargoStatistics(c.Request.Context(), cargoID)
	if err != nil {
		h.writeServiceError(c, err, "Carga no encontrada")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": stats})
}

// handleCargoSheet streams one PDF page per label. With marcar_impresos=true
// every included label is marked printed by the caller.
func (h *httpHandler) handleCargoSheet(c *gin.Context) {
	cargoID, ok := parseIDParam(c, "cargaId")
	if !ok {
		return
	}
	record, ok := h.ownedCargo(c, cargoID)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	views, err := h.labels.ListForCargo(ctx, cargoID)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}

	entries := make([]qrrender.SheetLabel, 0, len(views))
	for _, view := range views {
		entries = append(entries, qrrender.SheetLabel{
			Code:         view.Label.Code,
			ShippingMark: record.ShippingMark,
			CargoCode:    firstNonEmpty(view.Payload.CargoCode, record.Code),
			Description:  view.Payload.Description,
			Reference:    view.Payload.Reference,
			Destination:  view.Payload.Destination,
			Weight:       view.Payload.Weight,
			Volume:       view.Payload.Volume,
			BoxNumber:    view.Payload.BoxNumber,
			TotalBoxes:   view.Payload.TotalBoxes,
		})
	}

	var document bytes.Buffer
	if err := h.sheets.Write(&document, record.Code, entries); err != nil {
		h.writeServiceError(c, err, "La carga no tiene etiquetas generadas")
		return
	}

	if c.Query("marcar_impresos") == "true" {
		printedBy := c.GetString(userIDContextKey)
		for _, view := range views {
			if _, err := h.labels.MarkPrinted(ctx, view.Label.ID, printedBy); err != nil {
				h.logger.Warn("failed to mark label printed",
					zap.Int64("label_id", view.Label.ID),
					zap.Error(err))
			}
		}
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="etiquetas_%s.pdf"`, record.Code))
	c.Data(http.StatusOK, "application/pdf", document.Bytes())
}

func (h *httpHandler) handleMarkPrinted(c *gin.Context) {
	labelID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	existing, err := h.labels.GetLabel(ctx, labelID)
	if err != nil {
		h.writeServiceError(c, err, "Código QR no encontrado")
		return
	}
	if !h.ownedBox(c, existing.BoxID) {
		return
	}
	label, err := h.labels.MarkPrinted(ctx, labelID, c.GetString(userIDContextKey))
	if err != nil {
		h.writeServiceError(c, err, "Código QR no encontrado")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": newLabelResponse(label, nil)})
}
