package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/cargo888/internal/notify"
	"github.com/MarcoPoloResearchLab/cargo888/internal/quotes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleCreateQuote(mode quotes.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		var input quotes.Input
		if !bindJSON(c, &input) {
			return
		}
		ctx := c.Request.Context()
		record, result, err := h.quotes.Create(ctx, userID, mode, input)
		if err != nil {
			h.writeServiceError(c, err, "")
			return
		}

		if c.Query("notificar") == "true" {
			if user, err := h.users.Get(ctx, userID); err != nil {
				h.logger.Warn("quote notification skipped", zap.Int64("user_id", userID), zap.Error(err))
			} else {
				h.notifier.Dispatch("quote.issued", notify.QuoteIssued(
					user.Email,
					string(result.Mode),
					result.Destination,
					result.TotalUSD.StringFixed(2),
					result.TotalCOP.StringFixed(0)))
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"datos": gin.H{
				"id":         record.ID,
				"cotizacion": result,
			},
		})
	}
}

func (h *httpHandler) handleListQuotes(c *gin.Context) {
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
	records, err := h.quotes.List(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": records})
}

func (h *httpHandler) handleGetQuote(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	quoteID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	record, result, err := h.quotes.Get(c.Request.Context(), userID, quoteID)
	if err != nil {
		h.writeServiceError(c, err, "Cotización no encontrada")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": gin.H{"id": record.ID, "fecha": record.CreatedAt, "cotizacion": result}})
}

func (h *httpHandler) handleDeleteQuote(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	quoteID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.quotes.Delete(c.Request.Context(), userID, quoteID); err != nil {
		h.writeServiceError(c, err, "Cotización no encontrada")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "mensaje": "Cotización eliminada"})
}
