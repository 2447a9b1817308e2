package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var kindMessages = map[apperr.Kind]string{
	apperr.KindNotFound:        "Recurso no encontrado",
	apperr.KindValidation:      "Datos inválidos",
	apperr.KindPayloadTooLarge: "El contenido excede la capacidad del código QR",
	apperr.KindConflict:        "El recurso ya existe",
	apperr.KindUnauthorized:    "Credenciales inválidas",
	apperr.KindStorage:         "Error interno del servidor",
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service failure onto its HTTP status. An empty
// message falls back to the generic text for the failure kind.
func (h *httpHandler) writeServiceError(c *gin.Context, err error, message string) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	reason, code := "internal_error", "internal_error"
	if appErr, ok := apperr.As(err); ok {
		reason, code = appErr.Reason(), appErr.Code()
	}
	if message == "" {
		message = kindMessages[kind]
	}
	if message == "" {
		message = kindMessages[apperr.KindStorage]
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   reason,
		"code":    code,
		"mensaje": message,
	})
}

func writeBadRequest(c *gin.Context, reason, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   reason,
		"code":    "http." + reason,
		"mensaje": message,
	})
}

// bindJSON decodes the request body and writes the failure response itself.
func bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   "body_too_large",
				"code":    "http.body_too_large",
				"mensaje": "La solicitud excede el tamaño permitido",
			})
			return false
		}
		writeBadRequest(c, "invalid_request", "Cuerpo de la solicitud inválido")
		return false
	}
	return true
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		writeBadRequest(c, "invalid_"+name, "Identificador inválido")
		return 0, false
	}
	return value, true
}

// currentUserID returns the numeric subject of the validated token.
func currentUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.GetString(userIDContextKey), 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

func requireUserID(c *gin.Context) (int64, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
	}
	return userID, ok
}
