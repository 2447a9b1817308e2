package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string              `json:"access_token"`
	ExpiresIn   int64               `json:"expires_in"`
	TokenType   string              `json:"token_type"`
	User        userResponsePayload `json:"user"`
}

type userResponsePayload struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	City         string    `json:"city"`
	Country      string    `json:"country"`
	ShippingMark string    `json:"shipping_mark"`
	CreatedAt    time.Time `json:"created_at"`
}

func newUserResponse(user users.User) userResponsePayload {
	return userResponsePayload{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Phone:        user.Phone,
		City:         user.City,
		Country:      user.Country,
		ShippingMark: user.ShippingMark,
		CreatedAt:    user.CreatedAt,
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if !bindJSON(c, &request) {
		return
	}
	user, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		Email:    request.Email,
		Password: request.Password,
		Name:     request.Name,
		Phone:    request.Phone,
		City:     request.City,
		Country:  request.Country,
	})
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if !bindJSON(c, &request) {
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeServiceError(c, err, "Correo o contraseña incorrectos")
		return
	}
	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos": newUserResponse(user)})
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strconv.FormatInt(user.ID, 10))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Int64("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        newUserResponse(user),
	})
}
