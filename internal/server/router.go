package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"github.com/MarcoPoloResearchLab/cargo888/internal/notify"
	"github.com/MarcoPoloResearchLab/cargo888/internal/qrrender"
	"github.com/MarcoPoloResearchLab/cargo888/internal/quotes"
	"github.com/MarcoPoloResearchLab/cargo888/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "cargo_user_id"
	accessTokenParam   = "access_token"
	defaultMaxBodySize = 10 << 20
	defaultHeartbeat   = 25 * time.Second
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingCargoService  = errors.New("cargo service dependency required")
	errMissingLabelsService = errors.New("labels service dependency required")
	errMissingQuotesService = errors.New("quotes service dependency required")
	errMissingRenderer      = errors.New("qr renderer dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager   TokenManager
	UsersService   *users.Service
	CargoService   *cargo.Service
	LabelsService  *labels.Service
	QuotesService  *quotes.Service
	Renderer       qrrender.Renderer
	Sheets         *qrrender.SheetBuilder
	Notifier       *notify.Notifier
	ScanFeed       *ScanFeed
	AllowedOrigins []string
	MaxBodyBytes   int64
	// ImageDefaults supplies width and margin when a request omits them. A zero
	// width means qrrender.DefaultWidth; a negative margin means qrrender.DefaultMargin.
	ImageDefaults     qrrender.Options
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.TokenManager == nil:
		return nil, errMissingTokenManager
	case deps.UsersService == nil:
		return nil, errMissingUsersService
	case deps.CargoService == nil:
		return nil, errMissingCargoService
	case deps.LabelsService == nil:
		return nil, errMissingLabelsService
	case deps.QuotesService == nil:
		return nil, errMissingQuotesService
	case deps.Renderer == nil:
		return nil, errMissingRenderer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sheets := deps.Sheets
	if sheets == nil {
		sheets = qrrender.NewSheetBuilder(deps.Renderer, logger)
	}
	scanFeed := deps.ScanFeed
	if scanFeed == nil {
		scanFeed = NewScanFeed()
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	imageDefaults := deps.ImageDefaults
	if imageDefaults.Width <= 0 {
		imageDefaults.Width = qrrender.DefaultWidth
	}
	if imageDefaults.Margin < 0 {
		imageDefaults.Margin = qrrender.DefaultMargin
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))
	router.Use(limitRequestBody(maxBody))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		users:         deps.UsersService,
		cargo:         deps.CargoService,
		labels:        deps.LabelsService,
		quotes:        deps.QuotesService,
		renderer:      deps.Renderer,
		sheets:        sheets,
		notifier:      deps.Notifier,
		scanFeed:      scanFeed,
		imageDefaults: imageDefaults,
		heartbeat:     heartbeat,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/qr/image/:id", handler.handleLabelImage)
	router.POST("/qr/validate", handler.optionalAuthorization, handler.handleValidateScan)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleCurrentUser)

	protected.POST("/cargas", handler.handleCreateCargo)
	protected.GET("/cargas", handler.handleListCargos)
	protected.GET("/cargas/codigo/:codigo", handler.handleGetCargoByCode)
	protected.GET("/cargas/:id", handler.handleGetCargo)
	protected.DELETE("/cargas/:id", handler.handleDeleteCargo)

	protected.POST("/qr/caja/:boxId/generate", handler.handleGenerateForBox)
	protected.POST("/qr/regenerate/:boxId", handler.handleRegenerateForBox)
	protected.POST("/qr/articulo/:articuloId/generate", handler.handleGenerateForArticle)
	protected.POST("/qr/carga/:cargaId/generate", handler.handleGenerateForCargo)
	protected.GET("/qr/carga/:cargaId", handler.handleListForCargo)
	protected.GET("/qr/carga/:cargaId/stats", handler.handleCargoStatistics)
	protected.GET("/qr/carga/:cargaId/pdf", handler.handleCargoSheet)
	protected.GET("/qr/carga/:cargaId/events", handler.handleScanEvents)
	protected.POST("/qr/:id/printed", handler.handleMarkPrinted)

	protected.POST("/quotes/maritime", handler.handleCreateQuote(quotes.ModeMaritime))
	protected.POST("/quotes/air", handler.handleCreateQuote(quotes.ModeAir))
	protected.GET("/quotes", handler.handleListQuotes)
	protected.GET("/quotes/:id", handler.handleGetQuote)
	protected.DELETE("/quotes/:id", handler.handleDeleteQuote)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	users         *users.Service
	cargo         *cargo.Service
	labels        *labels.Service
	quotes        *quotes.Service
	renderer      qrrender.Renderer
	sheets        *qrrender.SheetBuilder
	notifier      *notify.Notifier
	scanFeed      *ScanFeed
	imageDefaults qrrender.Options
	heartbeat     time.Duration
	logger        *zap.Logger
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// credentials forbid a literal "*", so echo the caller's origin instead
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func limitRequestBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logTokenFailure(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// optionalAuthorization records the caller when a valid token is present and
// lets anonymous requests through.
func (h *httpHandler) optionalAuthorization(c *gin.Context) {
	if token, ok := bearerToken(c); ok {
		subject, err := h.tokens.ValidateToken(token)
		if err != nil {
			h.logTokenFailure(err)
		} else {
			c.Set(userIDContextKey, subject)
		}
	}
	c.Next()
}

func (h *httpHandler) logTokenFailure(err error) {
	if errors.Is(err, jwt.ErrTokenExpired) {
		h.logger.Info("token validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("token validation failed", zap.Error(err))
}

// bearerToken reads the Authorization header. Event streams opened by browsers
// cannot set headers, so GET requests may pass the token as a query parameter.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	if header == "" && c.Request.Method == http.MethodGet {
		token := strings.TrimSpace(c.Query(accessTokenParam))
		return token, token != ""
	}
	return "", false
}
