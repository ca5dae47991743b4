package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/auth"
)

const errStoreMissing = "storage is not configured"

// Handler wires the /api routes to the auth service.
type Handler struct {
	auth   *auth.Service
	logger *zap.Logger
}

// NewHandler constructs a Handler. A nil auth service means no store was configured;
// every /api route then answers 500.
func NewHandler(authService *auth.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auth: authService, logger: logger}
}

// NewRouter builds the gin engine with CORS, recovery and request logging installed.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(corsMiddleware(), requestLogger(h.logger), recovery(h.logger))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(h.requireStore())
	api.POST("/auth/register", h.registerUser)
	api.POST("/auth/login", h.loginUser)

	syncRoutes := api.Group("/sync")
	syncRoutes.Use(h.auth.Middleware())
	syncRoutes.POST("/push", h.pushData)
	syncRoutes.GET("/pull", h.pullData)

	router.NoRoute(h.notFound)
}

// notFound keeps the missing-store answer for unknown /api paths.
func (h *Handler) notFound(c *gin.Context) {
	if h.auth == nil && strings.HasPrefix(c.Request.URL.Path, "/api/") {
		respondError(c, http.StatusInternalServerError, errStoreMissing)
		return
	}
	respondError(c, http.StatusNotFound, "not found")
}

func (h *Handler) requireStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.auth == nil {
			respondError(c, http.StatusInternalServerError, errStoreMissing)
			c.Abort()
			return
		}
		c.Next()
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.auth.Register(c.Request.Context(), req.Username, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("user registered", zap.String("username", req.Username))
	respondOK(c, nil)
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondOK(c, gin.H{"token": session.Token})
}

func (h *Handler) pushData(c *gin.Context) {
	username, ok := auth.UsernameFromContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authorization required")
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "read request body failed")
		return
	}
	if !json.Valid(body) {
		h.fail(c, apperr.Data("sync.push", "request body must be valid JSON", nil))
		return
	}
	if err := h.auth.SaveData(c.Request.Context(), username, body); err != nil {
		h.fail(c, err)
		return
	}
	respondOK(c, nil)
}

func (h *Handler) pullData(c *gin.Context) {
	username, ok := auth.UsernameFromContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authorization required")
		return
	}
	blob, err := h.auth.LoadData(c.Request.Context(), username)
	if err != nil {
		h.fail(c, err)
		return
	}
	if blob == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": nil})
		return
	}
	// Stored bytes are spliced in untouched so pull returns exactly what was pushed.
	out := make([]byte, 0, len(blob)+28)
	out = append(out, `{"success":true,"data":`...)
	out = append(out, blob...)
	out = append(out, '}')
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

// fail maps classified errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindAuth:
		status = apperr.StatusCode(err, http.StatusUnauthorized)
	case apperr.KindData:
		status = http.StatusBadRequest
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	respondError(c, status, apperr.Message(err))
}

func respondOK(c *gin.Context, data any) {
	if data == nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// corsMiddleware answers preflight requests before routing.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			header.Set("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		msg := fmt.Sprint(recovered)
		logger.Error("handler panic", zap.String("path", c.Request.URL.Path), zap.String("panic", msg))
		respondError(c, http.StatusInternalServerError, msg)
		c.Abort()
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
