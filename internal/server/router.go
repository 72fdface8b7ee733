package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/admins"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/appversion"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/artifacts"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/auth"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/metrics"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingVerifier   = errors.New("credential verifier dependency required")
	errMissingAdminStore = errors.New("admin store dependency required")
	errMissingUsers      = errors.New("users service dependency required")
	errMissingAppVersion = errors.New("app version service dependency required")
	errMissingArtifacts  = errors.New("artifacts service dependency required")
)

// AdminStore is the Authorization Store as seen by the HTTP layer.
type AdminStore interface {
	IsAuthorized(email string) bool
	ReplaceAll(ctx context.Context, emails []string, presentedSecret string) (*admins.AllowList, error)
}

// Dependencies wires the HTTP surface to its services.
type Dependencies struct {
	Verifier      auth.Verifier
	Admins        AdminStore
	Users         *users.Service
	AppVersion    *appversion.Service
	Artifacts     *artifacts.Service
	Metrics       *metrics.Metrics
	Health        func(ctx context.Context) error
	PublicBaseURL string
	StaticDir     string
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the public and admin API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Admins == nil {
		return nil, errMissingAdminStore
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.AppVersion == nil {
		return nil, errMissingAppVersion
	}
	if deps.Artifacts == nil {
		return nil, errMissingArtifacts
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}

	handler := &httpHandler{
		verifier:      deps.Verifier,
		admins:        deps.Admins,
		users:         deps.Users,
		appVersion:    deps.AppVersion,
		artifacts:     deps.Artifacts,
		metrics:       deps.Metrics,
		health:        deps.Health,
		publicBaseURL: strings.TrimRight(deps.PublicBaseURL, "/"),
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/api/app-version", handler.handleAppVersion)
	router.GET("/api/user/:uid/status", handler.handleUserStatus)
	router.GET(artifacts.APKDownloadPath, handler.handleDownloadAPK)
	router.GET("/api/app-info", handler.handleAppInfo)
	router.GET("/api/content/version", handler.handleContentVersion)
	router.GET("/api/content/m3u", handler.handleDownloadContent)
	router.GET("/api/content/info", handler.handleContentInfo)

	router.POST("/api/admin/set-admins", handler.handleSetAdmins)

	protected := router.Group("/api/admin")
	protected.Use(handler.requireAdmin)
	protected.GET("/users", handler.handleListUsers)
	protected.PUT("/users/:uid/block", handler.handleBlockUser)
	protected.POST("/app-update", handler.handleAppUpdate)
	protected.POST("/upload-apk", handler.handleUploadAPK)
	protected.POST("/upload-content", handler.handleUploadContent)
	protected.GET("/stats", handler.handleStats)

	router.NoRoute(staticFallback(deps.StaticDir))

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

// staticFallback serves the admin UI for unmatched GET requests outside /api.
func staticFallback(staticDir string) gin.HandlerFunc {
	var fileServer http.Handler
	if dir := strings.TrimSpace(staticDir); dir != "" {
		fileServer = http.FileServer(http.Dir(dir))
	}
	return func(c *gin.Context) {
		method := c.Request.Method
		if fileServer != nil && (method == http.MethodGet || method == http.MethodHead) && !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			fileServer.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

type httpHandler struct {
	verifier      auth.Verifier
	admins        AdminStore
	users         *users.Service
	appVersion    *appversion.Service
	artifacts     *artifacts.Service
	metrics       *metrics.Metrics
	health        func(ctx context.Context) error
	publicBaseURL string
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// downloadURL prefers the configured public base URL and otherwise derives
// one from the request.
func (h *httpHandler) downloadURL(c *gin.Context) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + artifacts.APKDownloadPath
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := strings.TrimSpace(strings.Split(c.GetHeader("X-Forwarded-Proto"), ",")[0]); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + c.Request.Host + artifacts.APKDownloadPath
}
