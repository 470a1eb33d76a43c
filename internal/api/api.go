// api.go: Package api provides the HTTP surface of the remote scan
// repository: batch sync, image uploads, per-owner scan queries, and static
// serving of uploaded images and model binaries.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/maizeguard/leafscan-go/internal/api/auth"
	"github.com/maizeguard/leafscan-go/internal/conf"
	"github.com/maizeguard/leafscan-go/internal/datastore"
	"github.com/maizeguard/leafscan-go/internal/logging"
	"github.com/maizeguard/leafscan-go/internal/observability"
)

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings
	Auth     *auth.Service

	uploadsDir     string
	modelsDir      string
	scanCache      *cache.Cache // per-owner GET /scans cache
	metrics        *observability.Metrics
	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// New creates a Controller with all routes registered.
func New(settings *conf.Settings, ds datastore.Interface, authService *auth.Service, m *observability.Metrics) (*Controller, error) {
	publicDir := settings.Server.PublicDir
	uploadsDir := filepath.Join(publicDir, "uploads")
	modelsDir := filepath.Join(publicDir, "models")
	for _, dir := range []string{uploadsDir, modelsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating public directory %s: %w", dir, err)
		}
	}

	apiLogger := logging.ForService("api")
	if apiLogger == nil {
		apiLogger = slog.Default().With("service", "api")
	}

	// Route request logs to a rotating file when file logging is enabled
	var apiLoggerClose func() error
	if settings.Main.Log.Enabled {
		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		fileLogger, closeFunc, err := logging.NewFileLogger(logging.FilePathFor("api"), "api", level)
		if err != nil {
			apiLogger.Warn("Failed to initialize api file logger, keeping default output", "error", err)
		} else {
			apiLogger = fileLogger
			apiLoggerClose = closeFunc
		}
	}

	c := &Controller{
		Echo:           echo.New(),
		DS:             ds,
		Settings:       settings,
		Auth:           authService,
		uploadsDir:     uploadsDir,
		modelsDir:      modelsDir,
		scanCache:      cache.New(time.Minute, 5*time.Minute),
		metrics:        m,
		apiLogger:      apiLogger,
		apiLoggerClose: apiLoggerClose,
	}

	c.Echo.HideBanner = true
	c.Echo.Use(middleware.Recover())
	c.Echo.Use(middleware.CORS())

	c.initRoutes()
	return c, nil
}

// initRoutes registers all API routes.
func (c *Controller) initRoutes() {
	e := c.Echo

	e.GET("/", func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "LeafScan API is running...")
	})

	// Static serving of uploaded images and model binaries
	e.Static("/public", c.Settings.Server.PublicDir)

	if c.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	authMW := c.Auth.Middleware()

	g := e.Group("/api/scans")
	g.POST("/sync", c.SyncScans, authMW)
	g.POST("/upload-image", c.UploadImage)
	g.POST("/upload-image-web", c.UploadImageWeb)
	g.GET("", c.GetScans, authMW)
	g.POST("", c.CreateScan, authMW)
	g.GET("/count", c.CountScans, authMW)
	g.GET("/:localId", c.GetScan, authMW)
}

// Start runs the HTTP server until it fails or is shut down.
func (c *Controller) Start() error {
	addr := c.Settings.Server.Host + ":" + c.Settings.Server.Port
	c.apiLogger.Info("Starting sync endpoint server", "addr", addr)
	return c.Echo.Start(addr)
}

// Close releases the controller's file log writer.
func (c *Controller) Close() error {
	if c.apiLoggerClose != nil {
		return c.apiLoggerClose()
	}
	return nil
}

// maxUploadBytes returns the configured image upload limit in bytes.
func (c *Controller) maxUploadBytes() int64 {
	return c.Settings.Server.MaxUploadMB * 1024 * 1024
}
