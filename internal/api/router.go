// Package api wires together all HTTP routes for the shopdesk access-control service.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - Everything under /api/v1 requires a bearer token. Mutating requests
//     pass through the tenant isolation guard, and tenant-scoped reads pass
//     through the read access validator before any handler runs.
//
// Access requests name a foreign tenant in their body, so
// POST /api/v1/permission-requests is always on the guard allow-list in
// addition to whatever tenancy.guard_allowlist configures.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/api/auditlog"
	"github.com/shopdesk/shopdesk/internal/api/grants"
	"github.com/shopdesk/shopdesk/internal/api/tenants"
	"github.com/shopdesk/shopdesk/internal/audit"
	"github.com/shopdesk/shopdesk/internal/auth/oidc"
	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/db/repositories"
	"github.com/shopdesk/shopdesk/internal/jobs"
	"github.com/shopdesk/shopdesk/internal/middleware"
	"github.com/shopdesk/shopdesk/internal/safego"
	"github.com/shopdesk/shopdesk/internal/services"
	"github.com/shopdesk/shopdesk/internal/storage"
	"github.com/shopdesk/shopdesk/internal/validation"

	// Import storage backends to register them
	_ "github.com/shopdesk/shopdesk/internal/storage/azure"
	_ "github.com/shopdesk/shopdesk/internal/storage/gcs"
	_ "github.com/shopdesk/shopdesk/internal/storage/local"
	_ "github.com/shopdesk/shopdesk/internal/storage/s3"
)

// Version is reported by /version. Overridden at build time with -ldflags.
var Version = "0.1.0"

// permissionRequestsRoute bypasses the tenant guard regardless of configuration.
const permissionRequestsRoute = "POST /api/v1/permission-requests"

// guardAllowList returns the built-in allow-list entries plus configured ones.
func guardAllowList(configured []string) []string {
	return append([]string{permissionRequestsRoute}, configured...)
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	archiver     *jobs.AuditArchiver
	monitor      *jobs.PendingGrantMonitor
	shipper      *audit.MultiShipper
	rateLimiters []*middleware.RateLimiter
	guard        *access.Guard
	workflow     *services.PermissionWorkflow
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// ApplyReloadable applies settings changed in the config file at runtime.
func (bg *BackgroundServices) ApplyReloadable(r config.Reloadable) {
	bg.guard.SetAllowList(guardAllowList(r.GuardAllowlist))
	bg.workflow.SetDirectGrantsEnabled(r.DirectGrantsEnabled)
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.archiver != nil {
		bg.archiver.Stop()
	}
	if bg.monitor != nil {
		bg.monitor.Stop()
	}
	if bg.cancel != nil {
		bg.cancel()
	}
	bg.wg.Wait()
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// components is everything the routes need, built once from configuration.
type components struct {
	db       *sqlx.DB
	archive  storage.Storage // nil when archiving is disabled
	verifier middleware.TokenVerifier

	grantRepo  *repositories.GrantRepository
	tenantRepo *repositories.TenantRepository
	auditRepo  *repositories.AuditRepository

	digester  *audit.Digester
	shipper   *audit.MultiShipper
	recorder  *audit.Recorder
	guard     *access.Guard
	registry  *access.Registry
	validator *access.Validator
	workflow  *services.PermissionWorkflow

	general      *middleware.RateLimiter // nil when rate limiting is disabled
	grantLimiter middleware.Limiter      // nil when rate limiting is disabled
}

// NewRouter creates and configures the Gin router and starts the background
// jobs. rdb may be nil, in which case grant requests are limited per process.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	comp, err := newComponents(context.Background(), cfg, db, rdb)
	if err != nil {
		return nil, nil, err
	}

	router := gin.New()
	registerRoutes(router, cfg, comp)

	bg := &BackgroundServices{
		shipper:  comp.shipper,
		guard:    comp.guard,
		workflow: comp.workflow,
	}
	if comp.general != nil {
		bg.rateLimiters = append(bg.rateLimiters, comp.general)
	}
	if rl, ok := comp.grantLimiter.(*middleware.RateLimiter); ok {
		bg.rateLimiters = append(bg.rateLimiters, rl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bg.cancel = cancel

	bg.monitor = jobs.NewPendingGrantMonitor(comp.grantRepo, cfg.Telemetry.PendingGrantInterval)
	bg.start("pending-grant-monitor", func() { bg.monitor.Start(ctx) })

	if comp.archive != nil {
		signer, err := archiveSigner(&cfg.Audit.Archive)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		bg.archiver = jobs.NewAuditArchiver(comp.auditRepo, comp.archive, comp.digester, signer, &cfg.Audit.Archive)
		bg.start("audit-archiver", func() { bg.archiver.Start(ctx) })
		slog.Info("audit archiver started", "backend", cfg.Audit.Archive.Backend, "signed", signer != nil)
	}

	return router, bg, nil
}

func (bg *BackgroundServices) start(name string, fn func()) {
	bg.wg.Add(1)
	safego.Go(name, func() {
		defer bg.wg.Done()
		fn()
	})
}

func newComponents(ctx context.Context, cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*components, error) {
	comp := &components{
		db:         db,
		grantRepo:  repositories.NewGrantRepository(db),
		tenantRepo: repositories.NewTenantRepository(db),
		auditRepo:  repositories.NewAuditRepository(db),
	}

	var err error
	comp.digester, err = audit.NewDigester([]byte(cfg.Audit.DigestKey))
	if err != nil {
		return nil, fmt.Errorf("audit digester: %w", err)
	}
	comp.shipper, err = audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, fmt.Errorf("audit shippers: %w", err)
	}
	comp.recorder = audit.NewRecorder(comp.auditRepo, comp.digester, comp.shipper)

	comp.guard = access.NewGuard(cfg.Tenancy.TenantField, cfg.Tenancy.TenantFieldAliases,
		guardAllowList(cfg.Tenancy.GuardAllowlist))
	comp.registry = access.NewRegistry(comp.grantRepo)
	comp.validator = access.NewValidator(comp.registry)

	tx := repositories.NewTxRunner(db, cfg.Database.TxTimeout)
	comp.workflow = services.NewPermissionWorkflow(tx, comp.grantRepo, comp.tenantRepo, comp.recorder)
	comp.workflow.SetDirectGrantsEnabled(cfg.Tenancy.DirectGrantsEnabled)

	if cfg.Auth.OIDC.Enabled {
		v, err := oidc.NewVerifier(ctx, &cfg.Auth.OIDC)
		if err != nil {
			return nil, fmt.Errorf("oidc verifier: %w", err)
		}
		comp.verifier = v
		slog.Info("OIDC bearer tokens enabled", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	if cfg.Security.RateLimiting.Enabled {
		comp.general = middleware.NewRateLimiter(middleware.RateLimitConfig{
			Requests:  cfg.Security.RateLimiting.RequestsPerMinute,
			Period:    time.Minute,
			BurstSize: cfg.Security.RateLimiting.Burst,
		})
		perHour := cfg.Security.RateLimiting.GrantRequestsPerHour
		if rdb != nil {
			comp.grantLimiter = middleware.NewRedisLimiter(rdb, "shopdesk:grant-requests:", perHour)
		} else {
			comp.grantLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
				Requests:  perHour,
				Period:    time.Hour,
				BurstSize: perHour,
			})
		}
	}

	if cfg.Audit.Archive.Enabled {
		comp.archive, err = storage.NewStorage(&cfg.Audit.Archive)
		if err != nil {
			return nil, fmt.Errorf("archive storage: %w", err)
		}
		slog.Info("initialized archive storage backend", "backend", cfg.Audit.Archive.Backend)
	}

	return comp, nil
}

func archiveSigner(cfg *config.ArchiveConfig) (*validation.ArchiveSigner, error) {
	armored, err := cfg.ArmoredSigningKey()
	if err != nil {
		return nil, err
	}
	if armored == "" {
		return nil, nil
	}
	signer, err := validation.NewArchiveSigner(armored, cfg.SigningPassphrase)
	if err != nil {
		return nil, fmt.Errorf("archive signing key: %w", err)
	}
	return signer, nil
}

func registerRoutes(router *gin.Engine, cfg *config.Config, comp *components) {
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(comp.db))
	router.GET("/ready", readinessHandler(comp.db, comp.archive))
	router.GET("/version", versionHandler())

	grantHandlers := grants.NewHandlers(comp.workflow, comp.registry)
	auditHandler := auditlog.NewHandler(comp.auditRepo)
	tenantHandler := tenants.NewHandler(comp.tenantRepo)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(comp.verifier))
	if comp.general != nil {
		v1.Use(middleware.RateLimitMiddleware(comp.general))
	}
	v1.Use(middleware.TenantGuardMiddleware(comp.guard, comp.recorder, comp.db))

	grantLimit := func(c *gin.Context) { c.Next() }
	if comp.grantLimiter != nil {
		grantLimit = middleware.RateLimitMiddleware(comp.grantLimiter)
	}

	requests := v1.Group("/permission-requests")
	{
		requests.POST("", grantLimit, grantHandlers.CreateRequest)
		requests.GET("", grantHandlers.ListRequests)
		requests.GET("/:id", grantHandlers.GetRequest)
		requests.POST("/:id/approve", grantHandlers.Approve)
		requests.POST("/:id/deny", grantHandlers.Deny)
		requests.POST("/:id/revoke", grantHandlers.Revoke)
	}
	v1.POST("/direct-grants", grantLimit, grantHandlers.DirectGrant)
	v1.GET("/accessible-tenants", grantHandlers.AccessibleTenants)
	v1.GET("/audit-events", auditHandler.ListEvents)

	scoped := v1.Group("")
	scoped.Use(middleware.RequireTenantReadAccess(comp.validator, cfg.Tenancy.ActingTenantHeader))
	scoped.GET("/tenants/:tenantId", tenantHandler.GetTenant)
}

// healthCheckHandler returns the liveness status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the archive backend
// when archiving is enabled.
func readinessHandler(db *sqlx.DB, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Exists() on a known-absent path exercises credentials and network
		// without creating any state.
		if archive != nil {
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. The output format
// follows the global slog handler configured by telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", c.GetString(middleware.RequestIDKey)),
		slog.String("user_agent", c.Request.UserAgent()),
	}
	if p, ok := middleware.GetPrincipal(c); ok {
		attrs = append(attrs, slog.String("principal_id", p.ID), slog.String("role", string(p.Role)))
	}
	slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID, "+cfg.Tenancy.ActingTenantHeader)
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
