package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/schooltrack/demerit-api/api/swagger"
	"github.com/schooltrack/demerit-api/internal/handler"
	"github.com/schooltrack/demerit-api/internal/middleware"
	"github.com/schooltrack/demerit-api/internal/models"
	"github.com/schooltrack/demerit-api/internal/repository"
	"github.com/schooltrack/demerit-api/internal/service"
	"github.com/schooltrack/demerit-api/pkg/cache"
	"github.com/schooltrack/demerit-api/pkg/config"
	"github.com/schooltrack/demerit-api/pkg/database"
	"github.com/schooltrack/demerit-api/pkg/logger"
	corsmiddleware "github.com/schooltrack/demerit-api/pkg/middleware/cors"
	reqidmiddleware "github.com/schooltrack/demerit-api/pkg/middleware/requestid"
	"github.com/schooltrack/demerit-api/pkg/storage"
)

// @title Demerit Tracker API
// @version 1.0.0
// @description School demerit tracking with role-gated access, parent-student links and aggregation analytics
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, analytics cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	linkRepo := repository.NewLinkRepository(db)
	demeritRepo := repository.NewDemeritRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Analytics.CacheTTL, logr, cfg.Analytics.CacheEnabled && redisClient != nil)
	gate := service.NewAccessGate(linkRepo, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "demerit-api",
		Audience:           []string{"demerit-api"},
	})
	userSvc := service.NewUserService(userRepo, linkRepo, gate, validate, logr)
	demeritSvc := service.NewDemeritService(demeritRepo, userRepo, userRepo, gate, cacheSvc, metrics, validate, logr)
	linkSvc := service.NewLinkService(linkRepo, userRepo, demeritRepo, userRepo, gate, logr)
	analyticsSvc := service.NewAnalyticsService(demeritRepo, userRepo, cacheSvc, metrics, gate, logr)
	importSvc := service.NewImportService(userRepo, demeritRepo, demeritSvc, gate, metrics, service.ImportConfig{
		MaxRows:            cfg.Import.MaxRows,
		GeneratedPwdLength: cfg.Import.GeneratedPwdLength,
	}, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reportSvc *service.ReportService
	if cfg.Reports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("report storage init failed", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		reportSvc = service.NewReportService(reportRepo, demeritRepo, gate, store, signer, metrics, service.ReportConfig{
			Workers:         cfg.Reports.WorkerConcurrency,
			Retries:         cfg.Reports.WorkerRetries,
			CleanupInterval: cfg.Reports.CleanupInterval,
			FileTTL:         cfg.Reports.SignedURLTTL,
		}, logr)
		reportSvc.Start(ctx)
		defer reportSvc.Stop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:      handler.NewAuthHandler(authSvc),
		users:     handler.NewUserHandler(userSvc),
		demerits:  handler.NewDemeritHandler(demeritSvc),
		links:     handler.NewLinkHandler(linkSvc),
		analytics: handler.NewAnalyticsHandler(analyticsSvc),
		imports:   handler.NewImportHandler(importSvc),
		reports:   handler.NewReportHandler(reportSvc),
		authSvc:   authSvc,
		userRepo:  userRepo,
		enableRpt: cfg.Reports.Enabled,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown incomplete", zap.Error(err))
	}
}

type routeDeps struct {
	auth      *handler.AuthHandler
	users     *handler.UserHandler
	demerits  *handler.DemeritHandler
	links     *handler.LinkHandler
	analytics *handler.AnalyticsHandler
	imports   *handler.ImportHandler
	reports   *handler.ReportHandler
	authSvc   *service.AuthService
	userRepo  *repository.UserRepository
	enableRpt bool
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	authn := middleware.JWT(deps.authSvc)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	staffOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)

	auth := api.Group("/auth")
	{
		auth.POST("/login", deps.auth.Login)
		auth.POST("/register", deps.auth.Register)
		auth.POST("/refresh", deps.auth.Refresh)
		auth.POST("/logout", authn, deps.auth.Logout)
		auth.PUT("/password", authn, deps.auth.ChangePassword)
	}

	users := api.Group("/users", authn)
	{
		users.GET("", adminOnly, deps.users.List)
		users.GET("/directory", adminOnly, deps.users.Directory)
		users.GET("/:id", middleware.RBAC("ADMIN", "TEACHER", "SELF"), deps.users.Get)
		users.POST("", adminOnly, middleware.Audit(deps.userRepo, models.AuditActionUserCreate, "users"), deps.users.Create)
		users.PUT("/:id", adminOnly, deps.users.Update)
		users.PUT("/:id/role", adminOnly, deps.users.SetRole)
	}

	api.GET("/students", authn, staffOnly, deps.users.Students)

	students := api.Group("/students", authn)
	{
		students.GET("/:id/demerits", deps.demerits.StudentDemerits)
		students.GET("/:id/summary", deps.demerits.StudentSummary)
	}

	demerits := api.Group("/demerits", authn)
	{
		demerits.GET("", deps.demerits.List)
		demerits.POST("", staffOnly, deps.demerits.Create)
	}

	api.GET("/categories", authn, deps.demerits.Categories)
	api.POST("/categories", authn, adminOnly, deps.demerits.CreateCategory)

	links := api.Group("/links", authn)
	{
		links.GET("", adminOnly, deps.links.ListAll)
		links.POST("", adminOnly, deps.links.Add)
		links.DELETE("", adminOnly, deps.links.Remove)
	}

	parents := api.Group("/parents", authn)
	{
		parents.GET("/dashboard", middleware.RequireRoles(models.RoleParent), deps.links.Dashboard)
		parents.GET("/:parentId/children", middleware.RBAC("ADMIN", "SELF"), deps.links.Children)
		parents.PUT("/:parentId/students", adminOnly, deps.links.ReplaceChildren)
	}

	analytics := api.Group("/analytics", authn, staffOnly)
	{
		analytics.GET("/summary", deps.analytics.Summary)
		analytics.GET("/categories", deps.analytics.Categories)
		analytics.GET("/grades", deps.analytics.Grades)
		analytics.GET("/trend", deps.analytics.Trend)
		analytics.GET("/system", adminOnly, deps.analytics.System)
	}

	api.POST("/imports/students", authn, adminOnly, deps.imports.Students)

	if deps.enableRpt {
		reports := api.Group("/reports")
		{
			reports.POST("", authn, staffOnly, deps.reports.Create)
			reports.GET("", authn, deps.reports.List)
			reports.GET("/download", deps.reports.Download)
			reports.GET("/:id", authn, deps.reports.Status)
		}
	}
}
