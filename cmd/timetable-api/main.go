package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-timetable-api/api/swagger"
	"github.com/noah-isme/sma-timetable-api/internal/handler"
	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-timetable-api/pkg/storage"
)

// @title SMA Timetable API
// @version 1.0.0
// @description Weekly timetable generation, publication, and teacher availability service
// @BasePath /api/v1
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			redisClient.Close() //nolint:errcheck
		}
	}()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Repositories.
	catalogRepo := repository.NewCatalogRepository(db)
	availabilityRepo := repository.NewTeacherAvailabilityRepository(db)
	cellRepo := repository.NewScheduleCellRepository(db)
	constraintRepo := repository.NewConstraintRepository(db)
	runRepo := repository.NewGenerationRunRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	validate := validator.New()
	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Timetable.CacheTTL, logr, cfg.Timetable.CacheEnabled && redisClient != nil)
	tokenService := service.NewTokenService(cfg.JWT)
	timetableService := service.NewTimetableService(
		catalogRepo,
		availabilityRepo,
		cellRepo,
		constraintRepo,
		runRepo,
		db,
		cacheService,
		metricsService,
		validate,
		logr,
		service.TimetableConfig{PreviewTTL: cfg.Timetable.PreviewTTL, CacheTTL: cfg.Timetable.CacheTTL},
	)
	availabilityService := service.NewAvailabilityService(availabilityRepo, catalogRepo, db, validate, logr)
	conflictService := service.NewConflictService(cellRepo, constraintRepo, availabilityRepo, catalogRepo, validate, logr)
	constraintService := service.NewConstraintService(constraintRepo, validate, logr)

	// Handlers.
	timetableHandler := handler.NewTimetableHandler(timetableService, conflictService)
	availabilityHandler := handler.NewAvailabilityHandler(availabilityService)
	constraintHandler := handler.NewConstraintHandler(constraintService)
	healthHandler := handler.NewHealthHandler(db, redisClient)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenService))

	adminOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	anyStaff := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleTeacher)

	timetable := api.Group("/timetable")
	{
		timetable.POST("/feasibility", adminOnly, timetableHandler.Feasibility)
		timetable.POST("/previews", adminOnly, timetableHandler.GeneratePreview)
		timetable.GET("/previews/:token", adminOnly, timetableHandler.GetPreview)
		timetable.DELETE("/previews/:token", adminOnly, timetableHandler.DiscardPreview)
		timetable.POST("/previews/:token/publish", adminOnly, timetableHandler.PublishPreview)
		timetable.POST("/publish", adminOnly, timetableHandler.Publish)
		timetable.DELETE("/schedule", adminOnly, timetableHandler.DeleteSchedule)
		timetable.GET("/conflicts", adminOnly, timetableHandler.Conflicts)
		timetable.GET("/weekly", anyStaff, timetableHandler.Weekly)
		timetable.GET("/schedules", anyStaff, timetableHandler.Schedules)
		timetable.GET("/runs", adminOnly, timetableHandler.Runs)
		timetable.GET("/metrics", adminOnly, metricsHandler.Summary)
	}

	availability := api.Group("/availability")
	{
		availability.GET("/teachers/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), middleware.SelfAccess), availabilityHandler.Get)
		availability.PUT("/teachers/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), middleware.SelfAccess), availabilityHandler.Update)
		availability.GET("/summary", adminOnly, availabilityHandler.Summary)
	}

	constraints := api.Group("/constraints", adminOnly)
	{
		constraints.POST("", constraintHandler.Create)
		constraints.GET("", constraintHandler.List)
		constraints.GET("/:id", constraintHandler.Get)
		constraints.PUT("/:id", constraintHandler.Update)
		constraints.DELETE("/:id", constraintHandler.Delete)
	}

	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

		var worker *service.ExportWorker
		exportQueue = jobs.NewQueue("timetable-exports", func(ctx context.Context, job jobs.Job) error {
			return worker.Handle(ctx, job)
		}, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})

		exportService := service.NewExportService(
			exportJobRepo,
			cellRepo,
			catalogRepo,
			store,
			signer,
			exportQueue,
			service.ExportConfig{
				APIPrefix:       cfg.APIPrefix,
				ResultTTL:       cfg.Exports.SignedURLTTL,
				CleanupInterval: cfg.Exports.CleanupInterval,
				MaxRetries:      cfg.Exports.WorkerRetries,
			},
			validate,
			logr,
			nil,
			nil,
		)
		worker = service.NewExportWorker(exportJobRepo, exportService, cfg.Exports.WorkerRetries, logr)

		exportQueue.Start(rootCtx)
		exportService.RecoverPendingJobs(rootCtx)
		exportService.StartCleanup(rootCtx)

		exportHandler := handler.NewExportHandler(exportService)
		exports := api.Group("/timetable/exports")
		{
			exports.POST("", anyStaff, exportHandler.Create)
			exports.GET("/download/:token", anyStaff, exportHandler.Download)
			exports.GET("/:id", anyStaff, exportHandler.Status)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()
	logr.Sugar().Infow("server started", "addr", addr, "env", cfg.Env)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown incomplete", "error", err)
	}
	rootCancel()
	if exportQueue != nil {
		exportQueue.Stop()
	}
}
