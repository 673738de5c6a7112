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

	_ "github.com/noah-isme/ct-study-api/api/swagger"
	"github.com/noah-isme/ct-study-api/internal/handler"
	"github.com/noah-isme/ct-study-api/internal/middleware"
	"github.com/noah-isme/ct-study-api/internal/repository"
	"github.com/noah-isme/ct-study-api/internal/service"
	"github.com/noah-isme/ct-study-api/pkg/cache"
	"github.com/noah-isme/ct-study-api/pkg/config"
	"github.com/noah-isme/ct-study-api/pkg/database"
	"github.com/noah-isme/ct-study-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/ct-study-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/ct-study-api/pkg/middleware/requestid"
)

// @title CT Study API
// @version 1.0.0
// @description Enrollment and session scheduling for a three-session longitudinal study
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

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database); err != nil {
			logr.Sugar().Fatalw("migrations failed", "error", err)
		}
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	store := repository.NewStore(db)
	registrations := repository.NewRegistrationRepository(db)
	participants := repository.NewParticipantRepository(db)
	mappings := repository.NewIdentityMappingRepository(db)
	balances := repository.NewBalanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Services.
	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	auditRecorder := service.NewAuditRecorder(auditRepo, logr)
	auditRecorder.Start(ctx)
	defer auditRecorder.Stop()

	enrollmentSvc := service.NewEnrollmentService(
		store, registrations, participants, mappings, balances,
		auditRecorder, metricsSvc, validate, logr, cfg.Enrollment,
	)
	schedulerSvc := service.NewSchedulerService(
		store, participants, auditRecorder, metricsSvc, logr,
		cfg.Sessions, cfg.Enrollment.TxRetries,
	)
	authSvc := service.NewAuthService(validate, logr, service.AuthConfig{
		Email:        cfg.Admin.Email,
		PasswordHash: cfg.Admin.PasswordHash,
		Secret:       cfg.JWT.Secret,
		Expiry:       cfg.JWT.Expiration,
		Issuer:       cfg.JWT.Issuer,
	})
	operatorSvc := service.NewOperatorService(balances, registrations, mappings, auditRepo, logr)

	// Handlers.
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, schedulerSvc)
	sessionHandler := handler.NewSessionHandler(schedulerSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	adminHandler := handler.NewAdminHandler(operatorSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	public := api.Group("")
	if cfg.RateLimit.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("redis connection failed", "error", err)
		}
		defer redisClient.Close()
		public.Use(middleware.RateLimit(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, logr))
	}
	public.POST("/claims", enrollmentHandler.Claim)
	public.GET("/participants/:id/route", sessionHandler.Route)
	public.POST("/participants/:id/sessions/:n/begin", sessionHandler.Begin)
	public.POST("/participants/:id/sessions/:n/complete", sessionHandler.Complete)
	public.POST("/participants/:id/sessions/:n/withdraw", sessionHandler.Withdraw)

	api.POST("/auth/login", authHandler.Login)

	admin := api.Group("/admin", middleware.JWT(authSvc))
	admin.GET("/balance", adminHandler.Balance)
	admin.GET("/codes/:code", adminHandler.CodeStatus)
	admin.POST("/mappings/:code/complete", adminHandler.CompleteMapping)
	admin.GET("/participants/:id/events", adminHandler.ParticipantEvents)
	admin.GET("/participants/:id/events.csv", adminHandler.ExportEvents)

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
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
