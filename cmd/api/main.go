package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	_ "github.com/nimbusedu/school-api/api/swagger"
	"github.com/nimbusedu/school-api/internal/repository"
	"github.com/nimbusedu/school-api/internal/router"
	"github.com/nimbusedu/school-api/internal/service"
	"github.com/nimbusedu/school-api/pkg/cache"
	"github.com/nimbusedu/school-api/pkg/config"
	"github.com/nimbusedu/school-api/pkg/database"
	"github.com/nimbusedu/school-api/pkg/jobs"
	"github.com/nimbusedu/school-api/pkg/logger"
)

// @title School API
// @version 1.0.0
// @description Multi-tenant school management backend
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	classRepo := repository.NewClassRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	lifecycleRepo := repository.NewLifecycleRepository(db)

	metrics := service.NewMetricsService()

	audit := service.NewAuditRecorder(userRepo, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
		Logger:     logr,
	}, logr)
	audit.Start(ctx)
	defer audit.Stop()

	sessionCache := service.NewRedisSessionCache(redisClient, cfg.Sessions.ActiveCacheTTL, logr)

	authService := service.NewAuthService(userRepo, audit, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	schoolService := service.NewSchoolService(schoolRepo, userRepo, cfg.SchoolCaps.MaxSchoolsPerUser, nil, logr)
	classService := service.NewClassService(classRepo, schoolRepo, nil, logr)
	sessionService := service.NewSessionService(sessionRepo, sessionCache, audit, metrics, nil, logr)
	lifecycleService := service.NewLifecycleService(lifecycleRepo, sessionService, studentRepo, classRepo, schoolRepo, audit, nil, logr)
	studentService := service.NewStudentService(studentRepo, lifecycleRepo, schoolRepo, cfg.Exports.Enabled, cfg.Exports.MaxRows, logr)

	reconciler := jobs.NewScheduler("term-reconcile", cfg.Sessions.ReconcileInterval, sessionService.ReconcileTermStatus, logr)
	go reconciler.Run(ctx)

	r := router.New(router.Dependencies{
		Config:    cfg,
		Logger:    logr,
		Auth:      authService,
		Schools:   schoolService,
		Classes:   classService,
		Sessions:  sessionService,
		Lifecycle: lifecycleService,
		Students:  studentService,
		Metrics:   metrics,
		UserRepo:  userRepo,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
