package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-portal-api/api/swagger"
	"github.com/noah-isme/sma-portal-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-portal-api/internal/middleware"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/repository"
	"github.com/noah-isme/sma-portal-api/internal/service"
	"github.com/noah-isme/sma-portal-api/pkg/cache"
	"github.com/noah-isme/sma-portal-api/pkg/config"
	"github.com/noah-isme/sma-portal-api/pkg/database"
	"github.com/noah-isme/sma-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-portal-api/pkg/storage"
)

// @title SMA Portal API
// @version 1.0.0
// @description Extracurricular enrollment, assignments and attendance for the school portal.
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

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	db, err := database.NewPostgres(startupCtx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Events.Enabled {
		redisClient, err = cache.NewRedis(startupCtx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching and broadcast disabled", zap.Error(err))
		}
	}

	location, err := time.LoadLocation(cfg.Attendance.Timezone)
	if err != nil {
		logr.Fatal("invalid ATTENDANCE_TIMEZONE", zap.String("timezone", cfg.Attendance.Timezone), zap.Error(err))
	}

	files, err := storage.NewLocalStorage(cfg.Assignments.StorageDir, cfg.Assignments.MaxFileSizeBytes)
	if err != nil {
		logr.Fatal("failed to prepare attachment storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Assignments.SignedURLSecret, cfg.Assignments.SignedURLTTL)

	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	var cacheSvc *service.CacheService
	var cacheRepo *repository.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Extracurricular.CacheTTL, logr, cfg.Cache.Enabled)
		defer cacheRepo.Close() //nolint:errcheck
	}

	bus := service.NewEventBus(service.EventBusConfig{
		Workers:    cfg.Events.WorkerConcurrency,
		MaxRetries: cfg.Events.WorkerRetries,
	}, metricsSvc, logr)
	if cfg.Audit.Enabled {
		bus.Subscribe(service.AuditSubscriber(auditRepo))
	}
	if cacheSvc.Enabled() {
		bus.Subscribe(service.CacheInvalidationSubscriber(cacheSvc))
	}
	if cfg.Events.Enabled && cacheRepo != nil {
		bus.Subscribe(service.BroadcastSubscriber(cacheRepo, cfg.Events.Channel))
	}

	validate := validator.New()
	extracurricularSvc := service.NewExtracurricularService(
		studentRepo,
		activityRepo,
		enrollmentRepo,
		cacheSvc,
		bus,
		metricsSvc,
		validate,
		logr,
		service.ExtracurricularConfig{MaxSelections: cfg.Extracurricular.MaxSelections},
	)
	assignmentSvc := service.NewAssignmentService(service.AssignmentDeps{
		Assignments: assignmentRepo,
		Submissions: submissionRepo,
		Students:    studentRepo,
		Roster:      studentRepo,
		Classes:     classRepo,
		Files:       files,
		Signer:      signer,
		Events:      bus,
		Metrics:     metricsSvc,
		Validator:   validate,
		Logger:      logr,
	}, service.AssignmentConfig{
		FinalizeAfterDue: cfg.Assignments.FinalizeAfterDue,
		MaxFileSize:      cfg.Assignments.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Assignments.AllowedMIMEs,
		DownloadBaseURL:  strings.TrimRight(cfg.APIPrefix, "/"),
	})
	attendanceSvc := service.NewAttendanceService(service.AttendanceDeps{
		Forms:     attendanceRepo,
		Students:  studentRepo,
		Roster:    studentRepo,
		Classes:   classRepo,
		Directory: classRepo,
		Events:    bus,
		Metrics:   metricsSvc,
		Validator: validate,
		Logger:    logr,
		Location:  location,
	})

	checks := map[string]handler.Pinger{"postgres": db}
	if cacheRepo != nil {
		checks["redis"] = handler.PingFunc(cacheRepo.Ping)
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	extracurricularHandler := handler.NewExtracurricularHandler(extracurricularSvc)
	assignmentHandler := handler.NewAssignmentHandler(assignmentSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/files/:token", assignmentHandler.Download)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(tokenSvc))

	student := string(models.RoleStudent)
	teacher := string(models.RoleTeacher)
	admin := string(models.RoleAdmin)
	self := internalmiddleware.Self

	secured.GET("/extracurriculars", extracurricularHandler.ListAvailable)
	secured.POST("/extracurriculars", internalmiddleware.RBAC(admin), extracurricularHandler.CreateActivity)
	secured.PUT("/extracurriculars/:id/slots", internalmiddleware.RBAC(admin), extracurricularHandler.ReplaceSlots)

	students := secured.Group("/students/:id/extracurriculars")
	students.GET("", internalmiddleware.RBAC(self, teacher), extracurricularHandler.ListEnrollments)
	students.POST("", internalmiddleware.RBAC(self), extracurricularHandler.Select)
	students.DELETE("/:activityId", internalmiddleware.RBAC(self), extracurricularHandler.Unselect)
	students.POST("/finalize", internalmiddleware.RBAC(self), extracurricularHandler.Finalize)

	assignments := secured.Group("/assignments")
	assignments.POST("", internalmiddleware.RBAC(teacher), assignmentHandler.Create)
	assignments.GET("/:id", assignmentHandler.Get)
	assignments.POST("/:id/files", internalmiddleware.RBAC(teacher), assignmentHandler.UploadFile)
	assignments.GET("/:id/summary", internalmiddleware.RBAC(teacher), assignmentHandler.Summary)
	assignments.GET("/:id/submissions/:studentId", internalmiddleware.RBAC(teacher, self), assignmentHandler.GetSubmission)
	assignments.PUT("/:id/submissions/:studentId", internalmiddleware.RBAC(self), assignmentHandler.Submit)
	assignments.POST("/:id/submissions/:studentId/finalize", internalmiddleware.RBAC(self), assignmentHandler.Finalize)
	assignments.PUT("/:id/submissions/:studentId/grade", internalmiddleware.RBAC(teacher), assignmentHandler.Grade)

	forms := secured.Group("/attendance-forms")
	forms.POST("", internalmiddleware.RBAC(teacher), attendanceHandler.CreateForm)
	forms.POST("/:id/records", internalmiddleware.RBAC(student), attendanceHandler.Submit)
	forms.GET("/:id/summary", internalmiddleware.RBAC(teacher), attendanceHandler.Summary)
	forms.GET("/:id/summary/export", internalmiddleware.RBAC(teacher), attendanceHandler.Export)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// deliveries drain on Stop, so workers are not tied to the signal context
	bus.Start(context.Background())

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	bus.Stop()
}
