package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/shikkhaloy/student-records-api/internal/auth"
	"github.com/shikkhaloy/student-records-api/internal/config"
	"github.com/shikkhaloy/student-records-api/internal/document"
	"github.com/shikkhaloy/student-records-api/internal/health"
	"github.com/shikkhaloy/student-records-api/internal/logger"
	"github.com/shikkhaloy/student-records-api/internal/metrics"
	"github.com/shikkhaloy/student-records-api/internal/middleware"
	"github.com/shikkhaloy/student-records-api/internal/repository"
	"github.com/shikkhaloy/student-records-api/internal/storage"
	"github.com/shikkhaloy/student-records-api/internal/student"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if cfg.JWT.AccessSecret == "" {
		log.Error("JWT_ACCESS_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.JWT.RefreshSecret == "" {
		log.Error("JWT_REFRESH_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.JWT.AccessSecret == cfg.JWT.RefreshSecret {
		log.Error("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
		os.Exit(1)
	}

	dbPool, err := setupDatabase(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbPool.Close()

	// sqlx connection for the list-heavy repositories
	sqlxDB, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to open sqlx connection", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlxDB.Close()

	go collectDBMetrics(sqlxDB)

	// Repositories
	userRepo := repository.NewUserRepository(dbPool)
	tokenRepo := repository.NewTokenRepository(dbPool)
	studentRepo := repository.NewStudentRepo(sqlxDB)
	documentRepo := repository.NewDocumentRepo(sqlxDB)

	// Services
	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:       cfg.JWT.AccessSecret,
		RefreshSecret:      cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.JWT.RefreshTokenExpiry,
		Issuer:             cfg.JWT.Issuer,
	})

	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)

	authService := auth.NewAuthService(userRepo, tokenRepo, tokenService, hasher, auth.Config{
		MaxLoginAttempts:     cfg.Auth.MaxLoginAttempts,
		LockoutDuration:      cfg.Auth.LockoutDuration,
		RequireVerifiedEmail: cfg.Auth.RequireVerifiedEmail,
	}, log)

	storageService, err := storage.NewStorageService(&cfg.Storage)
	if err != nil {
		log.Error("failed to initialize storage service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	studentService := student.NewService(studentRepo, log)
	documentService := document.NewService(documentRepo, studentRepo, storageService, cfg.Storage.MaxDocumentBytes, log)

	// Handlers
	authHandler := auth.NewAuthHandler(authService)
	studentHandler := student.NewHandler(studentService)
	documentHandler := document.NewHandler(documentService, cfg.Storage.MaxDocumentBytes)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	var redisClient *redis.Client
	var limiter middleware.Limiter
	if cfg.RateLimit.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RateLimit.RedisAddr,
			DB:   cfg.RateLimit.RedisDB,
		})
		limiter = middleware.NewRedisLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window)
		log.Info("rate limiter using redis backend", slog.String("addr", cfg.RateLimit.RedisAddr))
	} else {
		limiter = middleware.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
		log.Info("rate limiter using memory backend")
	}
	rateLimiter := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit.Limit)

	requestFilter := middleware.NewRequestFilter(middleware.RequestFilterConfig{
		MaxBodyBytes:       cfg.Filter.MaxBodyBytes,
		BypassPaths:        cfg.Filter.BypassPaths,
		AllowedUploadTypes: cfg.Filter.AllowedUploadTypes,
	}, log)

	healthHandler := health.NewHandler(health.Config{
		DBPool:      dbPool,
		RedisClient: redisClient,
		Version:     version,
	})

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()))
	r.Use(middleware.StructuredLogger(log))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(requestFilter.Handler)
	r.Use(rateLimiter.Handler)

	// Health and metrics endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, authHandler, authMiddleware.Authenticate, cfg.Auth.MaxConcurrentLogins)
		student.RegisterRoutes(r, studentHandler, authMiddleware.Authenticate, authMiddleware.RequireRole,
			document.StudentRoutes(documentHandler, authMiddleware.RequireRole))
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", slog.String("addr", addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if redisClient != nil {
		redisClient.Close()
	}

	log.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		slog.String("dbname", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
		slog.String("port", cfg.Database.Port),
	)
	return pool, nil
}

// collectDBMetrics periodically exports connection pool statistics
func collectDBMetrics(db *sqlx.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := db.Stats()
		metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
		metrics.DBConnectionsInUse.Set(float64(stats.InUse))
		metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		metrics.DBConnectionsMaxOpen.Set(float64(stats.MaxOpenConnections))
	}
}
