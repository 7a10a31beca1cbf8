package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/welldanyogia/home-iot/internal/admin"
	"github.com/welldanyogia/home-iot/internal/auth"
	"github.com/welldanyogia/home-iot/internal/config"
	"github.com/welldanyogia/home-iot/internal/events"
	"github.com/welldanyogia/home-iot/internal/health"
	"github.com/welldanyogia/home-iot/internal/logger"
	"github.com/welldanyogia/home-iot/internal/metrics"
	appmw "github.com/welldanyogia/home-iot/internal/middleware"
	"github.com/welldanyogia/home-iot/internal/query"
	"github.com/welldanyogia/home-iot/internal/repository"
	"github.com/welldanyogia/home-iot/internal/sanitizer"
	"github.com/welldanyogia/home-iot/internal/security"
	"github.com/welldanyogia/home-iot/internal/sqlguard"
	"github.com/welldanyogia/home-iot/migrations"
)

// Version is set at build time
var Version = "dev"

// Route rate limits
const (
	loginLimit      = 15
	loginWindow     = 15 * time.Minute
	adminQueryLimit = 30
	quickQueryLimit = 60
	ingestLimit     = 60
	queryWindow     = time.Hour
	healthLimit     = 30
	healthWindow    = time.Minute
)

func main() {
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.GeneratedSecretKey {
		log.Warn("WATER_SYSTEM_SECRET_KEY not set, generated a random key; sessions will not survive a restart")
	}

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	dbPool, err := setupDatabase(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbPool.Close()

	sqlDB := stdlib.OpenDBFromPool(dbPool)
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "pgx")

	if err := migrations.Up(sqlDB); err != nil {
		return err
	}
	log.Info("Database migrations applied")

	dbStats := metrics.NewDBStatsCollector(dbPool, sqlDB)
	dbStats.Start(15 * time.Second)
	defer dbStats.Stop()

	// Repositories
	sessionRepo := repository.NewSessionRepository(dbPool)
	attemptRepo := repository.NewLoginAttemptRepository(dbPool)
	eventRepo := repository.NewEventRepository(db)

	// Auth
	verifier, err := auth.NewPasswordVerifier(cfg.Auth.AdminPassword, cfg.Auth.AdminPasswordHash)
	if err != nil {
		return fmt.Errorf("invalid admin password configuration: %w", err)
	}
	resolver := security.NewClientIPResolver(cfg.Proxy.Enabled, cfg.Proxy.TrustedProxies)
	sweeper := auth.NewExpirySweeper(sessionRepo, attemptRepo, cfg.Auth.SessionTimeout, log)
	sessions := auth.NewSessionStore(sessionRepo, sweeper, cfg.Auth.SessionTimeout, cfg.Proxy.Enabled, log)
	lockout := auth.NewLockoutTracker(attemptRepo, sweeper, cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration, log)
	authService := auth.NewAuthService(sessions, lockout, verifier, log)
	cookie := auth.NewSessionCookie([]byte(cfg.Auth.SecretKey), cfg.Auth.CookieName, cfg.Auth.CookieSecure)
	authHandler := auth.NewAuthHandler(authService, cookie, log)

	deviceAuth := appmw.NewDeviceAuth(cfg.Auth.APIToken, log)
	adminAuth := appmw.NewAdminAuth(sessions, cookie, log)

	// Events and admin API
	eventService := events.NewService(
		eventRepo,
		events.NewValidator(cfg.Devices.IDs),
		sanitizer.NewTextSanitizer(sanitizer.DefaultMaxLength),
		log,
	)
	eventHandler := events.NewHandler(eventService, log)

	executor := query.NewExecutor(db, cfg.Query.Timeout, cfg.Query.MaxRows, log)
	adminHandler := admin.NewHandler(executor, sqlguard.New(cfg.Query.Table), eventRepo, log)

	healthHandler := health.NewHandler(health.Config{
		DB:        dbPool,
		Sweeper:   sweeper,
		Sessions:  sessionRepo,
		Locks:     attemptRepo,
		NginxMode: cfg.Proxy.Enabled,
		HTTPPort:  cfg.Server.HTTPPort,
		AdminPort: cfg.Server.AdminPort,
		Version:   Version,
		Logger:    log,
	})

	// Rate limiters
	loginRL, loginLimiter := appmw.RateLimit(loginLimit, loginWindow)
	defer loginLimiter.Stop()
	queryRL, queryLimiter := appmw.RateLimit(adminQueryLimit, queryWindow)
	defer queryLimiter.Stop()
	quickRL, quickLimiter := appmw.RateLimit(quickQueryLimit, queryWindow)
	defer quickLimiter.Stop()
	ingestRL, ingestLimiter := appmw.RateLimit(ingestLimit, queryWindow)
	defer ingestLimiter.Stop()

	// Each listener gets its own /health limiter
	deviceHealthRL, deviceHealthLimiter := appmw.RateLimit(healthLimit, healthWindow)
	defer deviceHealthLimiter.Stop()
	adminHealthRL, adminHealthLimiter := appmw.RateLimit(healthLimit, healthWindow)
	defer adminHealthLimiter.Stop()

	// Device API
	deviceRouter := newRouter(resolver, log)
	events.RegisterRoutes(deviceRouter, eventHandler, deviceAuth.Authenticate, ingestRL)
	health.RegisterRoutes(deviceRouter, healthHandler, deviceHealthRL)

	// Admin panel
	adminRouter := newRouter(resolver, log)
	adminRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	auth.RegisterRoutes(adminRouter, authHandler, loginRL, adminAuth.Authenticate)
	admin.RegisterRoutes(adminRouter, adminHandler, adminAuth.Authenticate, admin.Limits{
		Query:      queryRL,
		QuickQuery: quickRL,
	})
	health.RegisterRoutes(adminRouter, healthHandler, adminHealthRL)
	adminRouter.Handle("/metrics", metrics.Handler())

	servers := []*http.Server{
		newServer(cfg.Server.HTTPAddr(), deviceRouter),
		newServer(cfg.Server.AdminAddr(), adminRouter),
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("Starting server", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
	}

	log.Info("Shutting down servers...")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Server forced to shutdown",
				slog.String("addr", srv.Addr),
				slog.String("error", err.Error()),
			)
		}
	}

	log.Info("Server exited")
	return serveErr
}

// newRouter builds a router with the middleware shared by both listeners.
// Client IP resolution runs before logging so requests are logged with the
// resolved address.
func newRouter(resolver *security.ClientIPResolver, log *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appmw.ClientIP(resolver))
	r.Use(appmw.StructuredLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))
	return r
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
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

	log.Info("Connected to database",
		slog.String("database", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
		slog.String("port", cfg.Database.Port),
	)
	return pool, nil
}
