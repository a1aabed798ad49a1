package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/venturedeck/venturedeck/internal/admin"
	adminhttp "github.com/venturedeck/venturedeck/internal/admin/http"
	"github.com/venturedeck/venturedeck/internal/app"
	"github.com/venturedeck/venturedeck/internal/observability"
	"github.com/venturedeck/venturedeck/internal/permaudit"
	"github.com/venturedeck/venturedeck/internal/platform/cache"
	"github.com/venturedeck/venturedeck/internal/platform/db"
	"github.com/venturedeck/venturedeck/internal/rbac"
	"github.com/venturedeck/venturedeck/internal/session"
	"github.com/venturedeck/venturedeck/internal/shared"
	"github.com/venturedeck/venturedeck/internal/users"
	"github.com/venturedeck/venturedeck/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	conn := db.OpenSQL(dbpool)
	defer func() { _ = conn.Close() }()
	if err := db.Migrate(ctx, conn, db.DialectPostgres); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	rbacRepo := rbac.NewRepository(conn, db.DialectPostgres)
	rbacService := rbac.NewService(rbacRepo, rbac.Options{
		CacheTTL:  cfg.PermissionCacheTTL,
		CacheSize: cfg.PermissionCacheSize,
		Logger:    logger,
	})
	userService := users.NewService(users.NewRepository(conn))
	sessionManager := session.NewManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())

	var limiter admin.RateLimiter
	switch cfg.AdminRateBackend {
	case app.RateBackendRedis:
		limiter = admin.NewRedisRateLimiter(redisClient, cfg.AdminRateLimit, cfg.AdminRateWindow)
	default:
		limiter = admin.NewMemoryRateLimiter(cfg.AdminRateLimit, cfg.AdminRateWindow)
	}
	gate := admin.NewGate(admin.GateConfig{
		Sessions: sessionManager,
		Limiter:  limiter,
		Authz:    rbacService,
		Logger:   logger,
		Metrics:  metrics,
	})

	adminHandler := adminhttp.NewHandler(adminhttp.Config{
		Logger:     logger,
		Gate:       gate,
		Roles:      rbacService,
		Users:      userService,
		Audit:      shared.NewAuditLogger(conn),
		Reports:    permaudit.NewEngine(rbacRepo, logger),
		Sessions:   sessionManager,
		AuditToken: cfg.AdminAuditToken,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AdminHandler: adminHandler,
		JobHandler:   jobs.NewHandler(inspector, logger),
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
