package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/warden/internal/app"
	"github.com/odyssey-erp/warden/internal/audit"
	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/guard"
	"github.com/odyssey-erp/warden/internal/platform/cache"
	"github.com/odyssey-erp/warden/internal/platform/db"
	"github.com/odyssey-erp/warden/internal/rbac"
	"github.com/odyssey-erp/warden/internal/roles"
	"github.com/odyssey-erp/warden/internal/shared"
	"github.com/odyssey-erp/warden/internal/users"
)

func main() {
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

	// Redis going away only degrades: the resolver recomputes from
	// postgres and the guard falls back to its in-process limiter.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, starting degraded", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	naming := catalog.NewValidator(cfg.AuthzDangerousPatterns, cfg.AuthzReservedAllow)
	catalogSvc := catalog.NewService(catalog.NewRepository(dbpool), naming, cfg.AuthzMaxPermissionDeps)
	roleSvc := roles.NewService(roles.NewRepository(dbpool), catalogSvc, cfg.AuthzMaxDepth)
	userSvc := users.NewService(users.NewRepository(dbpool), roleSvc)

	resolutionCache := rbac.NewCache(redisClient, cfg.AuthzCacheTTL)
	resolver := rbac.NewResolver(roleSvc, catalogSvc, userSvc, resolutionCache)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}

	recorder := audit.NewPGRecorder(dbpool)
	limiter := guard.NewRedisLimiter(redisClient, cfg.RateLimits())
	guardSvc := guard.New(guard.Config{
		MaxBulkTargets: cfg.AuthzMaxBulkTargets,
		RateLimits:     cfg.RateLimits(),
	}, roleSvc, catalogSvc, userSvc, resolver, limiter, recorder, logger)

	if err := seedCore(ctx, catalogSvc, roleSvc); err != nil {
		logger.Error("seed core entities", slog.Any("error", err))
		os.Exit(1)
	}

	guardHandler := guard.NewHandler(logger, guardSvc, roleSvc, catalogSvc, userSvc, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		GuardHandler: guardHandler,
		Pool:         dbpool,
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

// seedCore upserts the permissions the engine itself gates on and the
// distinguished super admin role. Idempotent across restarts.
func seedCore(ctx context.Context, catalogSvc *catalog.Service, roleSvc *roles.Service) error {
	for _, name := range shared.CoreScopes() {
		module, action, _ := strings.Cut(name, ".")
		risk := catalog.RiskType(action)
		if !risk.Valid() {
			risk = catalog.RiskManage
		}
		label := strings.ToUpper(action[:1]) + action[1:] + " " + module
		if _, err := catalogSvc.Ensure(ctx, name, label, module, risk); err != nil {
			return fmt.Errorf("seed permission %s: %w", name, err)
		}
	}
	if _, err := roleSvc.GetByName(ctx, shared.SuperAdminRole); err != nil {
		if shared.KindOf(err) != shared.KindNotFound {
			return fmt.Errorf("lookup %s: %w", shared.SuperAdminRole, err)
		}
		if _, err := roleSvc.Create(ctx, roles.CreateInput{
			Name:        shared.SuperAdminRole,
			DisplayName: "Super Administrator",
			IsSystem:    true,
		}); err != nil {
			return fmt.Errorf("seed role %s: %w", shared.SuperAdminRole, err)
		}
	}
	return nil
}
