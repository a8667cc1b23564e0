package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/qrpay/reconciler/internal/allocator"
	"github.com/qrpay/reconciler/internal/api"
	"github.com/qrpay/reconciler/internal/api/middleware"
	"github.com/qrpay/reconciler/internal/config"
	"github.com/qrpay/reconciler/internal/db"
	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/ledger"
	"github.com/qrpay/reconciler/internal/lockmgr"
	"github.com/qrpay/reconciler/internal/matcher"
	"github.com/qrpay/reconciler/internal/notify"
	"github.com/qrpay/reconciler/internal/observability"
	"github.com/qrpay/reconciler/internal/repository"
	"github.com/qrpay/reconciler/internal/service"
	"github.com/qrpay/reconciler/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and monitor worker, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTIssuer(cfg.JWTIssuer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool)
	locks := lockmgr.NewManager(redisClient)
	alloc := allocator.New(store, domain.Amount(cfg.AmountOffsetCents), cfg.QueryWindow)

	// The real settlement ledger is an external collaborator behind
	// ledger.Client; the mock serves local runs.
	ledgerClient := ledger.NewMockClient()

	dispatcher := notify.NewDispatcher(cfg.MerchantID, cfg.MerchantKey, cfg.NotifyTimeout)
	orderSvc := service.NewOrderService(store, alloc, cfg.MerchantID, cfg.MerchantKey, cfg.MatchStrategy)
	monitorSvc := service.NewMonitorService(store, ledgerClient,
		matcher.New(cfg.MatchStrategy, cfg.MatchTolerance),
		dispatcher, locks, service.MonitorConfig{
			OrderTimeout:  cfg.OrderTimeout,
			QueryWindow:   cfg.QueryWindow,
			AutoCleanup:   cfg.AutoCleanup,
			CycleLockTTL:  cfg.CycleLockTTL,
			LedgerTimeout: cfg.LedgerTimeout,
		})

	monitorWorker := worker.NewMonitorWorker(monitorSvc, locks).
		WithInterval(cfg.LoopInterval).
		WithLeaseTTL(cfg.LoopLeaseTTL).
		WithMaxRuntime(cfg.LoopMaxRuntime)
	stopWorker := monitorWorker.Run(ctx)
	logger.Info("monitor worker started",
		zap.Duration("interval", cfg.LoopInterval),
		zap.Duration("max_runtime", cfg.LoopMaxRuntime),
	)

	router := api.NewRouter(cfg, logger, pool, redisClient, orderSvc, monitorSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping monitor worker")
	stopWorker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
