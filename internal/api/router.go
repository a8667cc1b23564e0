package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qrpay/reconciler/internal/api/handler"
	"github.com/qrpay/reconciler/internal/api/middleware"
	"github.com/qrpay/reconciler/internal/config"
	"github.com/qrpay/reconciler/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	redis      redis.Cmdable
	orderSvc   *service.OrderService
	monitorSvc *service.MonitorService
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redisClient redis.Cmdable, orderSvc *service.OrderService, monitorSvc *service.MonitorService) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		orderSvc:   orderSvc,
		monitorSvc: monitorSvc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	orderHandler := handler.NewOrderHandler(api.orderSvc)
	monitorHandler := handler.NewMonitorHandler(api.monitorSvc)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Merchant protocol routes (legacy envelope, rate limited per IP).
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/api/v1/order/create", orderHandler.CreateOrder)
		r.Get("/api/v1/order", orderHandler.QueryOrder)
		r.Get("/api/v1/orders", orderHandler.ListOrders)
		r.Get("/api/v1/merchant", orderHandler.MerchantInfo)
		r.Get("/api/v1/notify", orderHandler.NotifyCallback)
		r.Post("/api/v1/notify", orderHandler.NotifyCallback)
	})

	// Operator routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)

		r.With(middleware.RequireRole("admin")).Post("/v1/monitor/run", monitorHandler.RunCycle)
		r.Get("/v1/monitor/status", monitorHandler.Status)
	})

	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
