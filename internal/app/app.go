// Package app assembles the platform dependency graph.
package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chargenet/internal/cache"
	"chargenet/internal/config"
	"chargenet/internal/db"
	"chargenet/internal/events"
	httpserver "chargenet/internal/http"
	"chargenet/internal/http/handlers"
	"chargenet/internal/http/middleware"
	"chargenet/internal/password"
	"chargenet/internal/payment"
	"chargenet/internal/service"
	"chargenet/internal/storage/postgres"
	"chargenet/internal/ws"
)

const limiterCleanupInterval = time.Minute

// App wires dependencies for the charging platform.
type App struct {
	server  *httpserver.Server
	hub     *events.Hub
	limiter *middleware.RateLimiter
	db      *sql.DB
	redis   *redis.Client
	logger  *zap.Logger
}

// New builds the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := postgres.NewStore(sqlDB)
	live := cache.NewLiveStore(redisClient)
	denylist := cache.NewTokenDenylist(redisClient)
	hub := events.NewHub(logger)

	tokens := service.NewTokenService(cfg.JWT.Secret, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	hasher := password.NewBcryptHasher(0)
	provider := payment.NewStripeProvider(payment.StripeConfig{
		APIKey:            cfg.Stripe.APIKey,
		Timeout:           cfg.StripeTimeout(),
		FleetPriceID:      cfg.Stripe.FleetPriceID,
		EnterprisePriceID: cfg.Stripe.EnterprisePriceID,
	})

	authSvc := service.NewAuthService(store, hasher, tokens, denylist, logger)
	stationSvc := service.NewStationService(store, live, hub, logger)
	sessionSvc := service.NewSessionService(store, live, hub, logger)
	paymentSvc := service.NewPaymentService(store, provider, hub, logger)
	analyticsSvc := service.NewAnalyticsService(store, logger)

	limiter := middleware.NewRateLimiter()
	deps := httpserver.RouterDeps{
		Auth:      handlers.NewAuthHandlers(authSvc, logger),
		Stations:  handlers.NewStationHandlers(stationSvc, logger),
		Sessions:  handlers.NewSessionHandlers(sessionSvc, logger),
		Payments:  handlers.NewPaymentHandlers(paymentSvc, logger),
		Analytics: handlers.NewAnalyticsHandlers(paymentSvc, analyticsSvc, logger),
		WS:        ws.NewHandler(hub, tokens, authSvc, logger),
		Health:    handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(deps,
		middleware.Authenticate(tokens, authSvc),
		middleware.RateLimit(limiter, cfg.RateLimit.Requests, cfg.RateLimitWindow()),
	)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.Recovery(logger),
		middleware.RequestLogger(logger),
	)

	return &App{
		server:  server,
		hub:     hub,
		limiter: limiter,
		db:      sqlDB,
		redis:   redisClient,
		logger:  logger,
	}, nil
}

// Run starts the event hub and serves HTTP traffic until context cancellation.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx)
	go a.cleanupLoop(ctx)
	return a.server.Run(ctx)
}

func (a *App) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.Cleanup()
		}
	}
}

// Close releases acquired resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
