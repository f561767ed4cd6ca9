// Package app builds the storefront's shared dependencies from configuration.
// The API server, the worker and the admin CLI all start from New.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sakconstructions/storefront/pkg/ads"
	"github.com/sakconstructions/storefront/pkg/blob"
	"github.com/sakconstructions/storefront/pkg/cache"
	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/database"
	"github.com/sakconstructions/storefront/pkg/observability"
	"github.com/sakconstructions/storefront/pkg/orders"
	"github.com/sakconstructions/storefront/pkg/payments"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

// App holds the connections and domain services of one process
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	DB    *sql.DB
	Redis *redis.Client
	Store blob.Store

	Catalog  *catalog.Service
	Orders   *orders.Service
	Profiles *profiles.SQLService
	Ads      *ads.Service
	Payments *payments.Service
}

// NewLogger builds the process logger, with file rotation when a log file is configured
func NewLogger(cfg config.ObservabilityConfig) *observability.Logger {
	if cfg.LogFile != "" {
		return observability.NewLoggerWithFile(cfg.Level(), cfg.FileOutput())
	}
	return observability.NewLogger(cfg.Level(), nil)
}

// New connects to the database, Redis and blob storage and builds the services.
// Migrations run first when the database is configured to auto-migrate.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg.Observability)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observability.NewMetrics(a.Registry)

	var err error
	a.DB, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, a.DB, cfg.Database.Driver, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Redis, err = cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.Redis == nil {
		logger.Info("Redis not configured; using in-process cache and rate limits only")
	}

	a.Store, err = blob.New(ctx, cfg.Blob, cfg.Server.PublicBaseURL, a.Metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	var planCache *catalog.PlanCache
	if cfg.Cache.Enabled {
		planCache = cache.NewPlanCache[catalog.Plan, catalog.PlanList](cfg.Cache, a.Redis, a.Metrics, logger)
	}

	a.Catalog = catalog.NewService(a.DB, a.Store, planCache, cfg.Payments.Currency, logger)
	a.Orders = orders.NewService(a.DB, a.Catalog, a.Store, cfg.Blob.PresignTTL, a.Metrics, logger)
	a.Profiles = profiles.NewSQLService(a.DB, cfg.Auth.AdminEmails)
	a.Ads = ads.NewService(a.DB, logger)
	a.Payments = payments.NewService(payments.Config{
		Currency:      cfg.Payments.Currency,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		FrontendURL:   cfg.Server.FrontendURL,
	}, a.Catalog, a.Orders, a.Profiles, a.Metrics, logger, Providers(cfg.Payments, logger)...)

	return a, nil
}

// Providers returns the payment providers with credentials configured
func Providers(cfg config.PaymentsConfig, logger *observability.Logger) []payments.Provider {
	var providers []payments.Provider
	if cfg.StripeEnabled() {
		providers = append(providers, payments.NewStripeProvider(
			cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeBaseURL, cfg.VendorTimeout,
			payments.NewRetryPolicy(payments.RetryConfigFrom(cfg)), logger,
		))
	}
	if cfg.PaystackEnabled() {
		providers = append(providers, payments.NewPaystackProvider(
			cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.VendorTimeout,
			payments.NewRetryPolicy(payments.RetryConfigFrom(cfg)), logger,
		))
	}
	return providers
}

// Close releases the database and Redis connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
