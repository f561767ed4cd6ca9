package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sakconstructions/storefront/pkg/api"
	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/auth"
	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/database"
	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/middleware"
	"github.com/sakconstructions/storefront/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const poolStatsInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := app.NewLogger(cfg.Observability).WithField("service", "storefront")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Database, Redis, blob storage and the domain services
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		a.Close()
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		a.Close()
		return err
	}

	// Counters live in Redis when it is configured, so every replica shares them
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(middleware.FromConfig(cfg.RateLimit), a.Redis, logger)
		limiter.StartCleanup(ctx)
	}

	server := api.NewServer(api.Deps{
		Catalog:     a.Catalog,
		Orders:      a.Orders,
		Payments:    a.Payments,
		Profiles:    a.Profiles,
		Ads:         a.Ads,
		Store:       a.Store,
		Verifier:    verifier,
		RateLimiter: limiter,
		Metrics:     a.Metrics,
		Logger:      logger,
	}, api.Options{
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		MaxUploadBytes: cfg.Blob.MaxUploadBytes,
		TrustedProxies: proxies,
	})

	var handler http.Handler = server
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(server, cfg.Observability.OTelServiceName)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health checks and /metrics listen on their own port, outside the API middleware
	checker := observability.NewHealthChecker(a.DB, a.Redis)
	checker.SetVersion(version)
	checker.AddCheck("blob_"+a.Store.Backend(), true, a.Store.HealthCheck)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, a.Registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Servers drain before the telemetry flush and connection close run
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return a.Close()
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Storefront API listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		database.ReportPoolStats(gctx, a.DB, a.Metrics, poolStatsInterval)
		return nil
	})

	// Only the log level is reloadable; other changes need a restart
	if path := os.Getenv("SAK_CONFIG_FILE"); path != "" {
		g.Go(func() error {
			err := config.Watch(gctx, path, logger, func(next *config.Config) {
				logger.SetLevel(next.Observability.Level())
				logger.Infof("Log level set to %s", next.Observability.LogLevel)
			})
			if err != nil {
				logger.WithError(err).Warn("Config file watch stopped")
			}
			return nil
		})
	}

	// Returns on SIGINT/SIGTERM or when another goroutine fails
	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}
