package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/async"
	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/jobs"
	"github.com/sakconstructions/storefront/pkg/observability"
)

var (
	runOnce     = flag.Bool("run-once", false, "Run the jobs once and exit instead of scheduling them")
	jobName     = flag.String("job", "", "With --run-once, run only this job")
	metricsAddr = flag.String("metrics-addr", "", "Serve /metrics and /health on this address, e.g. :9091")
)

func main() {
	flag.Parse()
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
	logger := app.NewLogger(cfg.Observability).WithField("service", "storefront-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := jobs.NewStandardRunner(cfg.Jobs, jobs.Deps{
		Orders:      a.Orders,
		Ads:         a.Ads,
		Plans:       a.Catalog,
		SharedCache: cfg.Cache.Enabled && a.Redis != nil,
	}, a.Metrics, logger)

	// One-shot mode for an external scheduler such as a Kubernetes CronJob
	if *runOnce {
		if *jobName != "" {
			logger.WithField("job", *jobName).Info("Running job once")
			return runner.Run(ctx, *jobName)
		}
		logger.Infof("Running all jobs once: %s", strings.Join(runner.Names(), ", "))
		return runner.RunAll(ctx)
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if err := runner.Schedule(ctx, c); err != nil {
		return err
	}

	servers := []*http.Server{}
	if *metricsAddr != "" {
		checker := observability.NewHealthChecker(a.DB, a.Redis)
		mux := http.NewServeMux()
		observability.RegisterHealthRoutes(mux, checker)
		observability.RegisterMetricsEndpoint(mux, a.Registry)
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, srv)
		async.Go(ctx, logger, "metrics server", func(context.Context) error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	shutdown := observability.NewShutdownManager(logger, 30*time.Second, servers...)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		// Stop scheduling and wait for running jobs to return
		stopped := c.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	c.Start()
	logger.Info("Storefront worker started")

	err = shutdown.WaitForShutdown(ctx)
	logger.Info("Storefront worker stopped")
	return err
}
