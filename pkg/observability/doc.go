// Package observability provides structured logging, Prometheus metrics, health
// checks, OpenTelemetry tracing and graceful shutdown for the storefront binaries.
//
// # Structured Logging
//
// Loggers write JSON lines through logrus. A rotated log file can be added:
//
//	logger := observability.NewLoggerWithFile(observability.InfoLevel, observability.FileOutput{
//		Path:      "/var/log/storefront/api.log",
//		MaxSizeMB: 100,
//	})
//	logger.WithField("order_id", id).Info("Order fulfilled")
//
// Request handlers should use FromContext so request_id and user_id are attached.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.PaymentVerificationsTotal.WithLabelValues("paystack", "success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("blob", true, store.HealthCheck)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "storefront",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
