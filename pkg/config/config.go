package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakconstructions/storefront/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Blob          BlobConfig          `yaml:"blob"`
	Redis         RedisConfig         `yaml:"redis"`
	Cache         CacheConfig         `yaml:"cache"`
	Payments      PaymentsConfig      `yaml:"payments"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// PublicBaseURL is where this API is reachable; used for callback and local file URLs
	PublicBaseURL string `yaml:"public_base_url"`
	// FrontendURL is the SPA origin payment redirects land on
	FrontendURL string   `yaml:"frontend_url"`
	CORSOrigins []string `yaml:"cors_origins"`

	// TrustedProxies lists the IPs or CIDRs of load balancers whose
	// X-Forwarded-For is believed. Empty means forwarded headers are ignored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig holds relational database settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Timeout         time.Duration `yaml:"timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// BlobConfig holds plan file storage settings
type BlobConfig struct {
	Backend        string        `yaml:"backend"`
	Endpoint       string        `yaml:"endpoint"`
	Region         string        `yaml:"region"`
	Bucket         string        `yaml:"bucket"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	UsePathStyle   bool          `yaml:"use_path_style"`
	FilesystemRoot string        `yaml:"filesystem_root"`
	SigningKey     string        `yaml:"signing_key"`
	PresignTTL     time.Duration `yaml:"presign_ttl"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// RedisConfig holds Redis connection settings. An empty URL disables Redis.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// CacheConfig holds plan catalog cache settings
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	L1Entries int           `yaml:"l1_entries"`
	PlanTTL   time.Duration `yaml:"plan_ttl"`
	ListTTL   time.Duration `yaml:"list_ttl"`
}

// PaymentsConfig holds vendor credentials and retry policy
type PaymentsConfig struct {
	Currency            string        `yaml:"currency"`
	StripeSecretKey     string        `yaml:"stripe_secret_key"`
	StripeWebhookSecret string        `yaml:"stripe_webhook_secret"`
	StripeBaseURL       string        `yaml:"stripe_base_url"`
	PaystackSecretKey   string        `yaml:"paystack_secret_key"`
	PaystackBaseURL     string        `yaml:"paystack_base_url"`
	VendorTimeout       time.Duration `yaml:"vendor_timeout"`
	RetryMaxAttempts    int           `yaml:"retry_max_attempts"`
	RetryInitialDelay   time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
}

// StripeEnabled reports whether Stripe credentials are configured
func (p PaymentsConfig) StripeEnabled() bool {
	return p.StripeSecretKey != ""
}

// PaystackEnabled reports whether Paystack credentials are configured
func (p PaymentsConfig) PaystackEnabled() bool {
	return p.PaystackSecretKey != ""
}

// AuthConfig holds access token verification settings
type AuthConfig struct {
	Issuer   string `yaml:"issuer"`
	JWKSURL  string `yaml:"jwks_url"`
	Audience string `yaml:"audience"`
	// AdminEmails are promoted to admin the first time their profile is ensured
	AdminEmails []string `yaml:"admin_emails"`
}

// RateLimitConfig holds per-client request limits for sensitive endpoints
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	// Burst is extra headroom for the in-memory limiter used without Redis
	Burst int `yaml:"burst"`
}

// JobsConfig holds worker schedules
type JobsConfig struct {
	ExpirePendingSchedule string        `yaml:"expire_pending_schedule"`
	PendingOrderTTL       time.Duration `yaml:"pending_order_ttl"`
	DeactivateAdsSchedule string        `yaml:"deactivate_ads_schedule"`
	WarmCacheSchedule     string        `yaml:"warm_cache_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	LogMaxAgeDays  int    `yaml:"log_max_age_days"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return ParseLogLevel(o.LogLevel)
}

// FileOutput returns the rotated log file settings
func (o ObservabilityConfig) FileOutput() observability.FileOutput {
	return observability.FileOutput{
		Path:       o.LogFile,
		MaxSizeMB:  o.LogMaxSizeMB,
		MaxBackups: o.LogMaxBackups,
		MaxAgeDays: o.LogMaxAgeDays,
	}
}

// Default returns the built-in configuration used before file and env overrides
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			PublicBaseURL:   "http://localhost:8080",
			FrontendURL:     "http://localhost:5173",
			CORSOrigins:     []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Timeout:         5 * time.Second,
			AutoMigrate:     true,
		},
		Blob: BlobConfig{
			Backend:        "filesystem",
			Region:         "us-east-1",
			Bucket:         "plan-files",
			FilesystemRoot: "./data/files",
			PresignTTL:     15 * time.Minute,
			MaxUploadBytes: 200 << 20,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			Enabled:   true,
			L1Entries: 1000,
			PlanTTL:   10 * time.Minute,
			ListTTL:   time.Minute,
		},
		Payments: PaymentsConfig{
			Currency:          "NGN",
			PaystackBaseURL:   "https://api.paystack.co",
			VendorTimeout:     10 * time.Second,
			RetryMaxAttempts:  3,
			RetryInitialDelay: 200 * time.Millisecond,
			RetryMaxDelay:     2 * time.Second,
		},
		Auth: AuthConfig{
			Audience: "authenticated",
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 30,
			Window:   time.Minute,
		},
		Jobs: JobsConfig{
			ExpirePendingSchedule: "*/15 * * * *",
			PendingOrderTTL:       24 * time.Hour,
			DeactivateAdsSchedule: "0 * * * *",
			WarmCacheSchedule:     "*/30 * * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogMaxSizeMB:       100,
			LogMaxBackups:      5,
			LogMaxAgeDays:      28,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "storefront",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads defaults, then the YAML file named by SAK_CONFIG_FILE, then
// environment variables, and validates the result
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SAK_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile loads defaults plus the given YAML file without env overrides
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("SAK_HOST", s.Host)
	s.Port = getEnv("SAK_PORT", s.Port)
	s.HealthPort = getEnv("SAK_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("SAK_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("SAK_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("SAK_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("SAK_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("SAK_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.PublicBaseURL = getEnv("SAK_PUBLIC_BASE_URL", s.PublicBaseURL)
	s.FrontendURL = getEnv("SAK_FRONTEND_URL", s.FrontendURL)
	s.CORSOrigins = getEnvList("SAK_CORS_ORIGINS", s.CORSOrigins)
	s.TrustedProxies = getEnvList("SAK_TRUSTED_PROXIES", s.TrustedProxies)

	d := &c.Database
	d.Driver = getEnv("SAK_DATABASE_DRIVER", d.Driver)
	d.URL = getEnv("SAK_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("SAK_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("SAK_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("SAK_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.Timeout = getEnvDuration("SAK_DATABASE_TIMEOUT", d.Timeout)
	d.AutoMigrate = getEnvBool("SAK_DATABASE_AUTO_MIGRATE", d.AutoMigrate)

	b := &c.Blob
	b.Backend = getEnv("SAK_BLOB_BACKEND", b.Backend)
	b.Endpoint = getEnv("SAK_S3_ENDPOINT", b.Endpoint)
	b.Region = getEnv("SAK_S3_REGION", b.Region)
	b.Bucket = getEnv("SAK_S3_BUCKET", b.Bucket)
	b.AccessKey = getEnv("SAK_S3_ACCESS_KEY", b.AccessKey)
	b.SecretKey = getEnv("SAK_S3_SECRET_KEY", b.SecretKey)
	b.UsePathStyle = getEnvBool("SAK_S3_USE_PATH_STYLE", b.UsePathStyle)
	b.FilesystemRoot = getEnv("SAK_FILESYSTEM_ROOT", b.FilesystemRoot)
	b.SigningKey = getEnv("SAK_BLOB_SIGNING_KEY", b.SigningKey)
	b.PresignTTL = getEnvDuration("SAK_BLOB_PRESIGN_TTL", b.PresignTTL)
	b.MaxUploadBytes = getEnvInt64("SAK_BLOB_MAX_UPLOAD_BYTES", b.MaxUploadBytes)

	r := &c.Redis
	r.URL = getEnv("SAK_REDIS_URL", r.URL)
	r.Password = getEnv("SAK_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("SAK_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("SAK_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("SAK_REDIS_MAX_RETRIES", r.MaxRetries)

	ca := &c.Cache
	ca.Enabled = getEnvBool("SAK_CACHE_ENABLED", ca.Enabled)
	ca.L1Entries = getEnvInt("SAK_CACHE_L1_ENTRIES", ca.L1Entries)
	ca.PlanTTL = getEnvDuration("SAK_CACHE_PLAN_TTL", ca.PlanTTL)
	ca.ListTTL = getEnvDuration("SAK_CACHE_LIST_TTL", ca.ListTTL)

	p := &c.Payments
	p.Currency = strings.ToUpper(getEnv("SAK_CURRENCY", p.Currency))
	p.StripeSecretKey = getEnv("SAK_STRIPE_SECRET_KEY", p.StripeSecretKey)
	p.StripeWebhookSecret = getEnv("SAK_STRIPE_WEBHOOK_SECRET", p.StripeWebhookSecret)
	p.StripeBaseURL = getEnv("SAK_STRIPE_BASE_URL", p.StripeBaseURL)
	p.PaystackSecretKey = getEnv("SAK_PAYSTACK_SECRET_KEY", p.PaystackSecretKey)
	p.PaystackBaseURL = getEnv("SAK_PAYSTACK_BASE_URL", p.PaystackBaseURL)
	p.VendorTimeout = getEnvDuration("SAK_PAYMENT_VENDOR_TIMEOUT", p.VendorTimeout)
	p.RetryMaxAttempts = getEnvInt("SAK_PAYMENT_RETRY_MAX_ATTEMPTS", p.RetryMaxAttempts)
	p.RetryInitialDelay = getEnvDuration("SAK_PAYMENT_RETRY_INITIAL_DELAY", p.RetryInitialDelay)
	p.RetryMaxDelay = getEnvDuration("SAK_PAYMENT_RETRY_MAX_DELAY", p.RetryMaxDelay)

	a := &c.Auth
	a.Issuer = getEnv("SAK_AUTH_ISSUER", a.Issuer)
	a.JWKSURL = getEnv("SAK_AUTH_JWKS_URL", a.JWKSURL)
	a.Audience = getEnv("SAK_AUTH_AUDIENCE", a.Audience)
	a.AdminEmails = getEnvList("SAK_ADMIN_EMAILS", a.AdminEmails)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("SAK_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.Requests = getEnvInt("SAK_RATE_LIMIT_REQUESTS", rl.Requests)
	rl.Window = getEnvDuration("SAK_RATE_LIMIT_WINDOW", rl.Window)
	rl.Burst = getEnvInt("SAK_RATE_LIMIT_BURST", rl.Burst)

	j := &c.Jobs
	j.ExpirePendingSchedule = getEnv("SAK_JOB_EXPIRE_PENDING_SCHEDULE", j.ExpirePendingSchedule)
	j.PendingOrderTTL = getEnvDuration("SAK_PENDING_ORDER_TTL", j.PendingOrderTTL)
	j.DeactivateAdsSchedule = getEnv("SAK_JOB_DEACTIVATE_ADS_SCHEDULE", j.DeactivateAdsSchedule)
	j.WarmCacheSchedule = getEnv("SAK_JOB_WARM_CACHE_SCHEDULE", j.WarmCacheSchedule)

	o := &c.Observability
	o.LogLevel = getEnv("SAK_LOG_LEVEL", o.LogLevel)
	o.LogFile = getEnv("SAK_LOG_FILE", o.LogFile)
	o.MetricsEnabled = getEnvBool("SAK_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("SAK_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("SAK_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("SAK_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("SAK_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("SAK_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("SAK_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.FrontendURL == "" {
		return fmt.Errorf("frontend URL is required for payment redirects")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Blob.Backend {
	case "filesystem":
		if c.Blob.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blob storage")
		}
		if c.Blob.SigningKey == "" {
			return fmt.Errorf("blob signing key is required for filesystem blob storage")
		}
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("bucket is required for s3 blob storage")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s (must be s3 or filesystem)", c.Blob.Backend)
	}

	if !c.Payments.StripeEnabled() && !c.Payments.PaystackEnabled() {
		return fmt.Errorf("at least one payment provider must be configured")
	}
	if c.Payments.StripeEnabled() && c.Payments.StripeWebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required when stripe is enabled")
	}
	if len(c.Payments.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter ISO code, got %q", c.Payments.Currency)
	}
	if c.Payments.RetryMaxAttempts < 1 {
		return fmt.Errorf("payment retry attempts must be at least 1")
	}

	if c.Auth.JWKSURL == "" || c.Auth.Issuer == "" {
		return fmt.Errorf("auth issuer and JWKS URL are required")
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive when enabled")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit burst cannot be negative")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			return fmt.Errorf("trusted proxy %q is not an IP or CIDR", proxy)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
