package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the bid optimizer.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Optimizer  OptimizerConfig
	Detection  DetectionConfig
	Seed       SeedConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// WeightCacheTTL is how long resolved weight sets stay cached.
	WeightCacheTTL time.Duration
}

// ClickHouseConfig configures the optional warehouse reader for performance rows.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     []string
	Database string
	Username string
	Password string
	Table    string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	// RPS/Burst apply to the compute endpoints under /v1/recommendations.
	RPS       float64
	Burst     int
	MgmtRPS   float64
	MgmtBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// OptimizerConfig holds the engine thresholds. Defaults match the
// production policy.
type OptimizerConfig struct {
	MinClicks      int
	NegativeClicks int
	CooldownDays   int

	Band          float64
	MinMultiplier float64
	MaxMultiplier float64

	FallbackBand          float64
	FallbackMinMultiplier float64
	FallbackMaxMultiplier float64

	ModifierMin float64
	ModifierMax float64

	MaxTargets int
}

// DetectionConfig schedules the daily bid change detection batch.
type DetectionConfig struct {
	Enabled      bool
	CronSpec     string
	LookbackDays int
	LockTTL      time.Duration
	RunOnStart   bool
}

// SeedConfig points at an optional YAML file of weight sets and goals.
type SeedConfig struct {
	Path string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("BIDOPT_HTTP_ADDR", ":8080"),
			Env:             getEnv("BIDOPT_ENV", "development"),
			ShutdownTimeout: getDurationEnv("BIDOPT_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getDurationEnv("BIDOPT_REQUEST_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("BIDOPT_DB_ENABLED", true),
			Host:     getEnv("BIDOPT_DB_HOST", "localhost"),
			Port:     getIntEnv("BIDOPT_DB_PORT", 5432),
			User:     getEnv("BIDOPT_DB_USER", "bidopt"),
			Password: getEnv("BIDOPT_DB_PASSWORD", "bidopt_secret"),
			DBName:   getEnv("BIDOPT_DB_NAME", "bidopt"),
			SSLMode:  getEnv("BIDOPT_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("BIDOPT_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("BIDOPT_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Enabled:        getBoolEnv("BIDOPT_REDIS_ENABLED", true),
			Addr:           getEnv("BIDOPT_REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("BIDOPT_REDIS_PASSWORD", ""),
			DB:             getIntEnv("BIDOPT_REDIS_DB", 0),
			WeightCacheTTL: getDurationEnv("BIDOPT_WEIGHT_CACHE_TTL", 5*time.Minute),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("BIDOPT_CLICKHOUSE_ENABLED", false),
			Addr:     getSliceEnv("BIDOPT_CLICKHOUSE_ADDR", []string{"localhost:9000"}),
			Database: getEnv("BIDOPT_CLICKHOUSE_DB", "ads"),
			Username: getEnv("BIDOPT_CLICKHOUSE_USER", "default"),
			Password: getEnv("BIDOPT_CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("BIDOPT_CLICKHOUSE_TABLE", "ad_performance_daily"),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("BIDOPT_AUTH_ENABLED", true),
			MasterKey: getEnv("BIDOPT_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("BIDOPT_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:   getBoolEnv("BIDOPT_RATE_LIMIT_ENABLED", true),
			RPS:       getFloatEnv("BIDOPT_RATE_LIMIT_RPS", 5),
			Burst:     getIntEnv("BIDOPT_RATE_LIMIT_BURST", 10),
			MgmtRPS:   getFloatEnv("BIDOPT_RATE_LIMIT_MGMT_RPS", 50),
			MgmtBurst: getIntEnv("BIDOPT_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("BIDOPT_LOG_LEVEL", "info"),
			Format: getEnv("BIDOPT_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("BIDOPT_METRICS_ENABLED", true),
			Path:      getEnv("BIDOPT_METRICS_PATH", "/metrics"),
			Namespace: getEnv("BIDOPT_METRICS_NAMESPACE", "bidopt"),
		},
		Optimizer: OptimizerConfig{
			MinClicks:             getIntEnv("BIDOPT_MIN_CLICKS", 30),
			NegativeClicks:        getIntEnv("BIDOPT_NEGATIVE_CLICKS", 20),
			CooldownDays:          getIntEnv("BIDOPT_COOLDOWN_DAYS", 14),
			Band:                  getFloatEnv("BIDOPT_BAND", 0.03),
			MinMultiplier:         getFloatEnv("BIDOPT_MIN_MULTIPLIER", 0.5),
			MaxMultiplier:         getFloatEnv("BIDOPT_MAX_MULTIPLIER", 1.5),
			FallbackBand:          getFloatEnv("BIDOPT_FALLBACK_BAND", 0.10),
			FallbackMinMultiplier: getFloatEnv("BIDOPT_FALLBACK_MIN_MULTIPLIER", 0.20),
			FallbackMaxMultiplier: getFloatEnv("BIDOPT_FALLBACK_MAX_MULTIPLIER", 1.50),
			ModifierMin:           getFloatEnv("BIDOPT_MODIFIER_MIN", 0),
			ModifierMax:           getFloatEnv("BIDOPT_MODIFIER_MAX", 900),
			MaxTargets:            getIntEnv("BIDOPT_MAX_TARGETS", 500),
		},
		Detection: DetectionConfig{
			Enabled:      getBoolEnv("BIDOPT_DETECTION_ENABLED", true),
			CronSpec:     getEnv("BIDOPT_DETECTION_CRON", "0 30 4 * * *"), // 04:30 UTC daily
			LookbackDays: getIntEnv("BIDOPT_DETECTION_LOOKBACK_DAYS", 30),
			LockTTL:      getDurationEnv("BIDOPT_DETECTION_LOCK_TTL", 30*time.Minute),
			RunOnStart:   getBoolEnv("BIDOPT_DETECTION_RUN_ON_START", false),
		},
		Seed: SeedConfig{
			Path: getEnv("BIDOPT_SEED_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("BIDOPT_API_KEY_MASTER is required when auth is enabled")
	}
	o := c.Optimizer
	if o.MinClicks <= 0 || o.NegativeClicks <= 0 {
		return fmt.Errorf("click thresholds must be positive")
	}
	if o.CooldownDays < 0 {
		return fmt.Errorf("BIDOPT_COOLDOWN_DAYS must not be negative")
	}
	if o.MinMultiplier <= 0 || o.MinMultiplier > o.MaxMultiplier {
		return fmt.Errorf("invalid multiplier bounds [%v, %v]", o.MinMultiplier, o.MaxMultiplier)
	}
	if o.FallbackMinMultiplier <= 0 || o.FallbackMinMultiplier > o.FallbackMaxMultiplier {
		return fmt.Errorf("invalid fallback multiplier bounds [%v, %v]", o.FallbackMinMultiplier, o.FallbackMaxMultiplier)
	}
	if o.ModifierMin > o.ModifierMax {
		return fmt.Errorf("invalid modifier bounds [%v, %v]", o.ModifierMin, o.ModifierMax)
	}
	if o.MaxTargets <= 0 {
		return fmt.Errorf("BIDOPT_MAX_TARGETS must be positive")
	}
	if c.Detection.Enabled && c.Detection.LookbackDays <= 0 {
		return fmt.Errorf("BIDOPT_DETECTION_LOOKBACK_DAYS must be positive")
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addr) == 0 {
		return fmt.Errorf("BIDOPT_CLICKHOUSE_ADDR is required when ClickHouse is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
