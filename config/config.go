package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP server
	Server ServerConfig `mapstructure:"server"`

	// Logging
	Log LogConfig `mapstructure:"log"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Token pool and redirect behaviour
	Shortener ShortenerConfig `mapstructure:"shortener"`

	// Redirect cache
	Cache CacheConfig `mapstructure:"cache"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

// ShortenerConfig drives token allocation and redirect resolution.
type ShortenerConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	NotFoundURL          string        `mapstructure:"not_found_url"`
	TokenLength          int           `mapstructure:"token_length"`
	Validity             time.Duration `mapstructure:"validity"`
	ReservedPoolTarget   int           `mapstructure:"reserved_pool_target"`
	MaxRetryDepth        int           `mapstructure:"max_retry_depth"`
	MaxDestinationLength int           `mapstructure:"max_destination_length"`
	AvailableTokens      int           `mapstructure:"available_tokens"`
	UseCache             bool          `mapstructure:"use_cache"`
	AsyncUsageLogging    bool          `mapstructure:"async_usage_logging"`
	ReplenishInterval    time.Duration `mapstructure:"replenish_interval"`
	UsageDedupeCapacity  uint          `mapstructure:"usage_dedupe_capacity"`
}

// CacheConfig selects and sizes the redirect cache backend.
type CacheConfig struct {
	Backend        string `mapstructure:"backend"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	LocalMaxCostMB int    `mapstructure:"local_max_cost_mb"`
	LocalCounters  int64  `mapstructure:"local_counters"`
}

const (
	CacheBackendRedis = "redis"
	CacheBackendLocal = "local"
)

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate rejects settings the token pool cannot work with.
func (c *Config) Validate() error {
	s := c.Shortener
	var errs []error
	if s.TokenLength <= 0 {
		errs = append(errs, fmt.Errorf("shortener.token_length must be positive, got %d", s.TokenLength))
	}
	if s.MaxRetryDepth <= 0 {
		errs = append(errs, fmt.Errorf("shortener.max_retry_depth must be positive, got %d", s.MaxRetryDepth))
	}
	if s.Validity <= 0 {
		errs = append(errs, fmt.Errorf("shortener.validity must be positive, got %s", s.Validity))
	}
	if s.ReservedPoolTarget < 0 {
		errs = append(errs, fmt.Errorf("shortener.reserved_pool_target must not be negative, got %d", s.ReservedPoolTarget))
	}
	if s.NotFoundURL == "" {
		errs = append(errs, errors.New("shortener.not_found_url is required"))
	}
	switch c.Cache.Backend {
	case CacheBackendRedis, CacheBackendLocal:
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be %q or %q, got %q", CacheBackendRedis, CacheBackendLocal, c.Cache.Backend))
	}
	return errors.Join(errs...)
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("nats.host", "localhost")
	v.SetDefault("nats.port", 4222)
	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("shortener.base_url", "http://localhost:8080/u")
	v.SetDefault("shortener.not_found_url", "https://localhost:8080/404")
	v.SetDefault("shortener.token_length", 5)
	v.SetDefault("shortener.validity", 5*365*24*time.Hour)
	v.SetDefault("shortener.reserved_pool_target", 10)
	v.SetDefault("shortener.max_retry_depth", 5)
	v.SetDefault("shortener.max_destination_length", 255)
	v.SetDefault("shortener.available_tokens", 4)
	v.SetDefault("shortener.use_cache", false)
	v.SetDefault("shortener.async_usage_logging", false)
	v.SetDefault("shortener.replenish_interval", time.Duration(0))
	v.SetDefault("shortener.usage_dedupe_capacity", 100000)

	v.SetDefault("cache.backend", CacheBackendRedis)
	v.SetDefault("cache.key_prefix", "redirect")
	v.SetDefault("cache.local_max_cost_mb", 64)
	v.SetDefault("cache.local_counters", 1000000)
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.env", "APP_ENV")
	v.BindEnv("log.level", "LOG_LEVEL")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
}
