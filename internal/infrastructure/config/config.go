package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Callback      CallbackConfig      `mapstructure:"callback"`
	Notifier      NotifierConfig      `mapstructure:"notifier"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MinConnections   int           `mapstructure:"min_connections"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	// StatementTimeout bounds every statement server-side. Zero disables it.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	PoolSize          int           `mapstructure:"pool_size"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// CallbackConfig tunes callback ingestion and reconciliation.
type CallbackConfig struct {
	// SharedSecret enables signature verification when non-empty.
	SharedSecret       string        `mapstructure:"shared_secret"`
	ResolveAttempts    uint          `mapstructure:"resolve_attempts"`
	ResolveDelay       time.Duration `mapstructure:"resolve_delay"`
	BulkConcurrency    int           `mapstructure:"bulk_concurrency"`
	BulkMaxItems       int           `mapstructure:"bulk_max_items"`
	DistributedLock    bool          `mapstructure:"distributed_lock"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

type NotifierConfig struct {
	BufferSize       int           `mapstructure:"buffer_size"`
	RedisChannel     string        `mapstructure:"redis_channel"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CALLBACKS")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/callbacks")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Callback.ResolveAttempts == 0 {
		errs = append(errs, fmt.Errorf("callback.resolve_attempts must be at least 1"))
	}
	if c.Callback.ResolveDelay < 0 {
		errs = append(errs, fmt.Errorf("callback.resolve_delay must not be negative"))
	}
	if c.Callback.BulkConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("callback.bulk_concurrency must be positive"))
	}
	if c.Callback.BulkMaxItems <= 0 {
		errs = append(errs, fmt.Errorf("callback.bulk_max_items must be positive"))
	}
	if c.Callback.DistributedLock && c.Callback.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("callback.lock_ttl must be positive when distributed_lock is enabled"))
	}
	if c.Notifier.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("notifier.buffer_size must be positive"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Callback.SharedSecret == "" {
			errs = append(errs, fmt.Errorf("callback.shared_secret required in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "25s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "callbacks")
	v.SetDefault("database.database", "callbacks")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.statement_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Callback defaults: one lookup plus five retries, 500ms apart
	v.SetDefault("callback.resolve_attempts", 6)
	v.SetDefault("callback.resolve_delay", "500ms")
	v.SetDefault("callback.bulk_concurrency", 8)
	v.SetDefault("callback.bulk_max_items", 500)
	v.SetDefault("callback.distributed_lock", false)
	v.SetDefault("callback.lock_ttl", "10s")
	v.SetDefault("callback.rate_limit_per_minute", 600)

	// Notifier defaults
	v.SetDefault("notifier.buffer_size", 1024)
	v.SetDefault("notifier.redis_channel", "callbacks:events")
	v.SetDefault("notifier.ping_interval", "54s")
	v.SetDefault("notifier.breaker_threshold", 5)
	v.SetDefault("notifier.breaker_timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("instance_id", "callbacks-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrateURL renders the database as a URL for golang-migrate.
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
