// Package config loads service configuration from config.toml and
// STOCKSAGA_-prefixed environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Consul    ConsulConfig
	Log       LogConfig
	Retry     RetryConfig
	Saga      SagaConfig
	Outbox    OutboxConfig
	Telemetry TelemetryConfig
	Gateway   GatewayConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port int
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL time.Duration
	DedupTTL time.Duration
}

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Prefetch int
	Workers  int
}

type ConsulConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// RetryConfig drives the optimistic-concurrency retry coordinator.
type RetryConfig struct {
	MaxAttempts int
	BackoffMs   int
}

func (r RetryConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMs) * time.Millisecond
}

type SagaConfig struct {
	CompensatePartialReservation bool
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	Insecure          bool
	MetricsInterval   time.Duration
}

// GatewayConfig holds the fallback upstreams used when Consul has no
// healthy instance.
type GatewayConfig struct {
	OrderServiceURL     string
	InventoryServiceURL string
	RefreshInterval     time.Duration
}

// Load reads configuration for the named service. Priority: environment
// (STOCKSAGA_DATABASE_HOST ...), then config.toml, then defaults.
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/stocksaga")

	setDefaults(v, serviceName)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("STOCKSAGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetInt("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
			DedupTTL: v.GetDuration("redis.dedup_ttl"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     v.GetString("rabbitmq.host"),
			Port:     v.GetInt("rabbitmq.port"),
			User:     v.GetString("rabbitmq.user"),
			Password: v.GetString("rabbitmq.password"),
			VHost:    v.GetString("rabbitmq.vhost"),
			Prefetch: v.GetInt("rabbitmq.prefetch"),
			Workers:  v.GetInt("rabbitmq.workers"),
		},
		Consul: ConsulConfig{
			Enabled: v.GetBool("consul.enabled"),
			Host:    v.GetString("consul.host"),
			Port:    v.GetInt("consul.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BackoffMs:   v.GetInt("retry.backoff_ms"),
		},
		Saga: SagaConfig{
			CompensatePartialReservation: v.GetBool("saga.compensate_partial_reservation"),
		},
		Outbox: OutboxConfig{
			PollInterval: v.GetDuration("outbox.poll_interval"),
			BatchSize:    v.GetInt("outbox.batch_size"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
		},
		Gateway: GatewayConfig{
			OrderServiceURL:     v.GetString("gateway.order_service_url"),
			InventoryServiceURL: v.GetString("gateway.inventory_service_url"),
			RefreshInterval:     v.GetDuration("gateway.refresh_interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, serviceName string) {
	port, dbName := 8080, "stocksaga"
	switch serviceName {
	case "order-service":
		port, dbName = 8082, "orders"
	case "inventory-service":
		port, dbName = 8081, "inventory"
	}

	v.SetDefault("app.name", serviceName)
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", port)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "minisys")
	v.SetDefault("database.password", "minisys123")
	v.SetDefault("database.dbname", dbName)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "5m")
	v.SetDefault("redis.dedup_ttl", "24h")

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.prefetch", 10)
	v.SetDefault("rabbitmq.workers", 4)

	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.host", "localhost")
	v.SetDefault("consul.port", 8500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_ms", 50)

	v.SetDefault("saga.compensate_partial_reservation", true)

	v.SetDefault("outbox.poll_interval", "500ms")
	v.SetDefault("outbox.batch_size", 50)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.collector_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.metrics_interval", "30s")

	v.SetDefault("gateway.order_service_url", "http://order-service:8082")
	v.SetDefault("gateway.inventory_service_url", "http://inventory-service:8081")
	v.SetDefault("gateway.refresh_interval", "10s")
}

func (c *Config) validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMs < 0 {
		return fmt.Errorf("retry.backoff_ms cannot be negative, got %d", c.Retry.BackoffMs)
	}
	if c.RabbitMQ.Workers < 1 {
		return fmt.Errorf("rabbitmq.workers must be at least 1, got %d", c.RabbitMQ.Workers)
	}
	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("outbox.batch_size must be at least 1, got %d", c.Outbox.BatchSize)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the Postgres connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// URL returns the AMQP connection URL.
func (r RabbitMQConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   r.VHost,
	}
	return u.String()
}
