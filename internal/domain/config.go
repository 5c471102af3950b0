package domain

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Tarifario configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Engine holds calculation engine settings.
	Engine EngineConfig `yaml:"engine"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds

	// AllowedOrigins restricts CORS; empty allows every origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// EngineConfig holds calculation engine settings.
type EngineConfig struct {
	// DefaultCurrency stamps results whose reference values carry none.
	DefaultCurrency string `yaml:"defaultCurrency"`

	// RBUCode is the reference value code of the base unified wage.
	RBUCode string `yaml:"rbuCode"`

	// ResolverCacheTTL is the cache lifetime in seconds for resolver and
	// reference value lookups.
	ResolverCacheTTL int `yaml:"resolverCacheTtl"`
}

// ResolverTTL returns ResolverCacheTTL as a duration, defaulting to one
// minute when unset.
func (c EngineConfig) ResolverTTL() time.Duration {
	if c.ResolverCacheTTL <= 0 {
		return time.Minute
	}
	return time.Duration(c.ResolverCacheTTL) * time.Second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"serviceName"`
	ExporterType string `yaml:"exporterType"` // stdout, otlp
	Endpoint     string `yaml:"endpoint"`
}

// DefaultConfig returns the single-node configuration:
// SQLite, in-process LRU cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./tarifario.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // seconds
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			DefaultCurrency:  "USD",
			RBUCode:          CodeRBU,
			ResolverCacheTTL: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "tarifario",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments:
// PostgreSQL, two-phase Redis cache, NATS bus.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "tarifario",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration: defaults, then an optional YAML
// override file, then environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if os.Getenv("TARIFARIO_DISTRIBUTED") == "true" {
		cfg = DistributedConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TARIFARIO_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("TARIFARIO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("TARIFARIO_DB_DRIVER"); v != "" {
		c.Repository.Driver = v
	}
	if v := os.Getenv("TARIFARIO_SQLITE_PATH"); v != "" {
		c.Repository.SQLitePath = v
	}
	if v := os.Getenv("TARIFARIO_POSTGRES_HOST"); v != "" {
		c.Repository.PostgresHost = v
	}
	if v := os.Getenv("TARIFARIO_POSTGRES_USER"); v != "" {
		c.Repository.PostgresUser = v
	}
	if v := os.Getenv("TARIFARIO_POSTGRES_PASSWORD"); v != "" {
		c.Repository.PostgresPassword = v
	}
	if v := os.Getenv("TARIFARIO_POSTGRES_DB"); v != "" {
		c.Repository.PostgresDB = v
	}
	if v := os.Getenv("TARIFARIO_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("TARIFARIO_NATS_URL"); v != "" {
		c.EventBus.NATSUrl = v
	}
	if v := os.Getenv("TARIFARIO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TARIFARIO_CURRENCY"); v != "" {
		c.Engine.DefaultCurrency = v
	}
}
