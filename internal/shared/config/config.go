package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is the optional YAML file consulted before the environment.
const DefaultPath = "config/config.yaml"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type HTTPConfig struct {
	Port          int `mapstructure:"port"`
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"database"`
	MaxConns        int32  `mapstructure:"max_conns"`
	ConnectAttempts uint64 `mapstructure:"connect_attempts"`
}

type RabbitMQConfig struct {
	URL           string        `mapstructure:"url"` // overrides host/port/user/password when set
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Queue         string        `mapstructure:"queue"`
	Prefetch      int           `mapstructure:"prefetch"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	DeadLetter    bool          `mapstructure:"dead_letter"`
}

type TelemetryConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	ServiceVersion string `mapstructure:"service_version"`
}

// bindings maps config keys to the environment variables that may set them, in precedence order.
var bindings = map[string][]string{
	"http.port":                 {"PORT", "HTTP_PORT"},
	"http.max_concurrent":       {"HTTP_MAX_CONCURRENT"},
	"log.level":                 {"LOG_LEVEL"},
	"database.host":             {"DB_HOST"},
	"database.port":             {"DB_PORT"},
	"database.user":             {"DB_USER"},
	"database.password":         {"DB_PASSWORD"},
	"database.database":         {"DB_NAME"},
	"database.max_conns":        {"DB_MAX_CONNS"},
	"database.connect_attempts": {"DB_CONNECT_ATTEMPTS"},
	"rabbitmq.url":              {"RABBITMQ_URL"},
	"rabbitmq.host":             {"RABBITMQ_HOST"},
	"rabbitmq.port":             {"RABBITMQ_PORT"},
	"rabbitmq.user":             {"RABBITMQ_USER"},
	"rabbitmq.password":         {"RABBITMQ_PASSWORD"},
	"rabbitmq.queue":            {"RABBITMQ_QUEUE"},
	"rabbitmq.prefetch":         {"RABBITMQ_PREFETCH"},
	"rabbitmq.retry_interval":   {"RABBITMQ_RETRY_INTERVAL"},
	"rabbitmq.dead_letter":      {"RABBITMQ_DEAD_LETTER"},
	"telemetry.endpoint":        {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"telemetry.service_version": {"SERVICE_VERSION"},
}

// Load reads defaults, the optional YAML file at path and the process environment, then validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets local-development defaults for every key.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.max_concurrent", 50)
	v.SetDefault("log.level", "debug")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "billing_user")
	v.SetDefault("database.password", "billing_pass")
	v.SetDefault("database.database", "billing")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.connect_attempts", 90)

	// RabbitMQ
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.queue", "billing_queue")
	v.SetDefault("rabbitmq.prefetch", 1)
	v.SetDefault("rabbitmq.retry_interval", 3*time.Second)
	v.SetDefault("rabbitmq.dead_letter", true)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_version", "0.1.0")
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		problems = append(problems, "http.port must be in 1..65535")
	}
	if c.HTTP.MaxConcurrent <= 0 {
		problems = append(problems, "http.max_concurrent must be > 0")
	}

	// DB
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.database (name) is required")
	}
	if c.Database.MaxConns <= 0 {
		problems = append(problems, "database.max_conns must be > 0")
	}

	// RabbitMQ
	if c.RabbitMQ.URL == "" {
		if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
	}
	if strings.TrimSpace(c.RabbitMQ.Queue) == "" {
		problems = append(problems, "rabbitmq.queue is required")
	}
	if c.RabbitMQ.Prefetch <= 0 {
		problems = append(problems, "rabbitmq.prefetch must be > 0")
	}
	if c.RabbitMQ.RetryInterval <= 0 {
		problems = append(problems, "rabbitmq.retry_interval must be > 0")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
