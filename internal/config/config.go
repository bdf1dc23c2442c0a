package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang-intel-service/internal/channel"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the streamer configuration, read once at startup
type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Cache    CacheConfig    `json:"cache"`
	Session  SessionConfig  `json:"session"`
	Producer ProducerConfig `json:"producer"`
	Auth     AuthConfig     `json:"-"`
	App      AppConfig      `json:"app"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port" validate:"required,numeric"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `json:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `json:"idle_timeout" validate:"gt=0"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url" validate:"required_if=Enabled true"`
}

// CacheConfig holds delivery cache configuration
type CacheConfig struct {
	DefaultTTL    time.Duration                      `json:"default_ttl" validate:"gt=0"`
	CategoryTTL   map[channel.Category]time.Duration `json:"category_ttl"`
	SweepInterval time.Duration                      `json:"sweep_interval" validate:"gte=0"`
}

// SessionConfig holds per-connection configuration
type SessionConfig struct {
	QueueSize    int           `json:"queue_size" validate:"gte=1"`
	QueueWait    time.Duration `json:"queue_wait" validate:"gt=0"`
	WriteWait    time.Duration `json:"write_wait" validate:"gt=0"`
	PingInterval time.Duration `json:"ping_interval" validate:"gte=0"`
	ControlRate  float64       `json:"control_rate" validate:"gte=0"`
	ControlBurst int           `json:"control_burst" validate:"gte=0"`
}

// ProducerConfig selects and configures the record source
type ProducerConfig struct {
	Source        string        `json:"source" validate:"oneof=simulated redis kafka"`
	SimulatedRate float64       `json:"simulated_rate" validate:"gt=0"`
	KafkaBrokers  []string      `json:"kafka_brokers"`
	KafkaTopic    string        `json:"kafka_topic"`
	KafkaGroupID  string        `json:"kafka_group_id"`
	StatsInterval time.Duration `json:"stats_interval" validate:"gte=0"`
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `json:"environment" validate:"oneof=development staging production test"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json console"`
}

// DefaultEnvFiles are tried in order when no env file is given
var DefaultEnvFiles = []string{
	"configs/production.env",
	"configs/streamer.env",
	".env",
}

// Load reads and validates the configuration
func Load(envFiles ...string) (*Config, error) {
	config, err := Read(envFiles...)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Read loads configuration from the first existing env file and the
// process environment without validating it, so callers can apply
// overrides first. Variables already set in the environment win.
func Read(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	for _, envFile := range envFiles {
		if envFile == "" {
			continue
		}
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
			break
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnvOrDefault("WS_PORT", "8080"),
			Host:         getEnvOrDefault("HOST", "0.0.0.0"),
			ReadTimeout:  getDurationOrDefault("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationOrDefault("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationOrDefault("IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Enabled: getBoolOrDefault("REDIS_ENABLED", false),
			URL:     getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		},
		Cache: CacheConfig{
			DefaultTTL:    getDurationOrDefault("CACHE_DEFAULT_TTL", 60*time.Second),
			CategoryTTL:   categoryTTLs(),
			SweepInterval: getDurationOrDefault("CACHE_SWEEP_INTERVAL", 30*time.Second),
		},
		Session: SessionConfig{
			QueueSize:    getIntOrDefault("QUEUE_SIZE", 256),
			QueueWait:    getDurationOrDefault("QUEUE_WAIT", time.Second),
			WriteWait:    getDurationOrDefault("WRITE_WAIT", 10*time.Second),
			PingInterval: getDurationOrDefault("PING_INTERVAL", 30*time.Second),
			ControlRate:  getFloatOrDefault("CONTROL_RATE", 20),
			ControlBurst: getIntOrDefault("CONTROL_BURST", 40),
		},
		Producer: ProducerConfig{
			Source:        strings.ToLower(getEnvOrDefault("SOURCE", "simulated")),
			SimulatedRate: getFloatOrDefault("SIMULATED_RATE", 10),
			KafkaBrokers:  getListOrDefault("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:    getEnvOrDefault("KAFKA_TOPIC", "intel.records"),
			KafkaGroupID:  getEnvOrDefault("KAFKA_GROUP_ID", "intel-streamer"),
			StatsInterval: getDurationOrDefault("PRODUCER_STATS_INTERVAL", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvOrDefault("JWT_SECRET", ""),
			JWTIssuer: getEnvOrDefault("JWT_ISSUER", "intel-streamer"),
		},
		App: AppConfig{
			Environment: strings.ToLower(getEnvOrDefault("ENVIRONMENT", "development")),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		},
	}

	return config, nil
}

var validate = validator.New()

// Validate checks struct tags, then the constraints that span sections
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Producer.Source == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("redis source requires REDIS_ENABLED=true")
	}

	if c.Producer.Source == "kafka" {
		if len(c.Producer.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka source requires KAFKA_BROKERS")
		}
		if c.Producer.KafkaTopic == "" {
			return fmt.Errorf("kafka source requires KAFKA_TOPIC")
		}
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}

	for category, ttl := range c.Cache.CategoryTTL {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL for %s must be positive", category)
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// categoryTTLs reads CACHE_TTL_<CATEGORY> overrides for the built-in categories
func categoryTTLs() map[channel.Category]time.Duration {
	out := make(map[channel.Category]time.Duration)
	for _, category := range channel.DefaultRegistry().Categories() {
		key := "CACHE_TTL_" + strings.ToUpper(string(category))
		if value := os.Getenv(key); value != "" {
			if ttl, err := time.ParseDuration(value); err == nil {
				out[category] = ttl
			} else {
				out[category] = 0
			}
		}
	}
	return out
}

// Typed environment getters; unset or unparsable values fall back to the default

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListOrDefault(key string, defaultValue []string) []string {
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
