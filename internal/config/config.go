package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"`

	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRequestSize   int64         `mapstructure:"max_request_size"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Token    string `mapstructure:"token"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LimitsConfig carries the default per-tenant rate and cost limits.
// A zero value means the dimension is unlimited and is skipped.
// Algorithm selects the distributed-tier engine: "log" (exact, one sample
// per event) or "counter" (two fixed windows, O(1) storage per key).
type LimitsConfig struct {
	Algorithm         string  `mapstructure:"algorithm"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	RequestsPerHour   int     `mapstructure:"requests_per_hour"`
	RequestsPerDay    int     `mapstructure:"requests_per_day"`
	CostPerMinute     float64 `mapstructure:"cost_per_minute"`
	CostPerHour       float64 `mapstructure:"cost_per_hour"`
	CostPerDay        float64 `mapstructure:"cost_per_day"`
}

// ProvidersConfig holds the shared system keys, used when a tenant has not
// supplied its own key for a provider.
type ProvidersConfig struct {
	OpenAIKey    string `mapstructure:"openai_key"`
	AnthropicKey string `mapstructure:"anthropic_key"`
	GoogleKey    string `mapstructure:"google_key"`
	CohereKey    string `mapstructure:"cohere_key"`
	MistralKey   string `mapstructure:"mistral_key"`
}

// SystemKey returns the shared key for a provider, or "" if none is configured.
func (p ProvidersConfig) SystemKey(provider string) string {
	switch provider {
	case "openai":
		return p.OpenAIKey
	case "anthropic":
		return p.AnthropicKey
	case "google":
		return p.GoogleKey
	case "cohere":
		return p.CohereKey
	case "mistral":
		return p.MistralKey
	}
	return ""
}

type AuthConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	EncryptionKey string        `mapstructure:"encryption_key"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/als-gateway")
	}

	setDefaults(v)
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// CORS_ORIGINS arrives as a comma-separated string from the environment.
	if len(cfg.CORS.AllowedOrigins) == 1 && strings.Contains(cfg.CORS.AllowedOrigins[0], ",") {
		cfg.CORS.AllowedOrigins = splitAndTrim(cfg.CORS.AllowedOrigins[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the gateway cannot run without.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url (ADMIN_BACKEND_URL) is required")
	}
	if c.Backend.Token == "" {
		return fmt.Errorf("backend.token (ADMIN_BACKEND_TOKEN) is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.max_request_size", 10*1024*1024)
	v.SetDefault("server.graceful_shutdown", "30s")

	// Redis defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	// Backend defaults
	v.SetDefault("backend.timeout", "10s")

	// Limit defaults
	v.SetDefault("limits.algorithm", "log")
	v.SetDefault("limits.requests_per_minute", 60)
	v.SetDefault("limits.requests_per_hour", 1000)
	v.SetDefault("limits.requests_per_day", 10000)
	v.SetDefault("limits.cost_per_minute", 1.0)
	v.SetDefault("limits.cost_per_hour", 10.0)
	v.SetDefault("limits.cost_per_day", 100.0)

	// Auth defaults
	v.SetDefault("auth.cache_ttl", "300s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "")

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 86400)
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("environment", "ENVIRONMENT")

	// Server
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.metrics_port", "METRICS_PORT")
	_ = v.BindEnv("server.request_timeout", "REQUEST_TIMEOUT")
	_ = v.BindEnv("server.max_request_size", "MAX_REQUEST_SIZE")

	// Redis
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("redis.token", "REDIS_TOKEN")
	_ = v.BindEnv("redis.db", "REDIS_DB")

	// Admin backend
	_ = v.BindEnv("backend.url", "ADMIN_BACKEND_URL")
	_ = v.BindEnv("backend.token", "ADMIN_BACKEND_TOKEN")

	// Limits
	_ = v.BindEnv("limits.algorithm", "RATE_LIMIT_ALGORITHM")
	_ = v.BindEnv("limits.requests_per_minute", "DEFAULT_RATE_LIMIT_PER_MINUTE")
	_ = v.BindEnv("limits.requests_per_hour", "DEFAULT_RATE_LIMIT_PER_HOUR")
	_ = v.BindEnv("limits.requests_per_day", "DEFAULT_RATE_LIMIT_PER_DAY")
	_ = v.BindEnv("limits.cost_per_minute", "DEFAULT_COST_LIMIT_PER_MINUTE")
	_ = v.BindEnv("limits.cost_per_hour", "DEFAULT_COST_LIMIT_PER_HOUR")
	_ = v.BindEnv("limits.cost_per_day", "DEFAULT_COST_LIMIT_PER_DAY")

	// Provider system keys
	_ = v.BindEnv("providers.openai_key", "OPENAI_API_KEY")
	_ = v.BindEnv("providers.anthropic_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.google_key", "GOOGLE_AI_API_KEY")
	_ = v.BindEnv("providers.cohere_key", "COHERE_API_KEY")
	_ = v.BindEnv("providers.mistral_key", "MISTRAL_API_KEY")

	// Auth
	_ = v.BindEnv("auth.cache_ttl", "AUTH_CACHE_TTL")
	_ = v.BindEnv("auth.encryption_key", "ENCRYPTION_KEY")

	// Logging
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")

	// CORS
	_ = v.BindEnv("cors.allowed_origins", "CORS_ORIGINS")
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
