// Package config loads the router configuration from the environment,
// with .env support for local development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration.
type Config struct {
	Environment string
	Database    DatabaseConfig
	Providers   ProvidersConfig
	Budget      BudgetConfig
	Routing     RoutingConfig
}

// DatabaseConfig holds PostgreSQL configuration for the spend ledger.
// When ConnectionString (from DATABASE_URL) is set it takes precedence
// over the individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ProviderConfig holds one vendor adapter's configuration.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Enabled    bool
	Priority   int
}

// ProvidersConfig holds all vendor adapter configurations.
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Mistral   ProviderConfig
	Stability ProviderConfig
}

// BudgetConfig holds per-tenant spend limits in cents. Zero disables a
// limit.
type BudgetConfig struct {
	DailyLimitCents   int
	MonthlyLimitCents int
}

// RoutingConfig holds routing behavior overrides.
type RoutingConfig struct {
	// DefaultFallbacks is the provider chain tried when the primary
	// fails and the request carries no chain of its own.
	DefaultFallbacks []string
}

// New loads configuration from the environment and validates it.
func New() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Database:    loadDatabaseConfig(),
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:     getEnv("OPENAI_API_KEY", ""),
				BaseURL:    getEnv("OPENAI_BASE_URL", ""),
				Timeout:    getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
				MaxRetries: getEnvAsInt("OPENAI_MAX_RETRIES", 3),
				Enabled:    getEnvAsBool("OPENAI_ENABLED", true),
				Priority:   getEnvAsInt("OPENAI_PRIORITY", 1),
			},
			Anthropic: ProviderConfig{
				APIKey:     getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:    getEnv("ANTHROPIC_BASE_URL", ""),
				Timeout:    getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
				MaxRetries: getEnvAsInt("ANTHROPIC_MAX_RETRIES", 3),
				Enabled:    getEnvAsBool("ANTHROPIC_ENABLED", true),
				Priority:   getEnvAsInt("ANTHROPIC_PRIORITY", 2),
			},
			Mistral: ProviderConfig{
				APIKey:     getEnv("MISTRAL_API_KEY", ""),
				BaseURL:    getEnv("MISTRAL_BASE_URL", ""),
				Timeout:    getEnvAsDuration("MISTRAL_TIMEOUT", 60*time.Second),
				MaxRetries: getEnvAsInt("MISTRAL_MAX_RETRIES", 3),
				Enabled:    getEnvAsBool("MISTRAL_ENABLED", true),
				Priority:   getEnvAsInt("MISTRAL_PRIORITY", 3),
			},
			Stability: ProviderConfig{
				APIKey:     getEnv("REPLICATE_API_TOKEN", ""),
				BaseURL:    getEnv("REPLICATE_BASE_URL", ""),
				Timeout:    getEnvAsDuration("REPLICATE_TIMEOUT", 60*time.Second),
				MaxRetries: getEnvAsInt("REPLICATE_MAX_RETRIES", 3),
				Enabled:    getEnvAsBool("STABILITY_ENABLED", true),
				Priority:   getEnvAsInt("STABILITY_PRIORITY", 4),
			},
		},
		Budget: BudgetConfig{
			DailyLimitCents:   getEnvAsInt("BUDGET_DAILY_LIMIT_CENTS", 0),
			MonthlyLimitCents: getEnvAsInt("BUDGET_MONTHLY_LIMIT_CENTS", 0),
		},
		Routing: RoutingConfig{
			DefaultFallbacks: getEnvAsList("ROUTING_DEFAULT_FALLBACKS", []string{"mistral"}),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() {
		if c.Providers.OpenAI.APIKey == "" &&
			c.Providers.Anthropic.APIKey == "" &&
			c.Providers.Mistral.APIKey == "" {
			return fmt.Errorf("at least one text provider must be configured in production")
		}
	}

	if c.Budget.DailyLimitCents < 0 || c.Budget.MonthlyLimitCents < 0 {
		return fmt.Errorf("budget limits cannot be negative")
	}

	return nil
}

// IsProduction returns true when running in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true when running in development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string. ConnectionString wins
// when set; otherwise the string is built from the individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a connection description safe for logging, with no
// password.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "airouter"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "airouter"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
