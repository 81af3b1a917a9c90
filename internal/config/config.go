package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logger    LoggerConfig
	Security  SecurityConfig
	Upload    UploadConfig
	Forecast  ForecastConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the record store backend. For sqlite the DSN is a
// file path; for postgres it is a lib/pq connection string.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type SecurityConfig struct {
	EnableRateLimit bool
	RateLimitRPS    int
	RateLimitBurst  int
	AllowedOrigins  []string
	TrustedProxies  []string
}

type UploadConfig struct {
	MaxBytes int64
}

type ForecastConfig struct {
	MaxPeriods    int
	IntervalWidth float64
	Timeout       time.Duration
}

type TelemetryConfig struct {
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	MetricsEnabled bool
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "localhost"),
			Port:            getEnvInt("SERVER_PORT", 8000),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnvString("DB_DRIVER", DriverSQLite)),
			DSN:    getEnvString("DB_DSN", "transactions.db"),
		},
		Logger: LoggerConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			EnableRateLimit: getEnvBool("SECURITY_RATE_LIMIT_ENABLED", false),
			RateLimitRPS:    getEnvInt("SECURITY_RATE_LIMIT_RPS", 100),
			RateLimitBurst:  getEnvInt("SECURITY_RATE_LIMIT_BURST", 10),
			AllowedOrigins:  getEnvStringSlice("SECURITY_ALLOWED_ORIGINS", []string{"*"}),
			TrustedProxies:  getEnvStringSlice("SECURITY_TRUSTED_PROXIES", []string{"127.0.0.1"}),
		},
		Upload: UploadConfig{
			MaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 32<<20)),
		},
		Forecast: ForecastConfig{
			MaxPeriods:    getEnvInt("FORECAST_MAX_PERIODS", 365),
			IntervalWidth: getEnvFloat("FORECAST_INTERVAL_WIDTH", 0.8),
			Timeout:       getEnvDuration("FORECAST_TIMEOUT", 30*time.Second),
		},
		Telemetry: TelemetryConfig{
			ServiceName:    getEnvString("TELEMETRY_SERVICE_NAME", "sales-forecast"),
			Environment:    getEnvString("TELEMETRY_ENVIRONMENT", "development"),
			OTLPEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			MetricsEnabled: getEnvBool("TELEMETRY_METRICS_ENABLED", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	validDrivers := []string{DriverSQLite, DriverPostgres}
	if !contains(validDrivers, c.Database.Driver) {
		return fmt.Errorf("invalid database driver %q, must be one of: %s", c.Database.Driver, strings.Join(validDrivers, ", "))
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Security.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max bytes must be positive")
	}

	if c.Forecast.MaxPeriods < 1 {
		return fmt.Errorf("forecast max periods must be at least 1")
	}

	if c.Forecast.IntervalWidth <= 0 || c.Forecast.IntervalWidth >= 1 {
		return fmt.Errorf("forecast interval width must be in (0, 1), got %v", c.Forecast.IntervalWidth)
	}

	if c.Forecast.Timeout <= 0 {
		return fmt.Errorf("forecast timeout must be positive")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
