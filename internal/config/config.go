package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Business  BusinessConfig  `mapstructure:"business"`
}

type ServerConfig struct {
	Port         string `mapstructure:"SERVER_PORT"`
	Host         string `mapstructure:"SERVER_HOST"`
	Env          string `mapstructure:"ENV"`
	ReadTimeout  string `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout string `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	// Driver is "postgres" (production) or "sqlite3" (local).
	Driver          string `mapstructure:"DATABASE_DRIVER"`
	URL             string `mapstructure:"DATABASE_URL"`
	Host            string `mapstructure:"DATABASE_HOST"`
	Port            string `mapstructure:"DATABASE_PORT"`
	Name            string `mapstructure:"DATABASE_NAME"`
	User            string `mapstructure:"DATABASE_USER"`
	Password        string `mapstructure:"DATABASE_PASSWORD"`
	SQLitePath      string `mapstructure:"DATABASE_SQLITE_PATH"`
	MaxOpenConns    int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime string `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	CacheTTL string `mapstructure:"REDIS_CACHE_TTL"`
}

type SchedulerConfig struct {
	// Cron specs use the 6-field (with seconds) format.
	OverdueSweepSpec string `mapstructure:"SCHEDULER_OVERDUE_SWEEP_SPEC"`
	BalanceSyncSpec  string `mapstructure:"SCHEDULER_BALANCE_SYNC_SPEC"`
	Timezone         string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	DefaultInterestRate  string `mapstructure:"DEFAULT_INTEREST_RATE"`
	DefaultTermMonths    int    `mapstructure:"DEFAULT_TERM_MONTHS"`
	PaymentRetryAttempts int    `mapstructure:"PAYMENT_RETRY_ATTEMPTS"`
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("SERVER_READ_TIMEOUT", "15s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	viper.SetDefault("DATABASE_DRIVER", "sqlite3")
	viper.SetDefault("DATABASE_SQLITE_PATH", "lending.db")
	viper.SetDefault("DATABASE_HOST", "localhost")
	viper.SetDefault("DATABASE_PORT", "5432")
	viper.SetDefault("DATABASE_NAME", "lending_engine")
	viper.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_CACHE_TTL", "15m")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("DEFAULT_INTEREST_RATE", "0.10")
	viper.SetDefault("DEFAULT_TERM_MONTHS", 12)
	viper.SetDefault("PAYMENT_RETRY_ATTEMPTS", 3)
	viper.SetDefault("SCHEDULER_OVERDUE_SWEEP_SPEC", "0 0 0 * * *")
	viper.SetDefault("SCHEDULER_BALANCE_SYNC_SPEC", "0 30 0 * * *")
	viper.SetDefault("SCHEDULER_TIMEZONE", "Asia/Manila")

	viper.AutomaticEnv()

	// Try to read from .env file (optional)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./deployments")
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("DATABASE_URL or DATABASE_HOST is required for postgres")
		}
	case "sqlite3":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("DATABASE_SQLITE_PATH is required for sqlite3")
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite3")
	}

	if c.Business.PaymentRetryAttempts <= 0 {
		return fmt.Errorf("PAYMENT_RETRY_ATTEMPTS must be greater than 0")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid timezone: %w", err)
	}

	for _, d := range []string{
		c.Server.ReadTimeout,
		c.Server.WriteTimeout,
		c.Database.ConnMaxLifetime,
		c.Redis.CacheTTL,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%q must be a valid duration: %w", d, err)
		}
	}

	return nil
}

// DSN returns the database connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite3" {
		return c.SQLitePath
	}
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetReadTimeout returns the server read timeout as duration
func (c *Config) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.ReadTimeout)
	return d
}

// GetWriteTimeout returns the server write timeout as duration
func (c *Config) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.WriteTimeout)
	return d
}

// GetConnMaxLifetime returns the DB connection lifetime as duration
func (c *Config) GetConnMaxLifetime() time.Duration {
	d, _ := time.ParseDuration(c.Database.ConnMaxLifetime)
	return d
}

// GetCacheTTL returns the Redis cache TTL as duration
func (c *Config) GetCacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Redis.CacheTTL)
	return d
}

// GetSchedulerLocation returns the scheduler timezone
func (c *Config) GetSchedulerLocation() *time.Location {
	loc, _ := time.LoadLocation(c.Scheduler.Timezone)
	return loc
}
