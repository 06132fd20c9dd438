package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bgalvandev/clinicsay-migrations/pkg/logging"
)

// Config holds all configuration for the migration service.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Source    SourceConfig    `mapstructure:"source"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Migration MigrationConfig `mapstructure:"migration"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServiceConfig contains general service configuration.
type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig contains PostgreSQL configuration.
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Database     string        `mapstructure:"database"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// DSN constructs the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode,
	)
}

// SourceConfig configures the ClinicSay API transport.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Rate limiting of outbound requests.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`

	// Circuit breaker settings.
	BreakerFailureThreshold uint32        `mapstructure:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `mapstructure:"breaker_timeout"`
}

// OracleConfig configures the reconciliation oracle endpoint.
type OracleConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MigrationConfig tunes the fetch/transform/load pipeline.
type MigrationConfig struct {
	PageSize          int           `mapstructure:"page_size"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	ChunkTimeout      time.Duration `mapstructure:"chunk_timeout"`
	DetailConcurrency int           `mapstructure:"detail_concurrency"`
	SkipMigrated      bool          `mapstructure:"skip_migrated"`
}

// Load reads configuration from file and environment. Environment
// variables use the CLINICSAY_ prefix with underscores, e.g.
// CLINICSAY_DATABASE_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CLINICSAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Oracle.URL == "" {
		return fmt.Errorf("oracle.url is required")
	}
	if c.Migration.PageSize <= 0 {
		return fmt.Errorf("migration.page_size must be positive")
	}
	if c.Migration.ChunkSize <= 0 {
		return fmt.Errorf("migration.chunk_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "clinicsay-migrations")
	v.SetDefault("service.environment", "production")
	v.SetDefault("service.shutdown_timeout", "30s")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "clinicsay")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_lifetime", "5m")

	// Empty defaults register the keys so AutomaticEnv can bind them.
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.request_timeout", "30s")
	v.SetDefault("source.requests_per_second", 10.0)
	v.SetDefault("source.burst", 5)
	v.SetDefault("source.breaker_failure_threshold", 5)
	v.SetDefault("source.breaker_timeout", "60s")

	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.request_timeout", "120s")

	v.SetDefault("migration.page_size", 100)
	v.SetDefault("migration.chunk_size", 50)
	v.SetDefault("migration.page_timeout", "60s")
	v.SetDefault("migration.chunk_timeout", "30s")
	v.SetDefault("migration.detail_concurrency", 8)
	v.SetDefault("migration.skip_migrated", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service_name", "clinicsay-migrations")
	v.SetDefault("logging.environment", "production")
	v.SetDefault("logging.enable_caller", true)
}
