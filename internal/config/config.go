// Package config provides configuration management for the study aggregation service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the study aggregation service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains Kafka publisher settings for run lifecycle events.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Sources contains record source API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Pipeline contains aggregation pipeline settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Fulltext contains full text download settings.
	Fulltext FulltextConfig `mapstructure:"fulltext"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// KafkaConfig holds Kafka publisher settings for run lifecycle events.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish run events to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// SourcesConfig holds configuration for all record source APIs.
type SourcesConfig struct {
	// ContactEmail identifies the operator to source APIs that request one
	// (NCBI and ClinicalTrials.gov etiquette). Required when any source is
	// enabled.
	ContactEmail string `mapstructure:"contact_email"`
	// PubMed contains PubMed E-utilities settings.
	PubMed SourceConfig `mapstructure:"pubmed"`
	// Cochrane contains Cochrane Library settings.
	Cochrane SourceConfig `mapstructure:"cochrane"`
	// ClinicalTrials contains ClinicalTrials.gov API settings.
	ClinicalTrials SourceConfig `mapstructure:"clinicaltrials"`
}

// SourceConfig holds configuration for a single record source API.
type SourceConfig struct {
	// Enabled controls whether this source is queried.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. STUDYAGG_SOURCES_PUBMED_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// PipelineConfig holds aggregation pipeline settings.
type PipelineConfig struct {
	// Workers bounds the ingest/normalize worker pool (default: one per CPU).
	Workers int `mapstructure:"workers"`
	// SimilarityThreshold is the minimum title similarity ratio (0.0-1.0)
	// for two records without DOIs to be treated as the same study.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// QualityThreshold is the advisory minimum mean quality score (0-100).
	QualityThreshold float64 `mapstructure:"quality_threshold"`
}

// FulltextConfig holds full text download settings.
type FulltextConfig struct {
	// Enabled controls whether full texts are downloaded after a run.
	Enabled bool `mapstructure:"enabled"`
	// Dir is the directory downloaded documents are written to.
	Dir string `mapstructure:"dir"`
	// Timeout is the per-download timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxSizeBytes caps the size of a single downloaded document.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	// UserAgent is sent with download requests.
	UserAgent string `mapstructure:"user_agent"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// EnabledSources returns the names of sources enabled in the configuration.
func (c *SourcesConfig) EnabledSources() []string {
	var names []string
	if c.PubMed.Enabled {
		names = append(names, "pubmed")
	}
	if c.Cochrane.Enabled {
		names = append(names, "cochrane")
	}
	if c.ClinicalTrials.Enabled {
		names = append(names, "clinicaltrials")
	}
	return names
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	// Load a local .env file if present. Missing files are not an error;
	// production deployments set real environment variables instead.
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("STUDYAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/study-aggregation-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Sources.PubMed.APIKey = os.Getenv("STUDYAGG_SOURCES_PUBMED_API_KEY")
	cfg.Sources.Cochrane.APIKey = os.Getenv("STUDYAGG_SOURCES_COCHRANE_API_KEY")
	cfg.Sources.ClinicalTrials.APIKey = os.Getenv("STUDYAGG_SOURCES_CLINICALTRIALS_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "studyagg")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "study_aggregation_service")
	// Default to "require" for production security. Use STUDYAGG_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.study_aggregation_service.runs")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Sources defaults - PubMed
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("sources.contact_email", "")
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.timeout", "30s")
	v.SetDefault("sources.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("sources.pubmed.max_results", 100)

	// Sources defaults - Cochrane
	v.SetDefault("sources.cochrane.enabled", true)
	v.SetDefault("sources.cochrane.base_url", "https://www.cochranelibrary.com")
	v.SetDefault("sources.cochrane.timeout", "30s")
	v.SetDefault("sources.cochrane.rate_limit", 2.0)
	v.SetDefault("sources.cochrane.max_results", 50)

	// Sources defaults - ClinicalTrials.gov
	v.SetDefault("sources.clinicaltrials.enabled", true)
	v.SetDefault("sources.clinicaltrials.base_url", "https://clinicaltrials.gov/api/v2")
	v.SetDefault("sources.clinicaltrials.timeout", "30s")
	v.SetDefault("sources.clinicaltrials.rate_limit", 5.0)
	v.SetDefault("sources.clinicaltrials.max_results", 100)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 0) // one per CPU
	v.SetDefault("pipeline.similarity_threshold", 0.9)
	v.SetDefault("pipeline.quality_threshold", 80.0)

	// Fulltext defaults
	v.SetDefault("fulltext.enabled", false)
	v.SetDefault("fulltext.dir", "fulltext")
	v.SetDefault("fulltext.timeout", "60s")
	v.SetDefault("fulltext.max_size_bytes", 50*1024*1024)
	v.SetDefault("fulltext.user_agent", "study-aggregation-service/1.0")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate pipeline config
	if c.Pipeline.SimilarityThreshold <= 0 || c.Pipeline.SimilarityThreshold > 1 {
		return fmt.Errorf("pipeline similarity threshold must be in (0, 1], got %v", c.Pipeline.SimilarityThreshold)
	}
	if c.Pipeline.QualityThreshold < 0 || c.Pipeline.QualityThreshold > 100 {
		return fmt.Errorf("pipeline quality threshold must be between 0 and 100, got %v", c.Pipeline.QualityThreshold)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline workers must not be negative, got %d", c.Pipeline.Workers)
	}

	// Validate sources config. NCBI and ClinicalTrials.gov ask API consumers
	// to identify themselves, so an operator contact is required as soon as
	// any source client is active.
	enabled := c.Sources.EnabledSources()
	if len(enabled) > 0 && c.Sources.ContactEmail == "" {
		return fmt.Errorf("sources contact_email is required when sources are enabled (%s)", strings.Join(enabled, ", "))
	}
	for _, sc := range []struct {
		name string
		cfg  SourceConfig
	}{
		{"pubmed", c.Sources.PubMed},
		{"cochrane", c.Sources.Cochrane},
		{"clinicaltrials", c.Sources.ClinicalTrials},
	} {
		if !sc.cfg.Enabled {
			continue
		}
		if sc.cfg.BaseURL == "" {
			return fmt.Errorf("source %s is enabled but has no base_url", sc.name)
		}
		if sc.cfg.RateLimit <= 0 {
			return fmt.Errorf("source %s rate limit must be positive, got %v", sc.name, sc.cfg.RateLimit)
		}
		if sc.cfg.MaxResults <= 0 {
			return fmt.Errorf("source %s max_results must be positive, got %d", sc.name, sc.cfg.MaxResults)
		}
	}

	// Validate fulltext config
	if c.Fulltext.Enabled {
		if c.Fulltext.Dir == "" {
			return fmt.Errorf("fulltext dir is required when fulltext downloads are enabled")
		}
		if c.Fulltext.MaxSizeBytes <= 0 {
			return fmt.Errorf("fulltext max_size_bytes must be positive, got %d", c.Fulltext.MaxSizeBytes)
		}
	}

	return nil
}
