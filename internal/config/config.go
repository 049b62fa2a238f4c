package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Issuer modes
const (
	IssuerModeHTTP  = "http"
	IssuerModeLocal = "local"
)

// Environment variables that override secrets from the config file
const (
	EnvDatabasePassword = "AGRICERT_DATABASE_PASSWORD"
	EnvRabbitMQPassword = "AGRICERT_RABBITMQ_PASSWORD"
	EnvWebhookSecret    = "AGRICERT_WEBHOOK_SECRET"
	EnvIssuerAPIKey     = "AGRICERT_ISSUER_API_KEY"
	EnvRedisURL         = "AGRICERT_REDIS_URL"
	EnvSigningKeySeed   = "AGRICERT_SIGNING_KEY_SEED"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Issuer       IssuerConfig       `yaml:"issuer"`
	Verification VerificationConfig `yaml:"verification"`
	Redis        RedisConfig        `yaml:"redis"`
	Notifier     NotifierConfig     `yaml:"notifier"`
	Kafka        KafkaConfig        `yaml:"kafka"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// ConnectTimeout bounds dialing and the startup ping; zero means 5s
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	// AutoMigrate applies the embedded migrations on startup
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds the wake-up queue the worker consumes
type QueueConfig struct {
	Name        string   `yaml:"name"`
	Durable     bool     `yaml:"durable"`
	AutoDelete  bool     `yaml:"auto_delete"`
	Exclusive   bool     `yaml:"exclusive"`
	BindingKeys []string `yaml:"binding_keys"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	JanitorInterval   time.Duration `yaml:"janitor_interval"`
	// JobRetention is how long finished jobs are kept; zero keeps them
	JobRetention time.Duration `yaml:"job_retention"`
	// CredentialValidity sets certificate expiry; zero means never
	CredentialValidity time.Duration `yaml:"credential_validity"`
	UpdateBatchStatus  bool          `yaml:"update_batch_status"`
	IssuedBy           string        `yaml:"issued_by"`
}

// IssuerConfig selects and configures the credential provider adapter
type IssuerConfig struct {
	Mode          string        `yaml:"mode"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	WebhookSecret string        `yaml:"webhook_secret"`

	// Local mode only
	IssuerID         string `yaml:"issuer_id"`
	IssuerName       string `yaml:"issuer_name"`
	RetrievalBaseURL string `yaml:"retrieval_base_url"`
	// SigningKeySeed is a hex-encoded Ed25519 seed; empty generates a key per process
	SigningKeySeed string `yaml:"signing_key_seed"`
}

// VerificationConfig controls credential dereferencing
type VerificationConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// RedisConfig holds the optional document cache connection
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NotifierConfig picks the sinks for certificate events
type NotifierConfig struct {
	RabbitMQ bool `yaml:"rabbitmq"`
	Kafka    bool `yaml:"kafka"`
}

// KafkaConfig holds the certificate event topic settings
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	ProduceTimeout time.Duration `yaml:"produce_timeout"`
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv(os.Getenv)
	return &config, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Database.Password, EnvDatabasePassword)
	override(&c.RabbitMQ.Password, EnvRabbitMQPassword)
	override(&c.Issuer.WebhookSecret, EnvWebhookSecret)
	override(&c.Issuer.APIKey, EnvIssuerAPIKey)
	override(&c.Redis.URL, EnvRedisURL)
	override(&c.Issuer.SigningKeySeed, EnvSigningKeySeed)
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Issuer.WebhookSecret == "" {
		return fmt.Errorf("issuer webhook_secret is required")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.ID == "" {
		return fmt.Errorf("worker id is required")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max_attempts must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.StaleAfter <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stale_after must be longer than heartbeat_interval")
	}

	if c.Notifier.RabbitMQ && !c.RabbitMQ.Enabled {
		return fmt.Errorf("rabbitmq notifier requires rabbitmq to be enabled")
	}

	if c.Notifier.Kafka {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when the kafka notifier is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when the kafka notifier is enabled")
		}
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	switch c.Issuer.Mode {
	case IssuerModeHTTP:
		if c.Issuer.BaseURL == "" {
			return fmt.Errorf("issuer base_url is required in http mode")
		}
	case IssuerModeLocal:
		if c.Issuer.IssuerID == "" {
			return fmt.Errorf("issuer issuer_id is required in local mode")
		}
	default:
		return fmt.Errorf("invalid issuer mode: %q (must be %q or %q)", c.Issuer.Mode, IssuerModeHTTP, IssuerModeLocal)
	}

	return nil
}
