// Package bootstrap turns loaded configuration into the clients and adapters
// both services start from.
package bootstrap

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/agricert/internal/config"
	"github.com/cuongbtq/agricert/internal/issuer"
	"github.com/cuongbtq/agricert/internal/notify"
	"github.com/cuongbtq/agricert/shared/logger"
	"github.com/cuongbtq/agricert/shared/postgresql"
	"github.com/cuongbtq/agricert/shared/rabbitmq"
	"github.com/cuongbtq/agricert/shared/redis"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// PostgreSQLConfig maps the database section to the client config.
// appName tags the service's sessions in pg_stat_activity.
func PostgreSQLConfig(cfg *config.DatabaseConfig, appName string) *postgresql.Config {
	return &postgresql.Config{
		Host:             cfg.Host,
		Port:             cfg.Port,
		User:             cfg.User,
		Password:         cfg.Password,
		Database:         cfg.Database,
		SSLMode:          cfg.SSLMode,
		ApplicationName:  appName,
		ConnectTimeout:   cfg.ConnectTimeout,
		StatementTimeout: cfg.StatementTimeout,
		Pool: postgresql.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		},
	}
}

// InitPostgreSQL connects to the database, giving up after the connect timeout
func InitPostgreSQL(cfg *config.DatabaseConfig, appName string, logger *slog.Logger) (*postgresql.Client, error) {
	pgCfg := PostgreSQLConfig(cfg, appName)
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return postgresql.NewClient(ctx, pgCfg, logger)
}

// RabbitMQConfig maps the config section to the client config. Publishers
// pass withQueue=false so they never declare the worker queue.
func RabbitMQConfig(cfg *config.RabbitMQConfig, withQueue bool) *rabbitmq.Config {
	out := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
	if out.ExchangeType == "" {
		out.ExchangeType = "topic"
	}
	if withQueue {
		out.QueueName = cfg.Queue.Name
		out.QueueDurable = cfg.Queue.Durable
		out.QueueAutoDelete = cfg.Queue.AutoDelete
		out.QueueExclusive = cfg.Queue.Exclusive
		out.BindingKeys = cfg.Queue.BindingKeys
		if len(out.BindingKeys) == 0 {
			out.BindingKeys = []string{notify.RoutingKeyJobEnqueued}
		}
	}
	return out
}

// InitRabbitMQ connects when RabbitMQ is enabled and returns nil otherwise
func InitRabbitMQ(cfg *config.RabbitMQConfig, withQueue bool, logger *slog.Logger) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled, workers rely on polling")
		return nil, nil
	}
	return rabbitmq.NewClient(RabbitMQConfig(cfg, withQueue), logger)
}

// InitRedis connects to Redis when a URL is configured and returns nil otherwise
func InitRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		URL:          cfg.URL,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// NewIssuer builds the provider adapter selected by cfg.Mode
func NewIssuer(cfg *config.IssuerConfig, logger *slog.Logger) (issuer.Adapter, error) {
	switch cfg.Mode {
	case config.IssuerModeHTTP:
		return issuer.NewHTTPAdapter(issuer.HTTPConfig{
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			WebhookSecret: cfg.WebhookSecret,
			Timeout:       cfg.Timeout,
		}, nil, logger), nil

	case config.IssuerModeLocal:
		key, err := signingKey(cfg.SigningKeySeed)
		if err != nil {
			return nil, err
		}
		if key == nil {
			logger.Warn("No signing key seed configured, credentials only verify within this process")
		}
		adapter, err := issuer.NewLocalAdapter(issuer.LocalConfig{
			IssuerID:         cfg.IssuerID,
			IssuerName:       cfg.IssuerName,
			RetrievalBaseURL: cfg.RetrievalBaseURL,
			WebhookSecret:    cfg.WebhookSecret,
			PrivateKey:       key,
		}, logger)
		if err != nil {
			return nil, err
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("unknown issuer mode %q", cfg.Mode)
	}
}

func signingKey(seedHex string) (ed25519.PrivateKey, error) {
	if seedHex == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("signing_key_seed is not hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing_key_seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// KafkaConfig maps the config section to the notifier config
func KafkaConfig(cfg *config.KafkaConfig) notify.KafkaConfig {
	return notify.KafkaConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		ClientID:       cfg.ClientID,
		ProduceTimeout: cfg.ProduceTimeout,
	}
}
