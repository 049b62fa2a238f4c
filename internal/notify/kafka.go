package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig selects brokers and the topic for issued certificates
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	ClientID       string
	ProduceTimeout time.Duration
}

// Producer is the part of *kgo.Client the notifier uses
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaNotifier writes events to a Kafka topic keyed by batch id, so every
// event of one batch lands on the same partition
type KafkaNotifier struct {
	producer Producer
	topic    string
	timeout  time.Duration
	logger   *slog.Logger
}

var _ Notifier = (*KafkaNotifier)(nil)

// NewKafkaClient creates a franz-go client for cfg
func NewKafkaClient(cfg KafkaConfig) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

func NewKafkaNotifier(producer Producer, cfg KafkaConfig, logger *slog.Logger) *KafkaNotifier {
	timeout := cfg.ProduceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaNotifier{producer: producer, topic: cfg.Topic, timeout: timeout, logger: logger}
}

func (n *KafkaNotifier) CertificateIssued(ctx context.Context, event CertificateIssuedEvent) error {
	body, err := encode(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(event.BatchID),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventCertificateIssued)},
		},
	}
	if err := n.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s to %s: %w", EventCertificateIssued, n.topic, err)
	}

	n.logger.Debug("Certificate event produced",
		slog.String("topic", n.topic),
		slog.String("certificate_id", event.CertificateID),
	)
	return nil
}
