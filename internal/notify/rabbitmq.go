package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher is the part of shared/rabbitmq.Client the notifiers use
type Publisher interface {
	PublishTo(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitNotifier publishes events to the configured exchange
type RabbitNotifier struct {
	pub    Publisher
	logger *slog.Logger
}

var _ Notifier = (*RabbitNotifier)(nil)

func NewRabbitNotifier(pub Publisher, logger *slog.Logger) *RabbitNotifier {
	return &RabbitNotifier{pub: pub, logger: logger}
}

// CertificateIssued publishes with routing key certificate.issued
func (n *RabbitNotifier) CertificateIssued(ctx context.Context, event CertificateIssuedEvent) error {
	body, err := encode(event)
	if err != nil {
		return err
	}
	if err := n.pub.PublishTo(ctx, EventCertificateIssued, body, "application/json"); err != nil {
		return fmt.Errorf("publish %s: %w", EventCertificateIssued, err)
	}
	return nil
}

// JobEnqueued publishes a wake-up message for workers
func (n *RabbitNotifier) JobEnqueued(ctx context.Context, msg JobEnqueuedMessage) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	if err := n.pub.PublishTo(ctx, RoutingKeyJobEnqueued, body, "application/json"); err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKeyJobEnqueued, err)
	}
	n.logger.Debug("Wake-up published", slog.String("job_id", msg.JobID))
	return nil
}
