package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource yields broker deliveries for a consumer tag
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Waker is told a job may be waiting
type Waker interface {
	Wake()
}

// WakeupConsumer turns job-enqueued messages into immediate poll cycles.
// Messages only carry a hint; the job store stays the source of truth, so a
// lost message just delays pickup until the next poll tick.
type WakeupConsumer struct {
	source DeliverySource
	waker  Waker
	tag    string
	logger *slog.Logger
}

// NewWakeupConsumer creates a new WakeupConsumer instance
func NewWakeupConsumer(source DeliverySource, waker Waker, consumerTag string, logger *slog.Logger) *WakeupConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeupConsumer{
		source: source,
		waker:  waker,
		tag:    consumerTag,
		logger: logger,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes
func (c *WakeupConsumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.tag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Wake-up consumer started", slog.String("consumer_tag", c.tag))
	c.dispatch(ctx, deliveries)
	return nil
}

func (c *WakeupConsumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Wake-up consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			c.handle(delivery)
		}
	}
}

func (c *WakeupConsumer) handle(delivery amqp.Delivery) {
	var msg struct {
		JobID string `json:"job_id"`
	}

	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// Malformed messages go to the DLQ
		c.reject(delivery)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		c.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		c.reject(delivery)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK wake-up message", slog.String("error", err.Error()))
	}

	c.logger.Debug("Wake-up received", slog.String("job_id", msg.JobID))
	c.waker.Wake()
}

func (c *WakeupConsumer) reject(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		c.logger.Error("Failed to NACK message", slog.String("error", err.Error()))
	}
}
