package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer reads one channel's work queue with manual acknowledgements.
// A delivery is acked only after the job handler returns, so a crashed worker
// leaves the announcement on the queue. Messages that can never be handled are
// rejected into the channel's dead-letter queue.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is cancelled, reconnecting with backoff when the
// broker drops the channel.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	channel, ok := ChannelForQueue(queue)
	if !ok {
		return fmt.Errorf("unknown work queue %q", queue)
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	logger := c.logger.With(
		zap.String("queue", queue),
		zap.String("channel", channel.String()),
	)

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		logger.Warn("notification consumer interrupted, reconnecting",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos on queue %q: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, queue+"-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for queue %q closed", queue)
			}
			if err := c.handleDelivery(ctx, queue, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler MessageHandler) error {
	logger := c.logger.With(
		zap.String("queue", queue),
		zap.Bool("redelivered", d.Redelivered),
	)

	msg, err := decodeDelivery(queue, d.Body)
	if err != nil {
		logger.Warn("dead-lettering notification message",
			zap.String("messageId", d.MessageId),
			zap.String("deadLetterQueue", deadLetterQueueFor(queue)),
			zap.Error(err),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to dead-letter message %q from queue %q: %w", d.MessageId, queue, rejectErr)
		}
		return nil
	}

	logger = logger.With(
		zap.String("notificationId", msg.NotificationID),
		zap.String("inquiryId", msg.InquiryID),
		zap.String("correlationId", msg.CorrelationID),
	)

	handlerCtx := observability.WithCorrelationID(ctx, msg.CorrelationID)
	if err := handler(handlerCtx, msg); err != nil {
		logger.Warn("notification handler failed, requeueing announcement", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed for notification %s: %w", msg.NotificationID, nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack notification %s: %w", msg.NotificationID, err)
	}

	return nil
}

// decodeDelivery parses an announcement and checks it arrived on the work
// queue of its own channel.
func decodeDelivery(queue string, body []byte) (NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	if want := QueueName(msg.Channel); queue != want {
		return msg, fmt.Errorf("%s notification %s arrived on queue %q", msg.Channel, msg.NotificationID, queue)
	}
	return msg, nil
}

func deadLetterQueueFor(queue string) string {
	if channel, ok := ChannelForQueue(queue); ok {
		return DLQName(channel)
	}
	return ""
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
