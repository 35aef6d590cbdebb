package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers carried next to the JSON body so a message parked in a dead-letter
// queue can be traced without decoding it.
const (
	HeaderInquiryID = "x-inquiry-id"
	HeaderChannel   = "x-channel"
)

// RabbitMQPublisher announces due notification jobs on their channel's work
// queue through the default exchange.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg NotificationMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	publishing, err := newPublishing(queue, msg, p.now().UTC())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s notification %s: %w", msg.Channel, msg.NotificationID, err)
	}

	return nil
}

// newPublishing builds the persistent delivery announcing msg. A job may only
// be announced on the work queue of its own channel.
func newPublishing(queue string, msg NotificationMessage, at time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid notification message: %w", err)
	}
	if want := QueueName(msg.Channel); queue != want {
		return amqp.Publishing{}, fmt.Errorf("%s notification %s belongs on queue %q, not %q",
			msg.Channel, msg.NotificationID, want, queue)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal notification message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     at,
		MessageId:     msg.NotificationID,
		CorrelationId: msg.CorrelationID,
		Type:          "notification." + QueueName(msg.Channel),
		Headers: amqp.Table{
			HeaderInquiryID: msg.InquiryID,
			HeaderChannel:   msg.Channel.String(),
		},
		Body: payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
