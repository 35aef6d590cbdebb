package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
)

// Publisher publishes notification messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg NotificationMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg NotificationMessage) error

// Consumer consumes notification messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// QueueName returns the channel work queue name, e.g. telegram.
func QueueName(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}

// ChannelForQueue maps a work queue name back to its delivery channel.
func ChannelForQueue(queue string) (domain.Channel, bool) {
	for _, channel := range domain.Channels {
		if QueueName(channel) == queue {
			return channel, true
		}
	}
	return "", false
}

// DLQName returns the dead-letter queue name for a channel, e.g. dlq.telegram.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", QueueName(channel))
}

// WorkQueueNames returns one work queue per delivery channel.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// DLQNames returns one dead-letter queue per delivery channel.
func DLQNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}
