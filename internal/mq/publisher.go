package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is an outgoing JSON message.
type Message struct {
	ID   string
	Body []byte
}

// Publisher publishes persistent messages to queues.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher creates a publisher on conn.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish sends msg to queue through the default exchange. An empty message
// id is replaced by a random one.
func (p *Publisher) Publish(ctx context.Context, queue string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    time.Now(),
			Body:         msg.Body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s: %w", queue, err)
		}
		p.logger.Debug("published message", "queue", queue, "message_id", msg.ID)
		return nil
	})
}
