package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is a received message.
type Delivery struct {
	MessageID   string
	Body        []byte
	Redelivered bool
}

// Handler processes one delivery. nil acks it, a Permanent error
// dead-letters it and any other error requeues it.
type Handler func(ctx context.Context, d Delivery) error

// Dispatcher runs handlers, typically on a bounded pool.
type Dispatcher interface {
	Submit(ctx context.Context, fn func(ctx context.Context) error) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Settlement is how a delivery is acknowledged.
type Settlement int

const (
	Ack Settlement = iota
	Requeue
	DeadLetter
)

func (s Settlement) String() string {
	switch s {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case DeadLetter:
		return "dead-letter"
	}
	return "unknown"
}

// Settle maps a handler result to its settlement.
func Settle(err error) Settlement {
	switch {
	case err == nil:
		return Ack
	case IsPermanent(err):
		return DeadLetter
	}
	return Requeue
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Queue    string
	Handler  Handler
	Prefetch int
	// Dispatcher runs handlers concurrently. Nil runs them inline.
	Dispatcher Dispatcher
}

// Consumer consumes a queue with manual acknowledgement and resumes after
// reconnects.
type Consumer struct {
	conn   *Connection
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer creates a consumer.
func NewConsumer(conn *Connection, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{conn: conn, cfg: cfg, logger: logger.With("queue", cfg.Queue)}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.setup()
		if err != nil {
			c.logger.Error("cannot start consuming", "error", err)
		} else {
			c.logger.Info("consumer started")
			if err := c.drain(ctx, deliveries); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("delivery channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) setup() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.dispatch(ctx, raw)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) {
	run := func(ctx context.Context) error {
		err := c.cfg.Handler(ctx, Delivery{MessageID: raw.MessageId, Body: raw.Body, Redelivered: raw.Redelivered})
		c.settle(raw, err)
		return err
	}
	if c.cfg.Dispatcher == nil {
		_ = run(ctx)
		return
	}
	if err := c.cfg.Dispatcher.Submit(ctx, run); err != nil {
		c.logger.Warn("cannot dispatch delivery, requeueing", "message_id", raw.MessageId, "error", err)
		_ = raw.Nack(false, true)
	}
}

func (c *Consumer) settle(raw amqp.Delivery, err error) {
	s := Settle(err)
	if err != nil {
		c.logger.Error("handler failed", "message_id", raw.MessageId, "settlement", s.String(), "error", err)
	}
	var ackErr error
	switch s {
	case Ack:
		ackErr = raw.Ack(false)
	case Requeue:
		ackErr = raw.Nack(false, true)
	case DeadLetter:
		ackErr = raw.Nack(false, false)
	}
	if ackErr != nil {
		c.logger.Warn("settling delivery failed", "message_id", raw.MessageId, "error", ackErr)
	}
}
