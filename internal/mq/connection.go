package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel is returned while the connection is down.
var ErrNoChannel = errors.New("no AMQP channel available")

// Connection wraps an AMQP connection and reconnects when the broker drops it.
// Channel access is safe for concurrent use.
type Connection struct {
	url     string
	backoff Backoff
	logger  *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	closedCh    chan struct{}
	reconnectCh chan struct{}
}

// Dial connects to url and starts watching the connection.
func Dial(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:         url,
		backoff:     DefaultBackoff,
		logger:      logger,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ")
	return nil
}

func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn, closed := c.conn, c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closedCh:
			return
		case err := <-notify:
			if err != nil {
				c.logger.Warn("connection lost", "error", err)
			}
			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect retries until it succeeds or the connection is closed.
func (c *Connection) reconnect() bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closedCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; ; attempt++ {
		delay := c.backoff.Delay(attempt)
		c.logger.Info("reconnecting to RabbitMQ", "attempt", attempt+1, "delay", delay)
		if err := Wait(ctx, delay); err != nil {
			return false
		}
		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "error", err)
			continue
		}
		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
		return true
	}
}

// Channel returns the current channel, or nil while disconnected.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify signals after every successful reconnect.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// WithChannel runs fn with the current channel.
func (c *Connection) WithChannel(fn func(ch *amqp.Channel) error) error {
	ch := c.Channel()
	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}

// Ping reports whether the connection is up. It satisfies the health check
// signature.
func (c *Connection) Ping(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("AMQP connection is closed")
	}
	return nil
}

// Close closes the channel and the connection. It is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}
