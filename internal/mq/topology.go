package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterExchange receives rejected input messages.
const DeadLetterExchange = "docflow.dlq"

// Topology names the queues owned by the worker.
type Topology struct {
	Input   string
	Output  string
	Failure string
}

// DeadLetterQueue is the queue bound to the dead-letter exchange.
func (t Topology) DeadLetterQueue() string {
	return t.Input + ".dlq"
}

// Declare creates the dead-letter exchange and the worker's queues. The input
// queue dead-letters rejected messages.
func (t Topology) Declare(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", DeadLetterExchange, err)
		}

		queues := []struct {
			name string
			args amqp.Table
		}{
			{t.Input, amqp.Table{
				"x-dead-letter-exchange":    DeadLetterExchange,
				"x-dead-letter-routing-key": t.Input,
			}},
			{t.Output, nil},
			{t.Failure, nil},
			{t.DeadLetterQueue(), nil},
		}
		for _, q := range queues {
			if q.name == "" {
				continue
			}
			if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		if err := ch.QueueBind(t.DeadLetterQueue(), t.Input, DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", t.DeadLetterQueue(), err)
		}
		return nil
	})
}
