// Package mq is the RabbitMQ plumbing of the worker host.
//
// Layout:
//   - connection.go: connection with automatic reconnect and graceful close
//   - topology.go:   input, output, failure and dead-letter queues
//   - publisher.go:  persistent publishing to named queues
//   - consumer.go:   manual-ack consumption with requeue and dead-lettering
//   - backoff.go:    reconnect delays
//
// Documents are published through the default exchange, so the routing key
// is the destination queue name. Action queues belong to the action workers
// and are not declared here.
package mq
