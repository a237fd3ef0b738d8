// Package rabbitmq carries judge results in and contest events out over AMQP.
package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultCallbackQueue  = "kilorank.judge.callbacks"
	DefaultEventsExchange = "kilorank.events"

	ContestCompletedKey = "contest.completed"
)

// Client holds one connection with separate channels for consuming and publishing.
type Client struct {
	conn    *amqp.Connection
	consume *amqp.Channel
	publish *amqp.Channel

	exchange string
	logger   *slog.Logger
}

// Dial connects to the broker and declares the durable topic exchange used for events.
func Dial(url, exchange string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultEventsExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to RabbitMQ: %w", err)
	}

	consume, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("couldn't open channel: %w", err)
	}
	publish, err := conn.Channel()
	if err != nil {
		consume.Close()
		conn.Close()
		return nil, fmt.Errorf("couldn't open channel: %w", err)
	}

	if err := publish.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		publish.Close()
		consume.Close()
		conn.Close()
		return nil, fmt.Errorf("couldn't declare exchange: %w", err)
	}

	logger.Info("Connected to RabbitMQ", slog.String("exchange", exchange))
	return &Client{conn: conn, consume: consume, publish: publish, exchange: exchange, logger: logger}, nil
}

func (c *Client) Close() error {
	var errs []error
	if c.publish != nil && !c.publish.IsClosed() {
		errs = append(errs, c.publish.Close())
	}
	if c.consume != nil && !c.consume.IsClosed() {
		errs = append(errs, c.consume.Close())
	}
	if c.conn != nil && !c.conn.IsClosed() {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
