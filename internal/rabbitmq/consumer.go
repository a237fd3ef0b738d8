package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/judge"
	amqp "github.com/rabbitmq/amqp091-go"
)

// CallbackHandler applies one judge result, implemented by *grader.Ingester.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb *kilorank.Callback) error
}

// callbackMessage is a judge result tagged with the submission it belongs to.
type callbackMessage struct {
	SubmissionID int `json:"submission_id"`
	judge.Result
}

const handleTimeout = 30 * time.Second

// DeadLetterQueue is where callbacks end up after they failed twice or could not be decoded.
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}

// ConsumeCallbacks reads judge results from the durable queue until ctx is done or the channel closes.
// Deliveries are acknowledged only after they were applied.
func (c *Client) ConsumeCallbacks(ctx context.Context, queue string, prefetch int, handler CallbackHandler) error {
	if queue == "" {
		queue = DefaultCallbackQueue
	}
	dead := DeadLetterQueue(queue)
	if _, err := c.consume.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("couldn't declare dead letter queue: %w", err)
	}
	if _, err := c.consume.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dead,
	}); err != nil {
		return fmt.Errorf("couldn't declare queue: %w", err)
	}
	if prefetch > 0 {
		if err := c.consume.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("couldn't set prefetch: %w", err)
		}
	}
	msgs, err := c.consume.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("couldn't register consumer: %w", err)
	}

	c.logger.InfoContext(ctx, "Judge callback consumer started", slog.String("queue", queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("callback delivery channel closed")
			}
			handleDelivery(ctx, handler, msg, c.logger)
		}
	}
}

func handleDelivery(ctx context.Context, handler CallbackHandler, msg amqp.Delivery, logger *slog.Logger) {
	var cbMsg callbackMessage
	if err := json.Unmarshal(msg.Body, &cbMsg); err != nil {
		logger.WarnContext(ctx, "Dropping malformed judge callback", slog.Any("err", err))
		msg.Nack(false, false)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := handler.HandleCallback(ctx, cbMsg.Callback(cbMsg.SubmissionID)); err != nil {
		if errors.Is(err, kilorank.ErrNotFound) {
			logger.WarnContext(ctx, "Dropping judge callback for unknown test case", slog.Int("sub_id", cbMsg.SubmissionID), slog.String("token", cbMsg.Token), slog.Any("err", err))
			msg.Ack(false)
			return
		}
		// one redelivery, then the broker moves it to the dead letter queue
		requeue := !msg.Redelivered
		logger.WarnContext(ctx, "Couldn't apply judge callback", slog.Int("sub_id", cbMsg.SubmissionID), slog.String("token", cbMsg.Token), slog.Bool("requeue", requeue), slog.Any("err", err))
		msg.Nack(false, requeue)
		return
	}
	msg.Ack(false)
}
