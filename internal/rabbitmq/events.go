package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/KiloProjects/kilorank"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishContestCompleted sends ev to the events exchange with the contest.completed routing key.
func (c *Client) PublishContestCompleted(ctx context.Context, ev *kilorank.ContestCompletedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.publish.PublishWithContext(ctx, c.exchange, ContestCompletedKey, false, false, contestCompletedMessage(ev, body))
}

func contestCompletedMessage(ev *kilorank.ContestCompletedEvent, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    time.Now(),
		Type:         ContestCompletedKey,
		Body:         body,
	}
}
