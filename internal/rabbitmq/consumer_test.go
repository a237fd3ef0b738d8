package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/KiloProjects/kilorank"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackRecorder struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}

type handlerFunc func(ctx context.Context, cb *kilorank.Callback) error

func (f handlerFunc) HandleCallback(ctx context.Context, cb *kilorank.Callback) error {
	return f(ctx, cb)
}

const callbackBody = `{
	"submission_id": 12,
	"token": "abc",
	"status": {"id": 4, "description": "Wrong Answer"},
	"stdout": "42\n",
	"stderr": null,
	"compile_output": null,
	"time": "0.153",
	"memory": 3120
}`

func TestHandleDelivery(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		redelivered bool
		err         error
		wantCalls   int
		acked       bool
		requeue     bool
	}{
		{name: "applied", body: callbackBody, wantCalls: 1, acked: true},
		{name: "unknown test case", body: callbackBody, err: fmt.Errorf("test case: %w", kilorank.ErrNotFound), wantCalls: 1, acked: true},
		{name: "storage failure", body: callbackBody, err: errors.New("connection refused"), wantCalls: 1, requeue: true},
		{name: "failed again", body: callbackBody, redelivered: true, err: errors.New("connection refused"), wantCalls: 1},
		{name: "malformed", body: `{"submission_id": "twelve"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []*kilorank.Callback
			handler := handlerFunc(func(_ context.Context, cb *kilorank.Callback) error {
				got = append(got, cb)
				return tt.err
			})
			ack := &ackRecorder{}
			handleDelivery(t.Context(), handler, amqp.Delivery{Acknowledger: ack, Body: []byte(tt.body), Redelivered: tt.redelivered}, nopLogger)

			require.Len(t, got, tt.wantCalls)
			assert.Equal(t, tt.acked, ack.acked)
			assert.Equal(t, !tt.acked, ack.nacked)
			assert.Equal(t, tt.requeue, ack.requeue)
		})
	}
}

func TestCallbackDecoding(t *testing.T) {
	var got *kilorank.Callback
	handler := handlerFunc(func(_ context.Context, cb *kilorank.Callback) error {
		got = cb
		return nil
	})
	handleDelivery(t.Context(), handler, amqp.Delivery{Acknowledger: &ackRecorder{}, Body: []byte(callbackBody)}, nopLogger)

	require.NotNil(t, got)
	assert.Equal(t, 12, got.SubmissionID)
	assert.Equal(t, "abc", got.Token)
	assert.Equal(t, kilorank.JudgeFailed, got.Status.Kind)
	assert.Equal(t, "Wrong Answer", got.Status.Reason)
	assert.Equal(t, "42\n", got.Stdout)
	assert.Empty(t, got.Stderr)
	assert.InDelta(t, 0.153, got.Time, 1e-9)
	assert.Equal(t, 3120, got.Memory)
}

func TestContestCompletedMessage(t *testing.T) {
	ev := &kilorank.ContestCompletedEvent{
		ID:        "0b9c4a2e-5d1f-4c6b-9f51-3e8f2f6a7d10",
		ContestID: 3,
		Participants: map[int]*kilorank.RatingResult{
			1: {Rank: 1, OldRating: 1500, NewRating: 1511, Delta: 11},
		},
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	msg := contestCompletedMessage(ev, body)

	assert.Equal(t, ev.ID, msg.MessageId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)

	var decoded kilorank.ContestCompletedEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, 11, decoded.Participants[1].Delta)
}

var nopLogger = slog.New(slog.DiscardHandler)
