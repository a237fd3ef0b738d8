package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// NewSubmissionChannel is notified by a trigger whenever a submission is inserted.
const NewSubmissionChannel = "kr_new_submission"

// Listen holds a dedicated connection listening on channel and calls cb for every notification,
// reconnecting after errors until ctx is done.
func (s *DB) Listen(ctx context.Context, channel string, cb func(payload string)) {
	for {
		err := s.listen(ctx, channel, cb)
		if ctx.Err() != nil {
			return
		}
		slog.WarnContext(ctx, "Lost notification listener, reconnecting", slog.String("channel", channel), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *DB) listen(ctx context.Context, channel string, cb func(payload string)) error {
	pooled, err := s.conn.Acquire(ctx)
	if err != nil {
		return err
	}
	// LISTEN state is per connection, so it must not be returned to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.WithoutCancel(ctx))

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		cb(n.Payload)
	}
}
