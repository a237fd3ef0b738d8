package grader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KiloProjects/kilorank"
	kmetrics "github.com/KiloProjects/kilorank/integrations/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Ingester applies judge results, one test case at a time.
type Ingester struct {
	store Store
	proc  *Processor
	board Scoreboard

	logger *slog.Logger
}

func NewIngester(store Store, proc *Processor, board Scoreboard, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, proc: proc, board: board, logger: logger}
}

// HandleCallback applies one judge result and finalizes the submission once every test case is done.
//
// It returns an error wrapping kilorank.ErrNotFound when the submission or the token is unknown.
// Such callbacks can never succeed, so transports should drop them instead of redelivering.
// Stale results (non-terminal after terminal) are ignored without error.
func (in *Ingester) HandleCallback(ctx context.Context, cb *kilorank.Callback) error {
	ctx, span := tracer.Start(ctx, "grader.HandleCallback", trace.WithAttributes(
		attribute.Int("submission.id", cb.SubmissionID),
		attribute.String("judge.token", cb.Token),
		attribute.Int("judge.status", cb.Status.Code),
	))
	defer span.End()

	err := in.handleCallback(ctx, cb)
	if err != nil {
		span.RecordError(err)
		outcome := "error"
		if kilorank.ErrorCode(err) == 404 {
			outcome = "not_found"
		}
		kmetrics.CallbacksTotal.WithLabelValues(outcome).Inc()
	}
	return err
}

func (in *Ingester) handleCallback(ctx context.Context, cb *kilorank.Callback) error {
	sub, err := in.store.Submission(ctx, cb.SubmissionID)
	if err != nil {
		return fmt.Errorf("couldn't get submission %d: %w", cb.SubmissionID, err)
	}
	if sub == nil {
		return fmt.Errorf("submission %d: %w", cb.SubmissionID, kilorank.ErrNotFound)
	}

	var tc *kilorank.TestCase
	for _, t := range sub.TestCases {
		if t.Token == cb.Token {
			tc = t
			break
		}
	}
	if tc == nil {
		return fmt.Errorf("test case %q of submission %d: %w", cb.Token, sub.ID, kilorank.ErrNotFound)
	}

	if !cb.Status.Supersedes(tc.Status()) {
		in.logger.DebugContext(ctx, "Ignoring stale callback", slog.Int("sub_id", sub.ID), slog.String("token", cb.Token), slog.String("status", cb.Status.String()))
		kmetrics.CallbacksTotal.WithLabelValues("stale").Inc()
		return nil
	}

	applied, err := in.store.UpdateTestCase(ctx, sub.ID, cb.Token, cb.TestCaseUpdate())
	if err != nil {
		return fmt.Errorf("couldn't update test case: %w", err)
	}
	if !applied {
		// lost a race against a terminal result for the same test case
		kmetrics.CallbacksTotal.WithLabelValues("stale").Inc()
		return nil
	}
	kmetrics.CallbacksTotal.WithLabelValues("applied").Inc()

	if cb.Status.Terminal() && sub.ContestID != nil && in.board != nil {
		in.recordAttempt(ctx, sub)
	}

	if sub.Status.Terminal() || !cb.Status.Terminal() {
		return nil
	}

	// Concurrent callbacks of the same submission each see their own write, so the completion
	// check has to look at fresh state.
	sub, err = in.store.Submission(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("couldn't reload submission: %w", err)
	}
	if sub == nil || sub.Status.Terminal() || !Complete(sub) {
		return nil
	}
	if _, err := in.proc.FinalizeVerdict(ctx, sub); err != nil {
		return err
	}
	return nil
}

// recordAttempt counts the submission once, on whichever terminal result is stored first.
func (in *Ingester) recordAttempt(ctx context.Context, sub *kilorank.Submission) {
	first, err := in.store.MarkAttemptRecorded(ctx, sub.ID)
	if err != nil {
		in.logger.WarnContext(ctx, "Couldn't mark attempt", slog.Int("sub_id", sub.ID), slog.Any("err", err))
		return
	}
	if !first {
		return
	}
	if _, err := in.board.RecordAttempt(ctx, *sub.ContestID, sub.UserID, sub.ProblemID); err != nil {
		in.logger.WarnContext(ctx, "Couldn't record attempt", slog.Int("sub_id", sub.ID), slog.Any("err", err))
	}
}
