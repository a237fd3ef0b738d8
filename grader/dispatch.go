package grader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/judge"
	mapset "github.com/deckarep/golang-set/v2"
)

// Submitter sends runs to the judge, implemented by *judge.Client.
type Submitter interface {
	SubmitBatch(ctx context.Context, reqs []judge.SubmissionRequest) ([]string, error)
}

// Dispatcher sends pending submissions to the judge.
type Dispatcher struct {
	store DispatchStore
	judge Submitter

	wakeChan chan struct{}
	// skipped holds submissions that cannot be judged, so scans don't keep picking them up
	skipped mapset.Set[int]

	logger *slog.Logger
}

func NewDispatcher(store DispatchStore, judge Submitter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		judge:    judge,
		wakeChan: make(chan struct{}, 1),
		skipped:  mapset.NewSet[int](),
		logger:   logger,
	}
}

func (d *Dispatcher) Wake() {
	select {
	case d.wakeChan <- struct{}{}:
	default:
	}
}

// Dispatch submits every test of the submission's problem and moves the submission to PROCESSING.
// A submission whose problem has no tests stays PENDING.
func (d *Dispatcher) Dispatch(ctx context.Context, subID int) error {
	sub, err := d.store.Submission(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("submission %d: %w", subID, kilorank.ErrNotFound)
	}
	if sub.Status != kilorank.StatusPending {
		return kilorank.Statusf(409, "Submission %d is not pending", subID)
	}

	tests, err := d.store.ProblemTests(ctx, sub.ProblemID)
	if err != nil {
		return fmt.Errorf("couldn't get problem tests: %w", err)
	}
	if len(tests) == 0 {
		d.logger.WarnContext(ctx, "Problem has no tests, submission stays pending", slog.Int("sub_id", sub.ID), slog.Int("problem_id", sub.ProblemID))
		d.skipped.Add(sub.ID)
		return nil
	}

	reqs := make([]judge.SubmissionRequest, 0, len(tests))
	for _, test := range tests {
		reqs = append(reqs, judge.SubmissionRequest{
			SourceCode:     sub.Code,
			LanguageID:     sub.LanguageID,
			Stdin:          test.Stdin,
			ExpectedOutput: test.ExpectedOutput,
			SubmissionID:   sub.ID,
		})
	}
	tokens, err := d.judge.SubmitBatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("couldn't submit to judge: %w", err)
	}

	tcs := make([]*kilorank.TestCase, 0, len(tokens))
	for i, token := range tokens {
		tcs = append(tcs, &kilorank.TestCase{SubmissionID: sub.ID, Index: tests[i].Index, Token: token})
	}
	if err := d.store.StartSubmission(ctx, sub.ID, tcs); err != nil {
		return fmt.Errorf("couldn't store judge tokens: %w", err)
	}
	d.logger.DebugContext(ctx, "Dispatched submission", slog.Int("sub_id", sub.ID), slog.Int("tests", len(tcs)))
	return nil
}

// Run dispatches pending submissions, oldest first, when woken and on every tick.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(max(DispatchInterval.Value(), 1)) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wakeChan:
		}
		d.dispatchPending(ctx)
	}
}

func (d *Dispatcher) dispatchPending(ctx context.Context) {
	subs, err := d.store.Submissions(ctx, kilorank.SubmissionFilter{
		Status:     kilorank.StatusPending,
		ExcludeIDs: d.skipped.ToSlice(),
		Ascending:  true,
		Limit:      DispatchBatchSize.Value(),
	})
	if err != nil {
		d.logger.WarnContext(ctx, "Couldn't get pending submissions", slog.Any("err", err))
		return
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		if err := d.Dispatch(ctx, sub.ID); err != nil {
			d.logger.WarnContext(ctx, "Couldn't dispatch submission", slog.Int("sub_id", sub.ID), slog.Any("err", err))
		}
	}
}
