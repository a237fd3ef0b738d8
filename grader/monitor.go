package grader

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/KiloProjects/kilorank"
	kmetrics "github.com/KiloProjects/kilorank/integrations/prometheus"
	"github.com/KiloProjects/kilorank/judge"
	"golang.org/x/sync/errgroup"
)

// Poller reads a single judge result by token, implemented by *judge.Client.
type Poller interface {
	Get(ctx context.Context, token string) (*judge.Result, error)
}

type MonitorOptions struct {
	Staleness   time.Duration
	BatchSize   int
	MaxAttempts int
	PollLimit   int
}

// Monitor recovers submissions whose judge callbacks were lost by polling the judge directly.
type Monitor struct {
	store    MonitorStore
	poller   Poller
	ingester *Ingester
	proc     *Processor

	opts MonitorOptions

	logger *slog.Logger
}

// NewMonitor creates a monitor. Zero options are read from the runtime flags on every sweep.
func NewMonitor(store MonitorStore, poller Poller, ingester *Ingester, proc *Processor, opts MonitorOptions, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, poller: poller, ingester: ingester, proc: proc, opts: opts, logger: logger}
}

func (m *Monitor) options() MonitorOptions {
	opts := m.opts
	if opts.Staleness <= 0 {
		opts.Staleness = time.Duration(MonitorStaleness.Value()) * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = MonitorBatchSize.Value()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = MonitorMaxAttempts.Value()
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = MonitorPollLimit.Value()
	}
	return opts
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked    int
	Failed     int
	Finalized  int
	Polled     int
	PollErrors int
}

// Run sweeps on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(max(MonitorInterval.Value(), 1)) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := m.Sweep(ctx)
			if res.Checked > 0 {
				m.logger.InfoContext(ctx, "Stalled submission sweep", slog.Int("checked", res.Checked), slog.Int("failed", res.Failed), slog.Int("finalized", res.Finalized), slog.Int("polled", res.Polled), slog.Int("poll_errors", res.PollErrors))
			}
		}
	}
}

// Sweep checks one batch of stalled submissions. Problems with single submissions are logged and counted, never returned.
func (m *Monitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	opts := m.options()
	subs, err := m.store.StalledSubmissions(ctx, time.Now().Add(-opts.Staleness), opts.BatchSize)
	if err != nil {
		m.logger.WarnContext(ctx, "Couldn't get stalled submissions", slog.Any("err", err))
		return res
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		res.Checked++
		m.recoverSubmission(ctx, sub, opts, &res)
	}
	return res
}

func (m *Monitor) recoverSubmission(ctx context.Context, sub *kilorank.Submission, opts MonitorOptions, res *SweepResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "Stalled submission recovery panicked", slog.Int("sub_id", sub.ID), slog.Any("panic", r))
			kmetrics.MonitorOutcomesTotal.WithLabelValues("panic").Inc()
		}
	}()

	attempts, err := m.store.IncrementProcessingAttempts(ctx, sub.ID)
	if err != nil {
		m.logger.WarnContext(ctx, "Couldn't increment processing attempts", slog.Int("sub_id", sub.ID), slog.Any("err", err))
		kmetrics.MonitorOutcomesTotal.WithLabelValues("error").Inc()
		return
	}
	if attempts > opts.MaxAttempts {
		if _, err := m.store.FinishSubmission(ctx, sub.ID, kilorank.SubmissionUpdate{Status: kilorank.StatusFailed}); err != nil {
			m.logger.WarnContext(ctx, "Couldn't mark submission as failed", slog.Int("sub_id", sub.ID), slog.Any("err", err))
			kmetrics.MonitorOutcomesTotal.WithLabelValues("error").Inc()
			return
		}
		m.logger.WarnContext(ctx, "Giving up on stalled submission", slog.Int("sub_id", sub.ID), slog.Int("attempts", attempts))
		kmetrics.VerdictsTotal.WithLabelValues(string(kilorank.StatusFailed)).Inc()
		kmetrics.MonitorOutcomesTotal.WithLabelValues("failed").Inc()
		res.Failed++
		return
	}

	pending := make([]*kilorank.TestCase, 0, len(sub.TestCases))
	for _, tc := range sub.TestCases {
		if !tc.Status().Terminal() {
			pending = append(pending, tc)
		}
	}

	// every result arrived but the verdict was never written
	if len(pending) == 0 {
		if _, err := m.proc.FinalizeVerdict(ctx, sub); err != nil {
			m.logger.WarnContext(ctx, "Couldn't finalize stalled submission", slog.Int("sub_id", sub.ID), slog.Any("err", err))
			kmetrics.MonitorOutcomesTotal.WithLabelValues("error").Inc()
			return
		}
		kmetrics.MonitorOutcomesTotal.WithLabelValues("finalized").Inc()
		res.Finalized++
		return
	}

	var polled, pollErrors atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(opts.PollLimit)
	for _, tc := range pending {
		eg.Go(func() error {
			if err := m.repoll(ctx, sub.ID, tc); err != nil {
				m.logger.WarnContext(ctx, "Couldn't recover test case", slog.Int("sub_id", sub.ID), slog.String("token", tc.Token), slog.Any("err", err))
				kmetrics.MonitorOutcomesTotal.WithLabelValues("poll_error").Inc()
				pollErrors.Add(1)
				return nil
			}
			kmetrics.MonitorOutcomesTotal.WithLabelValues("polled").Inc()
			polled.Add(1)
			return nil
		})
	}
	eg.Wait()
	res.Polled += int(polled.Load())
	res.PollErrors += int(pollErrors.Load())
}

func (m *Monitor) repoll(ctx context.Context, subID int, tc *kilorank.TestCase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err := m.poller.Get(ctx, tc.Token)
	if err != nil {
		return err
	}
	cb := result.Callback(subID)
	cb.Token = tc.Token
	return m.ingester.HandleCallback(ctx, cb)
}
