package grader

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/KiloProjects/kilorank"
	kmetrics "github.com/KiloProjects/kilorank/integrations/prometheus"
	"github.com/Yiling-J/theine-go"
)

type problemKey struct {
	contestID, problemID int
}

// Processor computes final verdicts and pushes contest scores.
type Processor struct {
	store Store
	board Scoreboard

	contests *theine.LoadingCache[int, *kilorank.Contest]
	problems *theine.LoadingCache[problemKey, *kilorank.ContestProblem]

	logger *slog.Logger
}

func NewProcessor(store Store, board Scoreboard, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{store: store, board: board, logger: logger}

	contests, err := theine.NewBuilder[int, *kilorank.Contest](500).BuildWithLoader(func(ctx context.Context, id int) (theine.Loaded[*kilorank.Contest], error) {
		contest, err := store.Contest(ctx, id)
		if err != nil {
			return theine.Loaded[*kilorank.Contest]{}, err
		}
		if contest == nil {
			return theine.Loaded[*kilorank.Contest]{}, fmt.Errorf("contest %d: %w", id, kilorank.ErrNotFound)
		}
		return theine.Loaded[*kilorank.Contest]{Value: contest, Cost: 1, TTL: time.Minute}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not build contest cache: %w", err)
	}
	p.contests = contests

	problems, err := theine.NewBuilder[problemKey, *kilorank.ContestProblem](5000).BuildWithLoader(func(ctx context.Context, key problemKey) (theine.Loaded[*kilorank.ContestProblem], error) {
		pb, err := store.ContestProblem(ctx, key.contestID, key.problemID)
		if err != nil {
			return theine.Loaded[*kilorank.ContestProblem]{}, err
		}
		if pb == nil {
			return theine.Loaded[*kilorank.ContestProblem]{}, fmt.Errorf("problem %d in contest %d: %w", key.problemID, key.contestID, kilorank.ErrNotFound)
		}
		return theine.Loaded[*kilorank.ContestProblem]{Value: pb, Cost: 1, TTL: time.Minute}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not build contest problem cache: %w", err)
	}
	p.problems = problems

	return p, nil
}

// Verdict evaluates the test cases in index order. The first non-accepted test case makes the submission REJECTED.
// The returned status is kilorank.StatusNone while some test case is still queued or running, or when there are none.
// Time and memory are the maximum over all test cases.
func Verdict(tcs []*kilorank.TestCase) (status kilorank.Status, maxTime float64, maxMemory int) {
	if len(tcs) == 0 {
		return kilorank.StatusNone, 0, 0
	}
	sorted := slices.SortedFunc(slices.Values(tcs), func(a, b *kilorank.TestCase) int {
		return cmp.Compare(a.Index, b.Index)
	})
	for _, tc := range sorted {
		if !tc.Status().Terminal() {
			return kilorank.StatusNone, 0, 0
		}
		maxTime = max(maxTime, tc.ExecutionTime)
		maxMemory = max(maxMemory, tc.MemoryUsed)
	}

	status = kilorank.StatusAccepted
	for _, tc := range sorted {
		if !tc.Status().Accepted() {
			status = kilorank.StatusRejected
			break
		}
	}
	return status, maxTime, maxMemory
}

// Complete reports whether every test case of the submission has a terminal result.
func Complete(sub *kilorank.Submission) bool {
	if len(sub.TestCases) == 0 {
		return false
	}
	for _, tc := range sub.TestCases {
		if !tc.Status().Terminal() {
			return false
		}
	}
	return true
}

// FinalizeVerdict stores the verdict of a complete submission and, for accepted contest submissions, its score.
// Submissions without test cases are left untouched. Scoring happens before the verdict is written and is
// idempotent, so a failure in between is repaired by running FinalizeVerdict again.
func (p *Processor) FinalizeVerdict(ctx context.Context, sub *kilorank.Submission) (kilorank.Status, error) {
	if len(sub.TestCases) == 0 {
		p.logger.DebugContext(ctx, "Submission has no test cases, leaving it as is", slog.Int("sub_id", sub.ID))
		return kilorank.StatusNone, nil
	}
	status, maxTime, maxMemory := Verdict(sub.TestCases)
	if status == kilorank.StatusNone {
		return kilorank.StatusNone, nil
	}

	if status == kilorank.StatusAccepted && sub.ContestID != nil {
		if err := p.score(ctx, sub); err != nil {
			return kilorank.StatusNone, fmt.Errorf("couldn't score submission %d: %w", sub.ID, err)
		}
	}

	written, err := p.store.FinishSubmission(ctx, sub.ID, kilorank.SubmissionUpdate{
		Status:    status,
		MaxTime:   &maxTime,
		MaxMemory: &maxMemory,
	})
	if err != nil {
		return kilorank.StatusNone, fmt.Errorf("couldn't update submission %d: %w", sub.ID, err)
	}
	if !written {
		p.logger.DebugContext(ctx, "Submission verdict was already set", slog.Int("sub_id", sub.ID))
		return status, nil
	}

	kmetrics.VerdictsTotal.WithLabelValues(string(status)).Inc()
	p.logger.InfoContext(ctx, "Submission finished", slog.Int("sub_id", sub.ID), slog.String("status", string(status)), slog.Float64("max_time", maxTime), slog.Int("max_memory", maxMemory))
	return status, nil
}

func (p *Processor) score(ctx context.Context, sub *kilorank.Submission) error {
	contest, err := p.contests.Get(ctx, *sub.ContestID)
	if err != nil {
		if errors.Is(err, kilorank.ErrNotFound) {
			p.logger.WarnContext(ctx, "Contest submission without contest, not scoring it", slog.Int("sub_id", sub.ID), slog.Int("contest_id", *sub.ContestID))
			return nil
		}
		return err
	}
	pb, err := p.problems.Get(ctx, problemKey{contest.ID, sub.ProblemID})
	if err != nil {
		if errors.Is(err, kilorank.ErrNotFound) {
			p.logger.WarnContext(ctx, "Problem is not part of the contest, not scoring it", slog.Int("sub_id", sub.ID), slog.Int("contest_id", contest.ID), slog.Int("problem_id", sub.ProblemID))
			return nil
		}
		return err
	}

	points := ContestPoints(contest, pb, sub.CreatedAt)
	best, err := p.store.UpsertContestSubmission(ctx, &kilorank.ContestSubmission{
		ContestID:    contest.ID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		SubmissionID: sub.ID,
		Points:       points,
	})
	if err != nil {
		return err
	}

	rank, err := p.board.UpdateUserScore(ctx, contest.ID, sub.UserID, sub.ProblemID, best.Points, best.SubmissionID)
	if err != nil {
		return fmt.Errorf("couldn't update leaderboard: %w", err)
	}
	p.logger.DebugContext(ctx, "Scored submission", slog.Int("sub_id", sub.ID), slog.Int("contest_id", contest.ID), slog.Int("points", points), slog.Int("best", best.Points), slog.Int("rank", rank))
	return nil
}
