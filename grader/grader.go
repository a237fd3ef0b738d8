// Package grader turns judge results into verdicts and contest scores.
//
// Results arrive once per test case, at least once, in any order. Every write the grader does is
// conditional, so replaying the same results converges to the same state.
package grader

import (
	"context"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/internal/config"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/KiloProjects/kilorank/grader")

var (
	MonitorInterval    = config.GenFlag("grader.monitor.interval_seconds", 60, "Seconds between stalled submission sweeps")
	MonitorStaleness   = config.GenFlag("grader.monitor.staleness_minutes", 5, "Minutes after which a processing submission is considered stalled")
	MonitorBatchSize   = config.GenFlag("grader.monitor.batch_size", 50, "Stalled submissions checked per sweep")
	MonitorMaxAttempts = config.GenFlag("grader.monitor.max_attempts", 3, "Recovery attempts before a stalled submission is marked as failed")
	MonitorPollLimit   = config.GenFlag("grader.monitor.poll_concurrency", 4, "Concurrent judge polls for one stalled submission")

	DispatchInterval  = config.GenFlag("grader.dispatcher.interval_seconds", 5, "Seconds between pending submission scans")
	DispatchBatchSize = config.GenFlag("grader.dispatcher.batch_size", 20, "Pending submissions sent to the judge per scan")
)

// Store is the persisted state needed to apply results and score submissions.
type Store interface {
	Submission(ctx context.Context, id int) (*kilorank.Submission, error)
	UpdateTestCase(ctx context.Context, subID int, token string, upd kilorank.TestCaseUpdate) (bool, error)
	FinishSubmission(ctx context.Context, id int, upd kilorank.SubmissionUpdate) (bool, error)
	MarkAttemptRecorded(ctx context.Context, id int) (bool, error)

	Contest(ctx context.Context, id int) (*kilorank.Contest, error)
	ContestProblem(ctx context.Context, contestID, problemID int) (*kilorank.ContestProblem, error)
	UpsertContestSubmission(ctx context.Context, cs *kilorank.ContestSubmission) (*kilorank.ContestSubmission, error)
}

type MonitorStore interface {
	StalledSubmissions(ctx context.Context, before time.Time, limit int) ([]*kilorank.Submission, error)
	IncrementProcessingAttempts(ctx context.Context, id int) (int, error)
	FinishSubmission(ctx context.Context, id int, upd kilorank.SubmissionUpdate) (bool, error)
}

type DispatchStore interface {
	Submission(ctx context.Context, id int) (*kilorank.Submission, error)
	Submissions(ctx context.Context, filter kilorank.SubmissionFilter) ([]*kilorank.Submission, error)
	ProblemTests(ctx context.Context, problemID int) ([]*kilorank.ProblemTest, error)
	StartSubmission(ctx context.Context, id int, tcs []*kilorank.TestCase) error
}

// Scoreboard is the live leaderboard, implemented by *leaderboard.Cache.
type Scoreboard interface {
	UpdateUserScore(ctx context.Context, contestID, userID, problemID, points, submissionID int) (int, error)
	RecordAttempt(ctx context.Context, contestID, userID, problemID int) (int, error)
}
