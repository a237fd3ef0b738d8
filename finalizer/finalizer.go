// Package finalizer snapshots ended contests into durable results and applies rating changes.
package finalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KiloProjects/kilorank"
	kmetrics "github.com/KiloProjects/kilorank/integrations/prometheus"
	"github.com/KiloProjects/kilorank/internal/config"
	"github.com/KiloProjects/kilorank/leaderboard"
	"github.com/KiloProjects/kilorank/rating"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/KiloProjects/kilorank/finalizer")

var (
	SweepInterval = config.GenFlag("finalizer.interval_seconds", 60, "Seconds between contest finalization sweeps")
	Lookback      = config.GenFlag("finalizer.lookback_minutes", 60, "How far back, in minutes, ended contests are picked up for finalization")
)

type Store interface {
	leaderboard.Source

	Contest(ctx context.Context, id int) (*kilorank.Contest, error)
	UnfinalizedContests(ctx context.Context, from, to time.Time) ([]*kilorank.Contest, error)
	ContestActivity(ctx context.Context, contestID int) ([]*kilorank.UserActivity, error)

	UpsertContestPoints(ctx context.Context, points []*kilorank.ContestPoints) error
	UserRatings(ctx context.Context, userIDs []int) (map[int]*kilorank.UserRating, error)
	CompleteFinalization(ctx context.Context, contestID int, finalizedAt time.Time, participants int, results map[int]*kilorank.RatingResult) error
	SetFinalizationError(ctx context.Context, contestID int, msg string) error
}

// EventPublisher announces finalized contests to downstream consumers.
type EventPublisher interface {
	PublishContestCompleted(ctx context.Context, ev *kilorank.ContestCompletedEvent) error
}

type Finalizer struct {
	store  Store
	board  *leaderboard.Cache
	events EventPublisher
	guard  Guard

	logger *slog.Logger
}

// New creates a finalizer. A nil guard means a process-local one, a nil events publisher drops events.
func New(store Store, board *leaderboard.Cache, events EventPublisher, guard Guard, logger *slog.Logger) *Finalizer {
	if guard == nil {
		guard = NewLocalGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: store, board: board, events: events, guard: guard, logger: logger}
}

// Run sweeps for ended contests on every tick until ctx is done.
func (f *Finalizer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(max(SweepInterval.Value(), 1)) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Sweep(ctx)
		}
	}
}

// Sweep finalizes every unfinalized contest that ended within the lookback window.
// It returns the number of contests finalized.
func (f *Finalizer) Sweep(ctx context.Context) int {
	now := time.Now()
	contests, err := f.store.UnfinalizedContests(ctx, now.Add(-time.Duration(Lookback.Value())*time.Minute), now)
	if err != nil {
		f.logger.WarnContext(ctx, "Couldn't get unfinalized contests", slog.Any("err", err))
		return 0
	}
	var finalized int
	for _, contest := range contests {
		if ctx.Err() != nil {
			break
		}
		if f.sweepContest(ctx, contest) {
			finalized++
		}
	}
	return finalized
}

func (f *Finalizer) sweepContest(ctx context.Context, contest *kilorank.Contest) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.ErrorContext(ctx, "Contest finalization panicked", slog.Int("contest_id", contest.ID), slog.Any("panic", r))
			f.recordFailure(ctx, contest.ID, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	if !f.guard.TryAcquire(contest.ID) {
		return false
	}
	defer f.guard.Release(contest.ID)

	if err := f.finalize(ctx, contest); err != nil {
		if errors.Is(err, kilorank.ErrAlreadyFinalized) {
			return false
		}
		f.recordFailure(ctx, contest.ID, err)
		return false
	}
	return true
}

// FinalizeContest finalizes a contest regardless of its end time.
func (f *Finalizer) FinalizeContest(ctx context.Context, contestID int) error {
	contest, err := f.store.Contest(ctx, contestID)
	if err != nil {
		return err
	}
	if contest == nil {
		return fmt.Errorf("contest %d: %w", contestID, kilorank.ErrNotFound)
	}
	if contest.Finalized {
		return kilorank.ErrAlreadyFinalized
	}
	if !f.guard.TryAcquire(contestID) {
		return kilorank.ErrFinalizationInProgress
	}
	defer f.guard.Release(contestID)

	if err := f.finalize(ctx, contest); err != nil {
		if !errors.Is(err, kilorank.ErrAlreadyFinalized) {
			f.recordFailure(ctx, contestID, err)
		}
		return err
	}
	return nil
}

func (f *Finalizer) recordFailure(ctx context.Context, contestID int, err error) {
	f.logger.WarnContext(ctx, "Couldn't finalize contest", slog.Int("contest_id", contestID), slog.Any("err", err))
	kmetrics.FinalizationsTotal.WithLabelValues("error").Inc()
	if err := f.store.SetFinalizationError(context.WithoutCancel(ctx), contestID, err.Error()); err != nil {
		f.logger.ErrorContext(ctx, "Couldn't record finalization error", slog.Int("contest_id", contestID), slog.Any("err", err))
	}
}

// finalize runs every step again on retry. Results are upserted and prior ratings are read
// from user_ratings, which only changes together with the finalized flag.
func (f *Finalizer) finalize(ctx context.Context, contest *kilorank.Contest) (err error) {
	ctx, span := tracer.Start(ctx, "finalizer.Finalize", trace.WithAttributes(attribute.Int("contest.id", contest.ID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	count, err := f.board.Count(ctx, contest.ID)
	if err != nil {
		return fmt.Errorf("couldn't read leaderboard: %w", err)
	}
	if count == 0 {
		if err := f.board.Rebuild(ctx, f.store, contest.ID); err != nil {
			return fmt.Errorf("couldn't rebuild leaderboard: %w", err)
		}
	}
	entries, err := f.board.Leaderboard(ctx, contest.ID, -1)
	if err != nil {
		return fmt.Errorf("couldn't read leaderboard: %w", err)
	}

	points, err := f.contestPoints(ctx, contest.ID, entries)
	if err != nil {
		return err
	}
	if err := f.store.UpsertContestPoints(ctx, points); err != nil {
		return fmt.Errorf("couldn't save contest points: %w", err)
	}

	results, err := f.ratingChanges(ctx, entries)
	if err != nil {
		return err
	}

	finalizedAt := time.Now()
	if err := f.store.CompleteFinalization(ctx, contest.ID, finalizedAt, len(entries), results); err != nil {
		return fmt.Errorf("couldn't complete finalization: %w", err)
	}
	kmetrics.FinalizationsTotal.WithLabelValues("ok").Inc()
	f.logger.InfoContext(ctx, "Finalized contest", slog.Int("contest_id", contest.ID), slog.Int("participants", len(entries)))

	if f.events != nil {
		ev := &kilorank.ContestCompletedEvent{
			ID:           uuid.NewString(),
			ContestID:    contest.ID,
			FinalizedAt:  finalizedAt,
			Participants: results,
		}
		// the contest is finalized at this point, so a lost event is not retried
		if err := f.events.PublishContestCompleted(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "Couldn't publish contest completion", slog.Int("contest_id", contest.ID), slog.Any("err", err))
		}
	}
	return nil
}

func (f *Finalizer) contestPoints(ctx context.Context, contestID int, entries []kilorank.LeaderboardEntry) ([]*kilorank.ContestPoints, error) {
	activity, err := f.store.ContestActivity(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("couldn't get contest activity: %w", err)
	}
	byUser := make(map[int]*kilorank.UserActivity, len(activity))
	for _, act := range activity {
		byUser[act.UserID] = act
	}

	points := make([]*kilorank.ContestPoints, 0, len(entries))
	for _, entry := range entries {
		statuses, err := f.board.UserProblemStatuses(ctx, contestID, entry.UserID)
		if err != nil {
			return nil, fmt.Errorf("couldn't get problem statuses of user %d: %w", entry.UserID, err)
		}
		breakdown, err := json.Marshal(statuses)
		if err != nil {
			return nil, err
		}
		row := &kilorank.ContestPoints{
			ContestID:        contestID,
			UserID:           entry.UserID,
			Points:           entry.Points,
			Rank:             entry.Rank,
			ProblemBreakdown: breakdown,
		}
		for _, st := range statuses {
			if st.Solved {
				row.ProblemsSolved++
			}
		}
		if act, ok := byUser[entry.UserID]; ok {
			row.TotalAttempts = act.Attempts
			row.LastSubmissionTime = act.LastSubmissionTime
		}
		points = append(points, row)
	}
	return points, nil
}

func (f *Finalizer) ratingChanges(ctx context.Context, entries []kilorank.LeaderboardEntry) (map[int]*kilorank.RatingResult, error) {
	userIDs := make([]int, 0, len(entries))
	participants := make([]rating.Participant, 0, len(entries))
	for _, entry := range entries {
		userIDs = append(userIDs, entry.UserID)
		participants = append(participants, rating.Participant{UserID: entry.UserID, Rank: entry.Rank, Points: entry.Points})
	}
	prior, err := f.store.UserRatings(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("couldn't get user ratings: %w", err)
	}
	ratings := make(map[int]int, len(prior))
	counts := make(map[int]int, len(prior))
	for id, r := range prior {
		ratings[id] = r.Rating
		counts[id] = r.ContestCount
	}
	return rating.ComputeRatingChanges(ratings, counts, participants), nil
}
