// Package leaderboard holds the live contest rankings.
//
// During a contest the cache is the system of record for standings; relational storage only receives
// the best scoring submission per problem and, at finalization, a snapshot of the whole leaderboard.
package leaderboard

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/KiloProjects/kilorank"
	"github.com/puzpuzpuz/xsync/v3"
)

// Source is the persisted state a leaderboard can be rebuilt from.
type Source interface {
	ContestSubmissions(ctx context.Context, contestID int) ([]*kilorank.ContestSubmission, error)
	ContestAttempts(ctx context.Context, contestID int) ([]*kilorank.ProblemAttempts, error)
}

type userKey struct {
	contestID, userID int
}

type Cache struct {
	store RankedStore
	pub   Publisher

	locks *xsync.MapOf[userKey, *sync.Mutex]

	logger *slog.Logger
}

func New(store RankedStore, pub Publisher, logger *slog.Logger) *Cache {
	if pub == nil {
		pub = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		pub:    pub,
		locks:  xsync.NewMapOf[userKey, *sync.Mutex](),
		logger: logger,
	}
}

func (c *Cache) lock(contestID, userID int) func() {
	mu, _ := c.locks.LoadOrCompute(userKey{contestID, userID}, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

// UpdateUserScore records points as the score of the user on the problem and returns the user's new rank.
// A problem's points only ever go up: re-applying the same or a lower value leaves the standings untouched.
func (c *Cache) UpdateUserScore(ctx context.Context, contestID, userID, problemID, points, submissionID int) (int, error) {
	changed, err := c.updateUserScore(ctx, contestID, userID, problemID, points, submissionID)
	if err != nil {
		return -1, err
	}
	rank, _, err := c.store.Rank(ctx, contestID, userID)
	if err != nil {
		return -1, err
	}
	if changed {
		c.publishLeaderboard(ctx, contestID)
		c.publishRanking(ctx, contestID, userID)
	}
	return rank, nil
}

func (c *Cache) updateUserScore(ctx context.Context, contestID, userID, problemID, points, submissionID int) (bool, error) {
	unlock := c.lock(contestID, userID)
	defer unlock()

	statuses, err := c.store.ProblemStatuses(ctx, contestID, userID)
	if err != nil {
		return false, fmt.Errorf("couldn't get problem statuses: %w", err)
	}
	if st, ok := statuses[problemID]; ok && st.Solved && st.Points >= points {
		return false, nil
	}

	total := points
	for pbID, st := range statuses {
		if pbID != problemID {
			total += st.Points
		}
	}

	if err := c.store.SetProblemStatus(ctx, contestID, userID, &kilorank.ProblemSubmissionStatus{
		ProblemID:    problemID,
		Points:       points,
		SubmissionID: submissionID,
		Solved:       true,
	}); err != nil {
		return false, fmt.Errorf("couldn't update problem status: %w", err)
	}
	if err := c.store.SetScore(ctx, contestID, userID, total); err != nil {
		return false, fmt.Errorf("couldn't update score: %w", err)
	}
	return true, nil
}

// RecordAttempt counts one judged submission of the user on the problem.
// A user's first attempt also makes them part of the ranking, with zero points.
func (c *Cache) RecordAttempt(ctx context.Context, contestID, userID, problemID int) (int, error) {
	attempts, err := c.recordAttempt(ctx, contestID, userID, problemID, 0)
	if err != nil {
		return -1, err
	}
	c.publishRanking(ctx, contestID, userID)
	return attempts, nil
}

// recordAttempt increments the counter, or sets it when set > 0.
func (c *Cache) recordAttempt(ctx context.Context, contestID, userID, problemID, set int) (int, error) {
	unlock := c.lock(contestID, userID)
	defer unlock()

	attempts := set
	if set > 0 {
		if err := c.store.SetAttempts(ctx, contestID, userID, problemID, set); err != nil {
			return -1, err
		}
	} else {
		var err error
		attempts, err = c.store.IncrAttempts(ctx, contestID, userID, problemID)
		if err != nil {
			return -1, err
		}
	}

	if _, ok, err := c.store.Score(ctx, contestID, userID); err != nil {
		return -1, err
	} else if !ok {
		if err := c.store.SetScore(ctx, contestID, userID, 0); err != nil {
			return -1, err
		}
	}
	return attempts, nil
}

// Leaderboard returns the first n entries of the contest, or all of them if n <= 0.
// Ties are ordered by the underlying store, not by submission time.
func (c *Cache) Leaderboard(ctx context.Context, contestID, n int) ([]kilorank.LeaderboardEntry, error) {
	return c.store.Top(ctx, contestID, n)
}

func (c *Cache) Count(ctx context.Context, contestID int) (int, error) {
	return c.store.Count(ctx, contestID)
}

// UserRanking returns kilorank.ErrNotFound if the user is not ranked in the contest.
func (c *Cache) UserRanking(ctx context.Context, contestID, userID int) (*kilorank.UserRanking, error) {
	points, ok, err := c.store.Score(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kilorank.ErrNotFound
	}
	rank, _, err := c.store.Rank(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	total, err := c.store.Count(ctx, contestID)
	if err != nil {
		return nil, err
	}
	problems, err := c.UserProblemStatuses(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	return &kilorank.UserRanking{
		ContestID: contestID,
		UserID:    userID,
		Points:    points,
		Rank:      rank,
		Total:     total,
		Problems:  problems,
	}, nil
}

// UserProblemStatuses returns the user's per-problem state, ordered by problem id.
func (c *Cache) UserProblemStatuses(ctx context.Context, contestID, userID int) ([]*kilorank.ProblemSubmissionStatus, error) {
	statuses, err := c.store.ProblemStatuses(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	return slices.SortedFunc(maps.Values(statuses), func(a, b *kilorank.ProblemSubmissionStatus) int {
		return cmp.Compare(a.ProblemID, b.ProblemID)
	}), nil
}

// Rebuild drops the contest's live state and replays it from persisted submissions.
func (c *Cache) Rebuild(ctx context.Context, src Source, contestID int) error {
	subs, err := src.ContestSubmissions(ctx, contestID)
	if err != nil {
		return fmt.Errorf("couldn't get contest submissions: %w", err)
	}
	attempts, err := src.ContestAttempts(ctx, contestID)
	if err != nil {
		return fmt.Errorf("couldn't get contest attempts: %w", err)
	}

	if err := c.store.Clear(ctx, contestID); err != nil {
		return fmt.Errorf("couldn't clear leaderboard: %w", err)
	}
	for _, sub := range subs {
		if _, err := c.updateUserScore(ctx, contestID, sub.UserID, sub.ProblemID, sub.Points, sub.SubmissionID); err != nil {
			return err
		}
	}
	for _, att := range attempts {
		if att.Attempts <= 0 {
			continue
		}
		if _, err := c.recordAttempt(ctx, contestID, att.UserID, att.ProblemID, att.Attempts); err != nil {
			return err
		}
	}

	c.logger.InfoContext(ctx, "Rebuilt leaderboard", slog.Int("contest_id", contestID), slog.Int("submissions", len(subs)))
	c.publishLeaderboard(ctx, contestID)
	return nil
}

func (c *Cache) publishLeaderboard(ctx context.Context, contestID int) {
	entries, err := c.store.Top(ctx, contestID, -1)
	if err != nil {
		c.logger.WarnContext(ctx, "Couldn't read leaderboard for publishing", slog.Int("contest_id", contestID), slog.Any("err", err))
		return
	}
	if err := c.pub.PublishLeaderboard(ctx, contestID, entries); err != nil {
		c.logger.WarnContext(ctx, "Couldn't publish leaderboard", slog.Int("contest_id", contestID), slog.Any("err", err))
	}
}

func (c *Cache) publishRanking(ctx context.Context, contestID, userID int) {
	ranking, err := c.UserRanking(ctx, contestID, userID)
	if err != nil {
		c.logger.WarnContext(ctx, "Couldn't read ranking for publishing", slog.Int("contest_id", contestID), slog.Int("user_id", userID), slog.Any("err", err))
		return
	}
	if err := c.pub.PublishRanking(ctx, ranking); err != nil {
		c.logger.WarnContext(ctx, "Couldn't publish ranking", slog.Int("contest_id", contestID), slog.Int("user_id", userID), slog.Any("err", err))
	}
}
