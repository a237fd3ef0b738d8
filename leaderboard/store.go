package leaderboard

import (
	"context"

	"github.com/KiloProjects/kilorank"
)

// RankedStore holds one ranked set of users per contest, plus the per-problem state of every user.
// Implementations must make each single call atomic; Cache serializes read-modify-write sequences
// per (contest, user) on top of that.
type RankedStore interface {
	SetScore(ctx context.Context, contestID, userID int, points int) error
	// Rank is 1-based. ok is false if the user is not part of the contest's ranking.
	Rank(ctx context.Context, contestID, userID int) (rank int, ok bool, err error)
	Score(ctx context.Context, contestID, userID int) (points int, ok bool, err error)
	// Top returns the first n entries, highest score first. n <= 0 returns everybody.
	Top(ctx context.Context, contestID, n int) ([]kilorank.LeaderboardEntry, error)
	Count(ctx context.Context, contestID int) (int, error)

	// ProblemStatuses returns the user's state keyed by problem id, with attempt counters filled in.
	ProblemStatuses(ctx context.Context, contestID, userID int) (map[int]*kilorank.ProblemSubmissionStatus, error)
	// SetProblemStatus stores everything but the attempt counter, which is only changed through IncrAttempts and SetAttempts.
	SetProblemStatus(ctx context.Context, contestID, userID int, st *kilorank.ProblemSubmissionStatus) error
	IncrAttempts(ctx context.Context, contestID, userID, problemID int) (int, error)
	SetAttempts(ctx context.Context, contestID, userID, problemID, attempts int) error

	// Clear drops all state of the contest.
	Clear(ctx context.Context, contestID int) error
}
