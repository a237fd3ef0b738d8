package kilorank

import (
	"encoding/json"
	"time"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type Contest struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Finalized         bool       `json:"finalized"`
	FinalizedAt       *time.Time `json:"finalized_at"`
	TotalParticipants int        `json:"total_participants"`

	// FinalizationError holds the last finalization failure, cleared on success
	FinalizationError *string `json:"finalization_error"`
}

func (c *Contest) Ended() bool {
	return time.Now().After(c.EndTime)
}

// Duration is the scoring window of the contest.
func (c *Contest) Duration() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

type ContestProblem struct {
	ContestID  int        `json:"contest_id"`
	ProblemID  int        `json:"problem_id"`
	Difficulty Difficulty `json:"difficulty"`

	// MaxPoints overrides the difficulty-derived value when positive
	MaxPoints int `json:"max_points"`
}

// ContestSubmission is the best scoring attempt per (user, problem, contest).
type ContestSubmission struct {
	ContestID    int       `json:"contest_id"`
	UserID       int       `json:"user_id"`
	ProblemID    int       `json:"problem_id"`
	SubmissionID int       `json:"submission_id"`
	Points       int       `json:"points"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProblemSubmissionStatus is the cache-resident per (contest, user, problem) state.
type ProblemSubmissionStatus struct {
	ProblemID    int  `json:"problem_id"`
	Points       int  `json:"points"`
	Attempts     int  `json:"attempts"`
	SubmissionID int  `json:"submission_id"`
	Solved       bool `json:"solved"`
}

type LeaderboardEntry struct {
	UserID int `json:"user_id"`
	Points int `json:"points"`
	Rank   int `json:"rank"`
}

type UserRanking struct {
	ContestID int `json:"contest_id"`
	UserID    int `json:"user_id"`
	Points    int `json:"points"`
	Rank      int `json:"rank"`
	Total     int `json:"total_participants"`

	Problems []*ProblemSubmissionStatus `json:"problems"`
}

// ContestPoints is the durable per (contest, user) result written at finalization.
type ContestPoints struct {
	ContestID int `json:"contest_id"`
	UserID    int `json:"user_id"`
	Points    int `json:"points"`
	Rank      int `json:"rank"`

	ProblemsSolved     int        `json:"problems_solved"`
	TotalAttempts      int        `json:"total_attempts"`
	LastSubmissionTime *time.Time `json:"last_submission_time"`

	ProblemBreakdown json.RawMessage `json:"problem_breakdown"`

	RatingBefore *int `json:"rating_before"`
	RatingAfter  *int `json:"rating_after"`
	RatingChange *int `json:"rating_change"`
}

// UserActivity is derived from persisted submissions of one user in one contest.
type UserActivity struct {
	UserID             int
	Attempts           int
	LastSubmissionTime *time.Time
}

type UserRating struct {
	UserID       int `json:"user_id"`
	Rating       int `json:"rating"`
	ContestCount int `json:"contest_count"`
}

type RatingResult struct {
	Rank      int `json:"rank"`
	OldRating int `json:"old_rating"`
	NewRating int `json:"new_rating"`
	Delta     int `json:"delta"`
}

// ContestCompletedEvent is emitted once per successful finalization.
type ContestCompletedEvent struct {
	ID           string                `json:"id"`
	ContestID    int                   `json:"contest_id"`
	FinalizedAt  time.Time             `json:"finalized_at"`
	Participants map[int]*RatingResult `json:"participants"`
}

type ProblemAttempts struct {
	UserID    int
	ProblemID int
	Attempts  int
}
