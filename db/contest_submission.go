package db

import (
	"context"
	"errors"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/jackc/pgx/v5"
)

type dbContestSubmission struct {
	ContestID    int       `db:"contest_id"`
	UserID       int       `db:"user_id"`
	ProblemID    int       `db:"problem_id"`
	SubmissionID int       `db:"submission_id"`
	Points       int       `db:"points"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// UpsertContestSubmission stores cs if it beats the stored best for its (contest, user, problem).
// It returns the best row after the write, which is cs when it improved on the previous one.
func (s *DB) UpsertContestSubmission(ctx context.Context, cs *kilorank.ContestSubmission) (*kilorank.ContestSubmission, error) {
	_, err := s.conn.Exec(ctx, `INSERT INTO contest_submissions (contest_id, user_id, problem_id, submission_id, points, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (contest_id, user_id, problem_id) DO UPDATE SET
			submission_id = EXCLUDED.submission_id,
			points = EXCLUDED.points,
			updated_at = EXCLUDED.updated_at
		WHERE contest_submissions.points < EXCLUDED.points`,
		cs.ContestID, cs.UserID, cs.ProblemID, cs.SubmissionID, cs.Points)
	if err != nil {
		return nil, err
	}

	var best dbContestSubmission
	if err := Get(s.conn, ctx, &best, "SELECT * FROM contest_submissions WHERE contest_id = $1 AND user_id = $2 AND problem_id = $3", cs.ContestID, cs.UserID, cs.ProblemID); err != nil {
		return nil, err
	}
	return internalToContestSubmission(&best), nil
}

func (s *DB) ContestSubmissions(ctx context.Context, contestID int) ([]*kilorank.ContestSubmission, error) {
	var subs []*dbContestSubmission
	err := Select(s.conn, ctx, &subs, "SELECT * FROM contest_submissions WHERE contest_id = $1 ORDER BY updated_at, user_id, problem_id", contestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return []*kilorank.ContestSubmission{}, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper(subs, internalToContestSubmission), nil
}

type dbProblemAttempts struct {
	UserID    int `db:"user_id"`
	ProblemID int `db:"problem_id"`
	Attempts  int `db:"attempts"`
}

// ContestAttempts counts, per (user, problem), contest submissions that received at least one terminal judge result.
func (s *DB) ContestAttempts(ctx context.Context, contestID int) ([]*kilorank.ProblemAttempts, error) {
	var attempts []*dbProblemAttempts
	err := Select(s.conn, ctx, &attempts, `SELECT user_id, problem_id, COUNT(*) AS attempts FROM submissions subs
		WHERE contest_id = $1 AND EXISTS (
			SELECT 1 FROM test_cases tc WHERE tc.submission_id = subs.id AND tc.status_id NOT IN (1, 2)
		)
		GROUP BY user_id, problem_id`, contestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return []*kilorank.ProblemAttempts{}, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper(attempts, func(a *dbProblemAttempts) *kilorank.ProblemAttempts {
		pa := kilorank.ProblemAttempts(*a)
		return &pa
	}), nil
}

type dbUserActivity struct {
	UserID             int        `db:"user_id"`
	Attempts           int        `db:"attempts"`
	LastSubmissionTime *time.Time `db:"last_submission_time"`
}

// ContestActivity summarizes the submissions every user made in the contest.
func (s *DB) ContestActivity(ctx context.Context, contestID int) ([]*kilorank.UserActivity, error) {
	var activity []*dbUserActivity
	err := Select(s.conn, ctx, &activity, `SELECT user_id, COUNT(*) AS attempts, MAX(created_at) AS last_submission_time
		FROM submissions WHERE contest_id = $1 GROUP BY user_id`, contestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return []*kilorank.UserActivity{}, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper(activity, func(a *dbUserActivity) *kilorank.UserActivity {
		ua := kilorank.UserActivity(*a)
		return &ua
	}), nil
}

func internalToContestSubmission(cs *dbContestSubmission) *kilorank.ContestSubmission {
	return &kilorank.ContestSubmission{
		ContestID:    cs.ContestID,
		UserID:       cs.UserID,
		ProblemID:    cs.ProblemID,
		SubmissionID: cs.SubmissionID,
		Points:       cs.Points,
		UpdatedAt:    cs.UpdatedAt,
	}
}
