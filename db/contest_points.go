package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/jackc/pgx/v5"
)

type dbContestPoints struct {
	ContestID int `db:"contest_id"`
	UserID    int `db:"user_id"`
	Points    int `db:"points"`
	Rank      int `db:"rank"`

	ProblemsSolved     int        `db:"problems_solved"`
	TotalAttempts      int        `db:"total_attempts"`
	LastSubmissionTime *time.Time `db:"last_submission_time"`

	ProblemBreakdown []byte `db:"problem_breakdown"`

	RatingBefore *int `db:"rating_before"`
	RatingAfter  *int `db:"rating_after"`
	RatingChange *int `db:"rating_change"`
}

// UpsertContestPoints writes one row per (contest, user). Rating columns of existing rows are left alone.
func (s *DB) UpsertContestPoints(ctx context.Context, points []*kilorank.ContestPoints) error {
	if len(points) == 0 {
		return nil
	}
	qb := psql.Insert("contest_points").
		Columns("contest_id", "user_id", "points", "rank", "problems_solved", "total_attempts", "last_submission_time", "problem_breakdown")
	for _, p := range points {
		breakdown := p.ProblemBreakdown
		if len(breakdown) == 0 {
			breakdown = json.RawMessage("[]")
		}
		qb = qb.Values(p.ContestID, p.UserID, p.Points, p.Rank, p.ProblemsSolved, p.TotalAttempts, p.LastSubmissionTime, string(breakdown))
	}
	query, args, err := qb.Suffix(`ON CONFLICT (contest_id, user_id) DO UPDATE SET
		points = EXCLUDED.points,
		rank = EXCLUDED.rank,
		problems_solved = EXCLUDED.problems_solved,
		total_attempts = EXCLUDED.total_attempts,
		last_submission_time = EXCLUDED.last_submission_time,
		problem_breakdown = EXCLUDED.problem_breakdown`).ToSql()
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, query, args...)
	return err
}

// ContestPoints returns the finalized results of a contest, ordered by rank.
func (s *DB) ContestPoints(ctx context.Context, contestID int) ([]*kilorank.ContestPoints, error) {
	var points []*dbContestPoints
	err := Select(s.conn, ctx, &points, "SELECT * FROM contest_points WHERE contest_id = $1 ORDER BY rank, user_id", contestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return []*kilorank.ContestPoints{}, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper(points, internalToContestPoints), nil
}

func internalToContestPoints(p *dbContestPoints) *kilorank.ContestPoints {
	return &kilorank.ContestPoints{
		ContestID: p.ContestID,
		UserID:    p.UserID,
		Points:    p.Points,
		Rank:      p.Rank,

		ProblemsSolved:     p.ProblemsSolved,
		TotalAttempts:      p.TotalAttempts,
		LastSubmissionTime: p.LastSubmissionTime,

		ProblemBreakdown: json.RawMessage(p.ProblemBreakdown),

		RatingBefore: p.RatingBefore,
		RatingAfter:  p.RatingAfter,
		RatingChange: p.RatingChange,
	}
}
