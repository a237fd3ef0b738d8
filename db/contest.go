package db

import (
	"context"
	"errors"
	"time"

	"github.com/KiloProjects/kilorank"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

type dbContest struct {
	ID        int       `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Name      string    `db:"name"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`

	Finalized         bool       `db:"finalized"`
	FinalizedAt       *time.Time `db:"finalized_at"`
	TotalParticipants int        `db:"total_participants"`
	FinalizationError *string    `db:"finalization_error"`
}

// Contest returns nil if there is no such contest.
func (s *DB) Contest(ctx context.Context, id int) (*kilorank.Contest, error) {
	var contest dbContest
	err := Get(s.conn, ctx, &contest, "SELECT * FROM contests WHERE id = $1 LIMIT 1", id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return internalToContest(&contest), nil
}

// UnfinalizedContests returns contests that ended in [from, to) and were not finalized yet.
func (s *DB) UnfinalizedContests(ctx context.Context, from, to time.Time) ([]*kilorank.Contest, error) {
	query, args, err := psql.Select("*").From("contests").
		Where(sq.Eq{"finalized": false}).
		Where(sq.GtOrEq{"end_time": from}).
		Where(sq.Lt{"end_time": to}).
		OrderBy("end_time ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var contests []*dbContest
	err = Select(s.conn, ctx, &contests, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return []*kilorank.Contest{}, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper(contests, internalToContest), nil
}

func (s *DB) SetFinalizationError(ctx context.Context, contestID int, msg string) error {
	_, err := s.conn.Exec(ctx, "UPDATE contests SET finalization_error = $2 WHERE id = $1", contestID, msg)
	return err
}

// CompleteFinalization marks the contest as finalized and stores the rating results, atomically.
// It returns kilorank.ErrAlreadyFinalized if another run got there first, in which case nothing is written.
func (s *DB) CompleteFinalization(ctx context.Context, contestID int, finalizedAt time.Time, participants int, results map[int]*kilorank.RatingResult) error {
	return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE contests
			SET finalized = true, finalized_at = $2, total_participants = $3, finalization_error = NULL
			WHERE id = $1 AND NOT finalized`, contestID, finalizedAt, participants)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return kilorank.ErrAlreadyFinalized
		}

		if len(results) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for userID, res := range results {
			batch.Queue(`UPDATE contest_points SET rating_before = $3, rating_after = $4, rating_change = $5
				WHERE contest_id = $1 AND user_id = $2`, contestID, userID, res.OldRating, res.NewRating, res.Delta)
			batch.Queue(`INSERT INTO user_ratings (user_id, rating, contest_count) VALUES ($1, $2, 1)
				ON CONFLICT (user_id) DO UPDATE SET
					rating = EXCLUDED.rating,
					contest_count = user_ratings.contest_count + 1,
					updated_at = NOW()`, userID, res.NewRating)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

type dbContestProblem struct {
	ContestID  int    `db:"contest_id"`
	ProblemID  int    `db:"problem_id"`
	Difficulty string `db:"difficulty"`
	MaxPoints  int    `db:"max_points"`
}

// ContestProblem returns nil if the problem is not part of the contest.
func (s *DB) ContestProblem(ctx context.Context, contestID, problemID int) (*kilorank.ContestProblem, error) {
	var pb dbContestProblem
	err := Get(s.conn, ctx, &pb, "SELECT * FROM contest_problems WHERE contest_id = $1 AND problem_id = $2", contestID, problemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &kilorank.ContestProblem{
		ContestID:  pb.ContestID,
		ProblemID:  pb.ProblemID,
		Difficulty: kilorank.Difficulty(pb.Difficulty),
		MaxPoints:  pb.MaxPoints,
	}, nil
}

func internalToContest(c *dbContest) *kilorank.Contest {
	return &kilorank.Contest{
		ID:        c.ID,
		Name:      c.Name,
		StartTime: c.StartTime,
		EndTime:   c.EndTime,

		Finalized:         c.Finalized,
		FinalizedAt:       c.FinalizedAt,
		TotalParticipants: c.TotalParticipants,
		FinalizationError: c.FinalizationError,
	}
}
