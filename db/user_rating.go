package db

import (
	"context"
	"errors"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/jackc/pgx/v5"
)

type dbUserRating struct {
	UserID       int       `db:"user_id"`
	Rating       int       `db:"rating"`
	ContestCount int       `db:"contest_count"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// UserRatings returns the stored ratings of the given users. Users without a row are absent from the map.
func (s *DB) UserRatings(ctx context.Context, userIDs []int) (map[int]*kilorank.UserRating, error) {
	rez := make(map[int]*kilorank.UserRating, len(userIDs))
	if len(userIDs) == 0 {
		return rez, nil
	}
	var ratings []*dbUserRating
	err := Select(s.conn, ctx, &ratings, "SELECT * FROM user_ratings WHERE user_id = ANY($1)", userIDs)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	for _, r := range ratings {
		rez[r.UserID] = &kilorank.UserRating{
			UserID:       r.UserID,
			Rating:       r.Rating,
			ContestCount: r.ContestCount,
		}
	}
	return rez, nil
}
