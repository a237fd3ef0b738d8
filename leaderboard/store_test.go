package leaderboard

import (
	"testing"

	"github.com/KiloProjects/kilorank"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) RankedStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRankedStores(t *testing.T) {
	stores := map[string]func(t *testing.T) RankedStore{
		"memory": func(*testing.T) RankedStore { return NewMemoryStore() },
		"redis":  newRedisStore,
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("ranking", func(t *testing.T) {
				s := newStore(t)
				ctx := t.Context()

				require.NoError(t, s.SetScore(ctx, 1, 10, 100))
				require.NoError(t, s.SetScore(ctx, 1, 11, 300))
				require.NoError(t, s.SetScore(ctx, 1, 12, 200))
				require.NoError(t, s.SetScore(ctx, 2, 10, 5))

				top, err := s.Top(ctx, 1, 0)
				require.NoError(t, err)
				assert.Equal(t, []kilorank.LeaderboardEntry{
					{UserID: 11, Points: 300, Rank: 1},
					{UserID: 12, Points: 200, Rank: 2},
					{UserID: 10, Points: 100, Rank: 3},
				}, top)

				top, err = s.Top(ctx, 1, 2)
				require.NoError(t, err)
				assert.Len(t, top, 2)

				rank, ok, err := s.Rank(ctx, 1, 10)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, 3, rank)

				require.NoError(t, s.SetScore(ctx, 1, 10, 400))
				rank, _, err = s.Rank(ctx, 1, 10)
				require.NoError(t, err)
				assert.Equal(t, 1, rank)

				_, ok, err = s.Rank(ctx, 1, 99)
				require.NoError(t, err)
				assert.False(t, ok)

				points, ok, err := s.Score(ctx, 1, 12)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, 200, points)

				cnt, err := s.Count(ctx, 1)
				require.NoError(t, err)
				assert.Equal(t, 3, cnt)
				cnt, err = s.Count(ctx, 2)
				require.NoError(t, err)
				assert.Equal(t, 1, cnt)
			})

			t.Run("problem statuses", func(t *testing.T) {
				s := newStore(t)
				ctx := t.Context()

				require.NoError(t, s.SetProblemStatus(ctx, 1, 10, &kilorank.ProblemSubmissionStatus{ProblemID: 5, Points: 90, SubmissionID: 7, Solved: true, Attempts: 42}))
				for range 3 {
					_, err := s.IncrAttempts(ctx, 1, 10, 5)
					require.NoError(t, err)
				}
				cnt, err := s.IncrAttempts(ctx, 1, 10, 6)
				require.NoError(t, err)
				assert.Equal(t, 1, cnt)

				statuses, err := s.ProblemStatuses(ctx, 1, 10)
				require.NoError(t, err)
				require.Len(t, statuses, 2)
				assert.Equal(t, &kilorank.ProblemSubmissionStatus{ProblemID: 5, Points: 90, SubmissionID: 7, Solved: true, Attempts: 3}, statuses[5])
				assert.Equal(t, &kilorank.ProblemSubmissionStatus{ProblemID: 6, Attempts: 1}, statuses[6])

				require.NoError(t, s.SetAttempts(ctx, 1, 10, 6, 4))
				statuses, err = s.ProblemStatuses(ctx, 1, 10)
				require.NoError(t, err)
				assert.Equal(t, 4, statuses[6].Attempts)
			})

			t.Run("clear", func(t *testing.T) {
				s := newStore(t)
				ctx := t.Context()

				require.NoError(t, s.SetScore(ctx, 1, 10, 100))
				require.NoError(t, s.SetProblemStatus(ctx, 1, 10, &kilorank.ProblemSubmissionStatus{ProblemID: 5, Points: 100, Solved: true}))
				_, err := s.IncrAttempts(ctx, 1, 10, 5)
				require.NoError(t, err)
				require.NoError(t, s.SetScore(ctx, 2, 10, 50))

				require.NoError(t, s.Clear(ctx, 1))

				cnt, err := s.Count(ctx, 1)
				require.NoError(t, err)
				assert.Zero(t, cnt)
				statuses, err := s.ProblemStatuses(ctx, 1, 10)
				require.NoError(t, err)
				assert.Empty(t, statuses)

				cnt, err = s.Count(ctx, 2)
				require.NoError(t, err)
				assert.Equal(t, 1, cnt)
			})
		})
	}
}

func TestMemoryStoreTiesByInsertion(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	for _, uid := range []int{30, 10, 20} {
		require.NoError(t, s.SetScore(ctx, 1, uid, 100))
	}
	// updating a score keeps the original insertion position among equals
	require.NoError(t, s.SetScore(ctx, 1, 30, 100))

	top, err := s.Top(ctx, 1, -1)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, 30, top[0].UserID)
	assert.Equal(t, 10, top[1].UserID)
	assert.Equal(t, 20, top[2].UserID)

	for i, e := range top {
		rank, ok, err := s.Rank(ctx, 1, e.UserID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i+1, rank)
	}
}
