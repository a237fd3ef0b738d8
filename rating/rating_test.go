package rating

import (
	"maps"
	"testing"

	"github.com/KiloProjects/kilorank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFewerThanTwoParticipants(t *testing.T) {
	assert.Empty(t, ComputeRatingChanges(nil, nil, nil))
	assert.Empty(t, ComputeRatingChanges(map[int]int{1: 1700}, nil, []Participant{{UserID: 1, Rank: 1, Points: 300}}))
}

func TestTwoEqualPlayersRawDeltaSymmetric(t *testing.T) {
	ratings := []int{1500, 1500}
	winner := RawDelta(KFactor(0), ActualScore(1, 2), ExpectedScore(0, ratings))
	loser := RawDelta(KFactor(0), ActualScore(2, 2), ExpectedScore(1, ratings))
	assert.Equal(t, 20, winner)
	assert.Equal(t, -winner, loser)
}

func TestTwoEqualPlayersAdjusted(t *testing.T) {
	changes := ComputeRatingChanges(map[int]int{1: 1500, 2: 1500}, nil, []Participant{
		{UserID: 1, Rank: 1, Points: 300},
		{UserID: 2, Rank: 2, Points: 100},
	})
	require.Len(t, changes, 2)

	a, b := changes[1], changes[2]
	assert.Positive(t, a.Delta)
	assert.Negative(t, b.Delta)
	assert.LessOrEqual(t, a.Delta, MaxDelta)
	assert.GreaterOrEqual(t, b.Delta, -MaxDelta)
	// bonuses only apply to gains, so the sum is positive but small
	assert.InDelta(t, 0, a.Delta+b.Delta, 10)

	assert.Equal(t, 1500, a.OldRating)
	assert.Equal(t, a.OldRating+a.Delta, a.NewRating)
	assert.Equal(t, 1, a.Rank)
	assert.Equal(t, 2, b.Rank)
}

func TestDefaultRating(t *testing.T) {
	changes := ComputeRatingChanges(map[int]int{2: 1700}, nil, []Participant{
		{UserID: 1, Rank: 1},
		{UserID: 2, Rank: 2},
	})
	assert.Equal(t, kilorank.DefaultRating, changes[1].OldRating)
	assert.Equal(t, 1700, changes[2].OldRating)
}

func TestZeroRatingIsKept(t *testing.T) {
	changes := ComputeRatingChanges(map[int]int{1: 0, 2: 1500}, nil, []Participant{
		{UserID: 1, Rank: 2},
		{UserID: 2, Rank: 1, Points: 100},
	})
	require.Contains(t, changes, 1)
	assert.Equal(t, 0, changes[1].OldRating)
	assert.Equal(t, 0, changes[1].NewRating)
	assert.Equal(t, 0, changes[1].Delta)
}

func TestBounds(t *testing.T) {
	leaderboard := make([]Participant, 0, 200)
	ratings := make(map[int]int)
	for i := range 200 {
		leaderboard = append(leaderboard, Participant{UserID: i + 1, Rank: i + 1, Points: 200 - i})
		ratings[i+1] = 3000 - 10*i
	}
	// the weakest user wins
	leaderboard[0], leaderboard[199] = leaderboard[199], leaderboard[0]
	leaderboard[0].Rank, leaderboard[199].Rank = 1, 200
	leaderboard[0].Points, leaderboard[199].Points = 500, 0

	changes := ComputeRatingChanges(ratings, nil, leaderboard)
	require.Len(t, changes, 200)
	for _, ch := range changes {
		assert.LessOrEqual(t, ch.Delta, MaxDelta)
		assert.GreaterOrEqual(t, ch.Delta, -MaxDelta)
		assert.GreaterOrEqual(t, ch.NewRating, 0)
	}
	assert.Greater(t, changes[leaderboard[0].UserID].Delta, 100)
	assert.Negative(t, changes[leaderboard[199].UserID].Delta)
}

func TestRatingFloor(t *testing.T) {
	changes := ComputeRatingChanges(map[int]int{1: 1, 2: 1, 3: 5}, nil, []Participant{
		{UserID: 1, Rank: 1, Points: 100},
		{UserID: 2, Rank: 2, Points: 100},
		{UserID: 3, Rank: 3},
	})
	require.Contains(t, changes, 3)
	assert.Equal(t, 0, changes[3].NewRating)
	assert.Equal(t, -5, changes[3].Delta)
}

func TestDeterministic(t *testing.T) {
	ratings := map[int]int{1: 1400, 2: 1650, 3: 2200, 4: 900}
	counts := map[int]int{1: 3, 2: 12, 3: 40}
	leaderboard := []Participant{
		{UserID: 3, Rank: 1, Points: 600},
		{UserID: 1, Rank: 2, Points: 400},
		{UserID: 4, Rank: 3, Points: 100},
		{UserID: 2, Rank: 4, Points: 0},
	}
	first := ComputeRatingChanges(ratings, counts, leaderboard)
	for range 10 {
		again := ComputeRatingChanges(ratings, counts, leaderboard)
		require.True(t, maps.EqualFunc(first, again, func(a, b *kilorank.RatingResult) bool { return *a == *b }))
	}
	assert.Equal(t, 1400, ratings[1], "inputs must not be modified")
}

func TestFactors(t *testing.T) {
	t.Run("k factor", func(t *testing.T) {
		assert.Equal(t, 40.0, KFactor(0))
		assert.Equal(t, 40.0, KFactor(9))
		assert.Equal(t, 30.0, KFactor(10))
		assert.Equal(t, 30.0, KFactor(29))
		assert.Equal(t, 20.0, KFactor(30))
	})
	t.Run("size factor", func(t *testing.T) {
		assert.Equal(t, 0.5, SizeFactor(2))
		assert.InDelta(t, 1.0, SizeFactor(10), 1e-9)
		assert.Equal(t, 2.0, SizeFactor(1000))
	})
	t.Run("bracket factor", func(t *testing.T) {
		assert.Equal(t, 1.3, BracketFactor(1000))
		assert.Equal(t, 1.15, BracketFactor(1200))
		assert.Equal(t, 1.0, BracketFactor(1500))
		assert.Equal(t, 0.9, BracketFactor(1800))
		assert.Equal(t, 0.8, BracketFactor(2500))
	})
	t.Run("actual score", func(t *testing.T) {
		assert.Equal(t, 1.0, ActualScore(1, 1))
		assert.Equal(t, 1.0, ActualScore(1, 5))
		assert.Equal(t, 0.5, ActualScore(3, 5))
		assert.Equal(t, 0.0, ActualScore(5, 5))
	})
	t.Run("win probability", func(t *testing.T) {
		assert.InDelta(t, 0.5, WinProbability(1500, 1500), 1e-9)
		assert.InDelta(t, 1.0, WinProbability(1900, 1500)+WinProbability(1500, 1900), 1e-9)
		assert.Greater(t, WinProbability(1900, 1500), 0.9)
	})
}
