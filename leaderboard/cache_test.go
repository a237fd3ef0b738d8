package leaderboard

import (
	"context"
	"sync"
	"testing"

	"github.com/KiloProjects/kilorank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu           sync.Mutex
	leaderboards map[int][]kilorank.LeaderboardEntry
	rankings     []*kilorank.UserRanking
}

func (p *recordingPublisher) PublishLeaderboard(_ context.Context, contestID int, entries []kilorank.LeaderboardEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leaderboards == nil {
		p.leaderboards = make(map[int][]kilorank.LeaderboardEntry)
	}
	p.leaderboards[contestID] = entries
	return nil
}

func (p *recordingPublisher) PublishRanking(_ context.Context, ranking *kilorank.UserRanking) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rankings = append(p.rankings, ranking)
	return nil
}

func TestUpdateUserScore(t *testing.T) {
	pub := &recordingPublisher{}
	c := New(NewMemoryStore(), pub, nil)
	ctx := t.Context()

	rank, err := c.UpdateUserScore(ctx, 1, 10, 100, 90, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	rank, err = c.UpdateUserScore(ctx, 1, 11, 100, 95, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	rank, err = c.UpdateUserScore(ctx, 1, 10, 200, 150, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	ranking, err := c.UserRanking(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 240, ranking.Points)
	assert.Equal(t, 2, ranking.Total)
	require.Len(t, ranking.Problems, 2)
	assert.Equal(t, 100, ranking.Problems[0].ProblemID)
	assert.Equal(t, 200, ranking.Problems[1].ProblemID)
	assert.Equal(t, 3, ranking.Problems[1].SubmissionID)

	assert.Equal(t, []kilorank.LeaderboardEntry{
		{UserID: 10, Points: 240, Rank: 1},
		{UserID: 11, Points: 95, Rank: 2},
	}, pub.leaderboards[1])
	assert.Len(t, pub.rankings, 3)
}

func TestUpdateUserScoreMonotonic(t *testing.T) {
	pub := &recordingPublisher{}
	c := New(NewMemoryStore(), pub, nil)
	ctx := t.Context()

	_, err := c.UpdateUserScore(ctx, 1, 10, 100, 90, 1)
	require.NoError(t, err)

	for _, pts := range []int{90, 50, 0, 89} {
		_, err := c.UpdateUserScore(ctx, 1, 10, 100, pts, 2)
		require.NoError(t, err)
		ranking, err := c.UserRanking(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 90, ranking.Points)
		assert.Equal(t, 1, ranking.Problems[0].SubmissionID)
	}
	// only the first update changed anything
	assert.Len(t, pub.rankings, 1)

	_, err = c.UpdateUserScore(ctx, 1, 10, 100, 95, 3)
	require.NoError(t, err)
	ranking, err := c.UserRanking(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 95, ranking.Points)
}

func TestConcurrentUpdatesSameUser(t *testing.T) {
	c := New(NewMemoryStore(), nil, nil)
	ctx := t.Context()

	var wg sync.WaitGroup
	for pb := 1; pb <= 20; pb++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.UpdateUserScore(ctx, 1, 10, pb, 10, pb)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ranking, err := c.UserRanking(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 200, ranking.Points)
	assert.Len(t, ranking.Problems, 20)
}

func TestRecordAttempt(t *testing.T) {
	c := New(NewMemoryStore(), nil, nil)
	ctx := t.Context()

	cnt, err := c.RecordAttempt(ctx, 1, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, cnt)
	cnt, err = c.RecordAttempt(ctx, 1, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, cnt)

	ranking, err := c.UserRanking(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, ranking.Points)
	assert.Equal(t, 1, ranking.Rank)
	require.Len(t, ranking.Problems, 1)
	assert.Equal(t, 2, ranking.Problems[0].Attempts)
	assert.False(t, ranking.Problems[0].Solved)

	_, err = c.UpdateUserScore(ctx, 1, 10, 100, 80, 5)
	require.NoError(t, err)
	statuses, err := c.UserProblemStatuses(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, statuses[0].Attempts)
	assert.True(t, statuses[0].Solved)
}

func TestUserRankingNotFound(t *testing.T) {
	c := New(NewMemoryStore(), nil, nil)
	_, err := c.UserRanking(t.Context(), 1, 10)
	assert.ErrorIs(t, err, kilorank.ErrNotFound)
}

type staticSource struct {
	subs     []*kilorank.ContestSubmission
	attempts []*kilorank.ProblemAttempts
}

func (s *staticSource) ContestSubmissions(context.Context, int) ([]*kilorank.ContestSubmission, error) {
	return s.subs, nil
}

func (s *staticSource) ContestAttempts(context.Context, int) ([]*kilorank.ProblemAttempts, error) {
	return s.attempts, nil
}

func TestRebuildMatchesLiveState(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()
	c := New(store, nil, nil)

	// 3 users, 2 problems
	src := &staticSource{
		subs: []*kilorank.ContestSubmission{
			{ContestID: 1, UserID: 1, ProblemID: 1, SubmissionID: 11, Points: 92},
			{ContestID: 1, UserID: 2, ProblemID: 1, SubmissionID: 12, Points: 96},
			{ContestID: 1, UserID: 1, ProblemID: 2, SubmissionID: 13, Points: 133},
			{ContestID: 1, UserID: 3, ProblemID: 2, SubmissionID: 14, Points: 160},
		},
		attempts: []*kilorank.ProblemAttempts{
			{UserID: 1, ProblemID: 1, Attempts: 2},
			{UserID: 1, ProblemID: 2, Attempts: 1},
			{UserID: 2, ProblemID: 1, Attempts: 1},
			{UserID: 2, ProblemID: 2, Attempts: 3},
			{UserID: 3, ProblemID: 2, Attempts: 1},
		},
	}
	for _, att := range src.attempts {
		for range att.Attempts {
			_, err := c.RecordAttempt(ctx, 1, att.UserID, att.ProblemID)
			require.NoError(t, err)
		}
	}
	for _, sub := range src.subs {
		_, err := c.UpdateUserScore(ctx, 1, sub.UserID, sub.ProblemID, sub.Points, sub.SubmissionID)
		require.NoError(t, err)
	}

	before := snapshot(t, c, 1)
	assert.Equal(t, []kilorank.LeaderboardEntry{
		{UserID: 1, Points: 225, Rank: 1},
		{UserID: 3, Points: 160, Rank: 2},
		{UserID: 2, Points: 96, Rank: 3},
	}, before.entries)

	// simulate cache loss
	require.NoError(t, store.Clear(ctx, 1))
	empty, err := c.Leaderboard(ctx, 1, -1)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, c.Rebuild(ctx, src, 1))
	assert.Equal(t, before, snapshot(t, c, 1))

	// rebuilding twice is the same as rebuilding once
	require.NoError(t, c.Rebuild(ctx, src, 1))
	assert.Equal(t, before, snapshot(t, c, 1))
}

type cacheSnapshot struct {
	entries  []kilorank.LeaderboardEntry
	statuses map[int][]*kilorank.ProblemSubmissionStatus
}

func snapshot(t *testing.T, c *Cache, contestID int) cacheSnapshot {
	t.Helper()
	entries, err := c.Leaderboard(t.Context(), contestID, -1)
	require.NoError(t, err)
	snap := cacheSnapshot{entries: entries, statuses: make(map[int][]*kilorank.ProblemSubmissionStatus)}
	for _, e := range entries {
		st, err := c.UserProblemStatuses(t.Context(), contestID, e.UserID)
		require.NoError(t, err)
		snap.statuses[e.UserID] = st
	}
	return snap
}
