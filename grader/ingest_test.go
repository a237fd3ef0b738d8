package grader

import (
	"testing"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var rez [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			perm := make([]int, 0, n)
			perm = append(perm, p[:i]...)
			perm = append(perm, n-1)
			perm = append(perm, p[i:]...)
			rez = append(rez, perm)
		}
	}
	return rez
}

func TestCallbackReplayConverges(t *testing.T) {
	// queued, processing, wrong answer, accepted, time limit exceeded
	statuses := []int{1, 2, 4, 3, 5}
	for _, perm := range permutations(len(statuses)) {
		env := newTestEnv(t)
		// the second test case never finishes, so the submission stays open
		sub := env.startSubmission(t, 1, 1, nil, time.Now(), 2)

		lastTerminal := 0
		for _, i := range perm {
			cb := callback(sub.ID, 0, statuses[i])
			require.NoError(t, env.in.HandleCallback(t.Context(), cb))
			if cb.Status.Terminal() {
				lastTerminal = statuses[i]
			}
			// replaying the same callback changes nothing
			require.NoError(t, env.in.HandleCallback(t.Context(), cb))
		}

		tc := env.submission(t, sub.ID).TestCases[0]
		assert.Equal(t, lastTerminal, tc.StatusID, "order %v", perm)
		assert.Equal(t, kilorank.ProcessingDone, tc.ProcessingState)
		assert.Equal(t, callback(sub.ID, 0, lastTerminal).Stdout, tc.Stdout)
	}
}

func TestStaleCallbackIgnored(t *testing.T) {
	env := newTestEnv(t)
	sub := env.startSubmission(t, 1, 1, nil, time.Now(), 2)

	require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, 0, 2)))
	require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, 0, 1)))
	assert.Equal(t, kilorank.StatusCodeProcessing, env.submission(t, sub.ID).TestCases[0].StatusID)
	assert.Equal(t, kilorank.ProcessingRunning, env.submission(t, sub.ID).TestCases[0].ProcessingState)
}

func TestCallbackNotFound(t *testing.T) {
	env := newTestEnv(t)
	sub := env.startSubmission(t, 1, 1, nil, time.Now(), 1)

	err := env.in.HandleCallback(t.Context(), callback(sub.ID+100, 0, 3))
	assert.ErrorIs(t, err, kilorank.ErrNotFound)

	err = env.in.HandleCallback(t.Context(), &kilorank.Callback{SubmissionID: sub.ID, Token: "nope", Status: kilorank.ParseJudgeStatus(3, "")})
	assert.ErrorIs(t, err, kilorank.ErrNotFound)
	assert.Equal(t, 404, kilorank.ErrorCode(err))
}

func TestSubmissionCompletion(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		order    []int
		want     kilorank.Status
	}{
		{"all accepted", []int{3, 3, 3}, []int{2, 0, 1}, kilorank.StatusAccepted},
		{"last test fails", []int{3, 3, 4}, []int{2, 1, 0}, kilorank.StatusRejected},
		{"lowest failure wins", []int{3, 5, 4}, []int{0, 2, 1}, kilorank.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			sub := env.startSubmission(t, 1, 1, nil, time.Now(), len(tt.statuses))

			for n, idx := range tt.order {
				require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, idx, tt.statuses[idx])))
				got := env.submission(t, sub.ID)
				if n < len(tt.order)-1 {
					assert.Equal(t, kilorank.StatusProcessing, got.Status, "finalized before all results arrived")
				} else {
					assert.Equal(t, tt.want, got.Status)
					assert.InDelta(t, 0.03, got.MaxTime, 1e-9)
					assert.Equal(t, 3000, got.MaxMemory)
				}
			}
		})
	}
}

func TestLateResultDoesNotRescore(t *testing.T) {
	env := newTestEnv(t)
	sub := env.startSubmission(t, 1, 1, nil, time.Now(), 1)

	require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, 0, 4)))
	require.Equal(t, kilorank.StatusRejected, env.submission(t, sub.ID).Status)

	// a duplicated delivery with a different terminal result updates the test case only
	require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, 0, 3)))
	got := env.submission(t, sub.ID)
	assert.Equal(t, kilorank.StatusRejected, got.Status)
	assert.Equal(t, kilorank.StatusCodeAccepted, got.TestCases[0].StatusID)
}

func TestAttemptsCounted(t *testing.T) {
	env := newTestEnv(t)
	start := time.Now().Add(-10 * time.Minute)
	contestID := env.createContest(t, start, map[int]kilorank.Difficulty{1: kilorank.DifficultyEasy})

	// a rejected run still counts
	sub := env.startSubmission(t, 7, 1, &contestID, start, 2)
	require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, 0, 2)))
	require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, 0, 4)))
	require.NoError(t, env.in.HandleCallback(t.Context(), callback(sub.ID, 1, 3)))
	require.Equal(t, kilorank.StatusRejected, env.submission(t, sub.ID).Status)

	sub = env.startSubmission(t, 7, 1, &contestID, start.Add(time.Minute), 2)
	env.accept(t, sub)

	statuses, err := env.board.UserProblemStatuses(t.Context(), contestID, 7)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, 2, statuses[0].Attempts)
	assert.True(t, statuses[0].Solved)
	assert.Equal(t, sub.ID, statuses[0].SubmissionID)
}

func TestContestScoring(t *testing.T) {
	env := newTestEnv(t)
	start := time.Now().Add(-50 * time.Minute)
	contestID := env.createContest(t, start, map[int]kilorank.Difficulty{
		1: kilorank.DifficultyEasy,
		2: kilorank.DifficultyMedium,
	})

	const userA, userB = 1, 2
	env.accept(t, env.startSubmission(t, userA, 1, &contestID, start.Add(10*time.Minute), 2))
	env.accept(t, env.startSubmission(t, userB, 1, &contestID, start.Add(5*time.Minute), 2))
	env.accept(t, env.startSubmission(t, userA, 2, &contestID, start.Add(40*time.Minute), 3))
	// a later, cheaper solve of the same problem does not replace the best one
	late := env.startSubmission(t, userB, 1, &contestID, start.Add(45*time.Minute), 1)
	env.accept(t, late)

	board, err := env.board.Leaderboard(t.Context(), contestID, -1)
	require.NoError(t, err)
	assert.Equal(t, []kilorank.LeaderboardEntry{
		{UserID: userA, Points: 225, Rank: 1},
		{UserID: userB, Points: 96, Rank: 2},
	}, board)

	subs, err := env.db.ContestSubmissions(t.Context(), contestID)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	for _, cs := range subs {
		assert.NotEqual(t, late.ID, cs.SubmissionID)
	}
}

func TestNonContestSubmission(t *testing.T) {
	env := newTestEnv(t)
	sub := env.startSubmission(t, 1, 1, nil, time.Now(), 2)
	env.accept(t, sub)
	assert.Equal(t, kilorank.StatusAccepted, env.submission(t, sub.ID).Status)
	assert.Nil(t, env.submission(t, sub.ID).ContestID)
}
