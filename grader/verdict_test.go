package grader

import (
	"testing"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcs(statuses ...int) []*kilorank.TestCase {
	rez := make([]*kilorank.TestCase, 0, len(statuses))
	for i, st := range statuses {
		rez = append(rez, &kilorank.TestCase{Index: i, StatusID: st, ExecutionTime: float64(i) / 10, MemoryUsed: 100 * i})
	}
	return rez
}

func TestVerdict(t *testing.T) {
	tests := []struct {
		name   string
		tcs    []*kilorank.TestCase
		status kilorank.Status
	}{
		{"no test cases", nil, kilorank.StatusNone},
		{"all accepted", tcs(3, 3, 3), kilorank.StatusAccepted},
		{"one failed", tcs(3, 4, 3), kilorank.StatusRejected},
		{"compile error", tcs(6), kilorank.StatusRejected},
		{"queued test case", tcs(3, 1, 3), kilorank.StatusNone},
		{"processing test case after a failure", tcs(5, 2), kilorank.StatusNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, _ := Verdict(tt.tcs)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestVerdictAggregates(t *testing.T) {
	cases := tcs(3, 3, 3, 3)
	// test cases don't have to be ordered
	cases[0], cases[3] = cases[3], cases[0]
	status, maxTime, maxMemory := Verdict(cases)
	assert.Equal(t, kilorank.StatusAccepted, status)
	assert.InDelta(t, 0.3, maxTime, 1e-9)
	assert.Equal(t, 300, maxMemory)
}

func TestFinalizeVerdictZeroTestCases(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.db.CreateSubmission(t.Context(), &kilorank.Submission{UserID: 1, ProblemID: 1})
	require.NoError(t, err)

	status, err := env.proc.FinalizeVerdict(t.Context(), env.submission(t, id))
	require.NoError(t, err)
	assert.Equal(t, kilorank.StatusNone, status)
	assert.Equal(t, kilorank.StatusPending, env.submission(t, id).Status)
}

func TestFinalizeVerdictOnce(t *testing.T) {
	env := newTestEnv(t)
	start := time.Now().Add(-30 * time.Minute)
	contestID := env.createContest(t, start, map[int]kilorank.Difficulty{1: kilorank.DifficultyEasy})
	sub := env.startSubmission(t, 10, 1, &contestID, start, 2)
	for _, tc := range sub.TestCases {
		tc.StatusID = kilorank.StatusCodeAccepted
	}

	for range 3 {
		status, err := env.proc.FinalizeVerdict(t.Context(), sub)
		require.NoError(t, err)
		assert.Equal(t, kilorank.StatusAccepted, status)
	}

	ranking, err := env.board.UserRanking(t.Context(), contestID, 10)
	require.NoError(t, err)
	assert.Equal(t, 100, ranking.Points)
}

func TestFinalizeVerdictWithoutContestProblem(t *testing.T) {
	env := newTestEnv(t)
	start := time.Now().Add(-30 * time.Minute)
	contestID := env.createContest(t, start, nil)
	sub := env.startSubmission(t, 10, 1, &contestID, start, 1)
	sub.TestCases[0].StatusID = kilorank.StatusCodeAccepted

	status, err := env.proc.FinalizeVerdict(t.Context(), sub)
	require.NoError(t, err)
	assert.Equal(t, kilorank.StatusAccepted, status)

	cnt, err := env.board.Count(t.Context(), contestID)
	require.NoError(t, err)
	assert.Zero(t, cnt)
}
