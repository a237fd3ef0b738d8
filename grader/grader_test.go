package grader

import (
	"fmt"
	"testing"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/internal/memdb"
	"github.com/KiloProjects/kilorank/leaderboard"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	db    *memdb.DB
	board *leaderboard.Cache
	proc  *Processor
	in    *Ingester
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := memdb.New()
	board := leaderboard.New(leaderboard.NewMemoryStore(), nil, nil)
	proc, err := NewProcessor(db, board, nil)
	require.NoError(t, err)
	return &testEnv{db: db, board: board, proc: proc, in: NewIngester(db, proc, board, nil)}
}

// createContest creates a contest that started at start and lasts one hour.
func (e *testEnv) createContest(t *testing.T, start time.Time, problems map[int]kilorank.Difficulty) int {
	t.Helper()
	id, err := e.db.CreateContest(t.Context(), &kilorank.Contest{Name: "Round", StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)
	for pbID, diff := range problems {
		require.NoError(t, e.db.AddContestProblem(t.Context(), &kilorank.ContestProblem{ContestID: id, ProblemID: pbID, Difficulty: diff}))
	}
	return id
}

// startSubmission creates a submission already sent to the judge, with tests test cases named "<sub>-<idx>".
func (e *testEnv) startSubmission(t *testing.T, userID, problemID int, contestID *int, createdAt time.Time, tests int) *kilorank.Submission {
	t.Helper()
	id, err := e.db.CreateSubmission(t.Context(), &kilorank.Submission{
		UserID:    userID,
		ProblemID: problemID,
		ContestID: contestID,
		Code:      "print(input())",
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	tcs := make([]*kilorank.TestCase, 0, tests)
	for i := range tests {
		tcs = append(tcs, &kilorank.TestCase{Index: i, Token: token(id, i)})
	}
	require.NoError(t, e.db.StartSubmission(t.Context(), id, tcs))
	sub, err := e.db.Submission(t.Context(), id)
	require.NoError(t, err)
	return sub
}

func (e *testEnv) submission(t *testing.T, id int) *kilorank.Submission {
	t.Helper()
	sub, err := e.db.Submission(t.Context(), id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func token(subID, idx int) string {
	return fmt.Sprintf("%d-%d", subID, idx)
}

func callback(subID, idx, status int) *kilorank.Callback {
	return &kilorank.Callback{
		SubmissionID: subID,
		Token:        token(subID, idx),
		Status:       kilorank.ParseJudgeStatus(status, ""),
		Stdout:       fmt.Sprintf("status %d", status),
		Time:         0.01 * float64(idx+1),
		Memory:       1000 * (idx + 1),
	}
}

// accept feeds accepted results for every test case of the submission.
func (e *testEnv) accept(t *testing.T, sub *kilorank.Submission) {
	t.Helper()
	for i := range sub.TestCases {
		require.NoError(t, e.in.HandleCallback(t.Context(), callback(sub.ID, i, kilorank.StatusCodeAccepted)))
	}
}
