package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KiloProjects/kilorank"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

type dbSubmission struct {
	ID         int       `db:"id"`
	CreatedAt  time.Time `db:"created_at"`
	UserID     int       `db:"user_id"`
	ProblemID  int       `db:"problem_id"`
	ContestID  *int      `db:"contest_id"`
	LanguageID int       `db:"language_id"`
	Code       string    `db:"code"`
	Status     string    `db:"status"`

	MaxTime   float64 `db:"max_time"`
	MaxMemory int     `db:"max_memory"`

	ProcessingAttempts int  `db:"processing_attempts"`
	AttemptRecorded    bool `db:"attempt_recorded"`
}

type dbTestCase struct {
	ID           int    `db:"id"`
	SubmissionID int    `db:"submission_id"`
	Index        int    `db:"idx"`
	Token        string `db:"token"`
	StatusID     int    `db:"status_id"`

	Stdout        string `db:"stdout"`
	Stderr        string `db:"stderr"`
	CompileOutput string `db:"compile_output"`

	ExecutionTime float64 `db:"execution_time"`
	MemoryUsed    int     `db:"memory_used"`

	ProcessingState string    `db:"processing_state"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Submission returns the submission with its test cases, ordered by index.
// It returns nil if there is no such submission.
func (s *DB) Submission(ctx context.Context, id int) (*kilorank.Submission, error) {
	var sub dbSubmission
	err := Get(s.conn, ctx, &sub, "SELECT * FROM submissions WHERE id = $1 LIMIT 1", id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	subs, err := s.withTestCases(ctx, []*kilorank.Submission{internalToSubmission(&sub)})
	if err != nil {
		return nil, err
	}
	return subs[0], nil
}

func (s *DB) Submissions(ctx context.Context, filter kilorank.SubmissionFilter) ([]*kilorank.Submission, error) {
	var subs []*dbSubmission
	fb := newFilterBuilder()
	subFilterQuery(&filter, fb)

	ordering := "ORDER BY id DESC"
	if filter.Ascending {
		ordering = "ORDER BY id ASC"
	}

	query := fmt.Sprintf("SELECT * FROM submissions WHERE %s %s %s", fb.Where(), ordering, FormatLimitOffset(filter.Limit, 0))
	err := Select(s.conn, ctx, &subs, query, fb.Args()...)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) {
		return []*kilorank.Submission{}, nil
	} else if err != nil {
		slog.WarnContext(ctx, "Couldn't get submissions", slog.Any("err", err))
		return []*kilorank.Submission{}, err
	}
	return s.withTestCases(ctx, mapper(subs, internalToSubmission))
}

// StalledSubmissions returns processing submissions created before the cutoff, oldest first.
func (s *DB) StalledSubmissions(ctx context.Context, before time.Time, limit int) ([]*kilorank.Submission, error) {
	query, args, err := psql.Select("*").From("submissions").
		Where(sq.Eq{"status": string(kilorank.StatusProcessing)}).
		Where(sq.Lt{"created_at": before}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	var subs []*dbSubmission
	if err := Select(s.conn, ctx, &subs, query, args...); err != nil {
		return nil, err
	}
	return s.withTestCases(ctx, mapper(subs, internalToSubmission))
}

func (s *DB) withTestCases(ctx context.Context, subs []*kilorank.Submission) ([]*kilorank.Submission, error) {
	if len(subs) == 0 {
		return subs, nil
	}
	ids := make([]int, 0, len(subs))
	byID := make(map[int]*kilorank.Submission, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
		byID[sub.ID] = sub
		sub.TestCases = []*kilorank.TestCase{}
	}

	var tcs []*dbTestCase
	err := Select(s.conn, ctx, &tcs, "SELECT * FROM test_cases WHERE submission_id = ANY($1) ORDER BY submission_id, idx", ids)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	for _, tc := range tcs {
		sub := byID[tc.SubmissionID]
		sub.TestCases = append(sub.TestCases, internalToTestCase(tc))
	}
	return subs, nil
}

// StartSubmission stores the judge tokens of a pending submission and marks it as processing.
func (s *DB) StartSubmission(ctx context.Context, id int, tcs []*kilorank.TestCase) error {
	return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE submissions SET status = 'PROCESSING' WHERE id = $1 AND status = 'PENDING'", id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return kilorank.Statusf(409, "Submission %d is not pending", id)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"test_cases"},
			[]string{"submission_id", "idx", "token", "status_id", "processing_state"},
			pgx.CopyFromSlice(len(tcs), func(i int) ([]any, error) {
				return []any{id, tcs[i].Index, tcs[i].Token, kilorank.StatusCodeQueued, string(kilorank.ProcessingQueued)}, nil
			}),
		)
		return err
	})
}

// UpdateTestCase applies a judge result to the test case identified by (submission, token).
// Stale results that would move a test case backwards are not written; the bool reports whether a row changed.
func (s *DB) UpdateTestCase(ctx context.Context, subID int, token string, upd kilorank.TestCaseUpdate) (bool, error) {
	tag, err := s.conn.Exec(ctx, `UPDATE test_cases SET
		status_id = $3, stdout = $4, stderr = $5, compile_output = $6,
		execution_time = $7, memory_used = $8, processing_state = $9, updated_at = NOW()
	WHERE submission_id = $1 AND token = $2
		AND ($3 NOT IN (1, 2) OR (status_id IN (1, 2) AND $3 >= status_id))`,
		subID, token, upd.StatusID, upd.Stdout, upd.Stderr, upd.CompileOutput,
		upd.ExecutionTime, upd.MemoryUsed, string(upd.ProcessingState),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FinishSubmission writes the update only if the submission does not yet have a final verdict.
// The bool reports whether this call was the one that wrote it.
func (s *DB) FinishSubmission(ctx context.Context, id int, upd kilorank.SubmissionUpdate) (bool, error) {
	ub := newUpdateBuilder()
	subUpdateQuery(&upd, ub)
	if err := ub.CheckUpdates(); err != nil {
		return false, err
	}
	fb := ub.MakeFilter()
	fb.AddConstraint("id = %s", id)
	fb.AddConstraint("status IN ('PENDING', 'PROCESSING')")
	tag, err := s.conn.Exec(ctx, "UPDATE submissions SET "+fb.WithUpdate(), fb.Args()...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *DB) IncrementProcessingAttempts(ctx context.Context, id int) (int, error) {
	var attempts int
	err := s.conn.QueryRow(ctx, "UPDATE submissions SET processing_attempts = processing_attempts + 1 WHERE id = $1 RETURNING processing_attempts", id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, kilorank.ErrNotFound
	}
	return attempts, err
}

// MarkAttemptRecorded flags the submission as counted. Only the first call for a submission returns true.
func (s *DB) MarkAttemptRecorded(ctx context.Context, id int) (bool, error) {
	tag, err := s.conn.Exec(ctx, "UPDATE submissions SET attempt_recorded = true WHERE id = $1 AND NOT attempt_recorded", id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type dbProblemTest struct {
	ProblemID      int    `db:"problem_id"`
	Index          int    `db:"idx"`
	Stdin          string `db:"stdin"`
	ExpectedOutput string `db:"expected_output"`
}

func (s *DB) ProblemTests(ctx context.Context, problemID int) ([]*kilorank.ProblemTest, error) {
	var tests []*dbProblemTest
	err := Select(s.conn, ctx, &tests, "SELECT * FROM problem_tests WHERE problem_id = $1 ORDER BY idx", problemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return []*kilorank.ProblemTest{}, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper(tests, func(t *dbProblemTest) *kilorank.ProblemTest {
		pt := kilorank.ProblemTest(*t)
		return &pt
	}), nil
}

func subFilterQuery(filter *kilorank.SubmissionFilter, fb *filterBuilder) {
	if len(filter.IDs) > 0 {
		fb.AddConstraint("id = ANY(%s)", filter.IDs)
	}
	if len(filter.ExcludeIDs) > 0 {
		fb.AddConstraint("id <> ALL(%s)", filter.ExcludeIDs)
	}
	if filter.Status != kilorank.StatusNone {
		fb.AddConstraint("status = %s", string(filter.Status))
	}
	if filter.ContestID != nil {
		fb.AddConstraint("contest_id = %s", *filter.ContestID)
	}
	if filter.CreatedBefore != nil {
		fb.AddConstraint("created_at < %s", *filter.CreatedBefore)
	}
}

func subUpdateQuery(upd *kilorank.SubmissionUpdate, ub *updateBuilder) {
	if upd.Status != kilorank.StatusNone {
		ub.AddUpdate("status = %s", string(upd.Status))
	}
	if upd.MaxTime != nil {
		ub.AddUpdate("max_time = %s", *upd.MaxTime)
	}
	if upd.MaxMemory != nil {
		ub.AddUpdate("max_memory = %s", *upd.MaxMemory)
	}
}

func internalToSubmission(sub *dbSubmission) *kilorank.Submission {
	if sub == nil {
		return nil
	}
	return &kilorank.Submission{
		ID:         sub.ID,
		CreatedAt:  sub.CreatedAt,
		UserID:     sub.UserID,
		ProblemID:  sub.ProblemID,
		ContestID:  sub.ContestID,
		LanguageID: sub.LanguageID,
		Code:       sub.Code,
		Status:     kilorank.Status(sub.Status),

		MaxTime:   sub.MaxTime,
		MaxMemory: sub.MaxMemory,

		ProcessingAttempts: sub.ProcessingAttempts,
		AttemptRecorded:    sub.AttemptRecorded,
	}
}

func internalToTestCase(tc *dbTestCase) *kilorank.TestCase {
	return &kilorank.TestCase{
		ID:           tc.ID,
		SubmissionID: tc.SubmissionID,
		Index:        tc.Index,
		Token:        tc.Token,
		StatusID:     tc.StatusID,

		Stdout:        tc.Stdout,
		Stderr:        tc.Stderr,
		CompileOutput: tc.CompileOutput,

		ExecutionTime: tc.ExecutionTime,
		MemoryUsed:    tc.MemoryUsed,

		ProcessingState: kilorank.ProcessingState(tc.ProcessingState),
		UpdatedAt:       tc.UpdatedAt,
	}
}
