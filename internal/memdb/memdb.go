// Package memdb is an in-process implementation of the storage used by kilorank.
// It backs the tests and the --memory mode of the server; nothing is persisted.
package memdb

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/KiloProjects/kilorank"
)

type contestUserProblem struct {
	contestID, userID, problemID int
}

type contestUser struct {
	contestID, userID int
}

type DB struct {
	mu sync.RWMutex

	lastSubID     int
	lastContestID int
	lastTestID    int

	submissions     map[int]*kilorank.Submission
	contests        map[int]*kilorank.Contest
	contestProblems map[[2]int]*kilorank.ContestProblem
	problemTests    map[int][]*kilorank.ProblemTest

	contestSubmissions map[contestUserProblem]*kilorank.ContestSubmission
	contestPoints      map[contestUser]*kilorank.ContestPoints
	userRatings        map[int]*kilorank.UserRating
}

func New() *DB {
	return &DB{
		submissions:     make(map[int]*kilorank.Submission),
		contests:        make(map[int]*kilorank.Contest),
		contestProblems: make(map[[2]int]*kilorank.ContestProblem),
		problemTests:    make(map[int][]*kilorank.ProblemTest),

		contestSubmissions: make(map[contestUserProblem]*kilorank.ContestSubmission),
		contestPoints:      make(map[contestUser]*kilorank.ContestPoints),
		userRatings:        make(map[int]*kilorank.UserRating),
	}
}

func (d *DB) Ping(context.Context) error { return nil }
func (d *DB) Close() error { return nil }

// CreateSubmission stores a copy of sub as PENDING and returns its id.
func (d *DB) CreateSubmission(_ context.Context, sub *kilorank.Submission) (int, error) {
	if sub == nil || sub.UserID <= 0 || sub.ProblemID <= 0 {
		return -1, kilorank.ErrMissingRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSubID++
	s := copySubmission(sub)
	s.ID = d.lastSubID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.Status = kilorank.StatusPending
	for _, tc := range s.TestCases {
		d.lastTestID++
		tc.ID = d.lastTestID
		tc.SubmissionID = s.ID
	}
	d.submissions[s.ID] = s
	return s.ID, nil
}

func (d *DB) CreateContest(_ context.Context, c *kilorank.Contest) (int, error) {
	if c == nil || !c.EndTime.After(c.StartTime) {
		return -1, kilorank.Statusf(400, "Invalid contest window")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastContestID++
	cc := *c
	cc.ID = d.lastContestID
	d.contests[cc.ID] = &cc
	return cc.ID, nil
}

func (d *DB) AddContestProblem(_ context.Context, pb *kilorank.ContestProblem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.contests[pb.ContestID]; !ok {
		return kilorank.ErrNotFound
	}
	p := *pb
	d.contestProblems[[2]int{pb.ContestID, pb.ProblemID}] = &p
	return nil
}

func (d *DB) SetProblemTests(_ context.Context, problemID int, tests []*kilorank.ProblemTest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]*kilorank.ProblemTest, 0, len(tests))
	for _, t := range tests {
		tt := *t
		tt.ProblemID = problemID
		cp = append(cp, &tt)
	}
	slices.SortFunc(cp, func(a, b *kilorank.ProblemTest) int { return cmp.Compare(a.Index, b.Index) })
	d.problemTests[problemID] = cp
	return nil
}

func (d *DB) SetUserRating(_ context.Context, r *kilorank.UserRating) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rr := *r
	d.userRatings[r.UserID] = &rr
	return nil
}

func (d *DB) Submission(_ context.Context, id int) (*kilorank.Submission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sub, ok := d.submissions[id]
	if !ok {
		return nil, nil
	}
	return copySubmission(sub), nil
}

func (d *DB) Submissions(_ context.Context, filter kilorank.SubmissionFilter) ([]*kilorank.Submission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := []*kilorank.Submission{}
	for _, sub := range d.submissions {
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, sub.ID) {
			continue
		}
		if slices.Contains(filter.ExcludeIDs, sub.ID) {
			continue
		}
		if filter.Status != kilorank.StatusNone && sub.Status != filter.Status {
			continue
		}
		if filter.ContestID != nil && (sub.ContestID == nil || *sub.ContestID != *filter.ContestID) {
			continue
		}
		if filter.CreatedBefore != nil && !sub.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		subs = append(subs, copySubmission(sub))
	}
	slices.SortFunc(subs, func(a, b *kilorank.Submission) int {
		if filter.Ascending {
			return cmp.Compare(a.ID, b.ID)
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(subs) > filter.Limit {
		subs = subs[:filter.Limit]
	}
	return subs, nil
}

func (d *DB) StalledSubmissions(_ context.Context, before time.Time, limit int) ([]*kilorank.Submission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := []*kilorank.Submission{}
	for _, sub := range d.submissions {
		if sub.Status == kilorank.StatusProcessing && sub.CreatedAt.Before(before) {
			subs = append(subs, copySubmission(sub))
		}
	}
	slices.SortFunc(subs, func(a, b *kilorank.Submission) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (d *DB) StartSubmission(_ context.Context, id int, tcs []*kilorank.TestCase) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.submissions[id]
	if !ok || sub.Status != kilorank.StatusPending {
		return kilorank.Statusf(409, "Submission %d is not pending", id)
	}
	now := time.Now()
	for _, tc := range tcs {
		d.lastTestID++
		sub.TestCases = append(sub.TestCases, &kilorank.TestCase{
			ID:              d.lastTestID,
			SubmissionID:    id,
			Index:           tc.Index,
			Token:           tc.Token,
			StatusID:        kilorank.StatusCodeQueued,
			ProcessingState: kilorank.ProcessingQueued,
			UpdatedAt:       now,
		})
	}
	slices.SortFunc(sub.TestCases, func(a, b *kilorank.TestCase) int { return cmp.Compare(a.Index, b.Index) })
	sub.Status = kilorank.StatusProcessing
	return nil
}

func (d *DB) UpdateTestCase(_ context.Context, subID int, token string, upd kilorank.TestCaseUpdate) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.submissions[subID]
	if !ok {
		return false, nil
	}
	for _, tc := range sub.TestCases {
		if tc.Token != token {
			continue
		}
		if !kilorank.ParseJudgeStatus(upd.StatusID, "").Supersedes(tc.Status()) {
			return false, nil
		}
		tc.StatusID = upd.StatusID
		tc.Stdout = upd.Stdout
		tc.Stderr = upd.Stderr
		tc.CompileOutput = upd.CompileOutput
		tc.ExecutionTime = upd.ExecutionTime
		tc.MemoryUsed = upd.MemoryUsed
		tc.ProcessingState = upd.ProcessingState
		tc.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (d *DB) FinishSubmission(_ context.Context, id int, upd kilorank.SubmissionUpdate) (bool, error) {
	if upd.Status == kilorank.StatusNone && upd.MaxTime == nil && upd.MaxMemory == nil {
		return false, kilorank.ErrNoUpdates
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.submissions[id]
	if !ok || sub.Status.Terminal() {
		return false, nil
	}
	if upd.Status != kilorank.StatusNone {
		sub.Status = upd.Status
	}
	if upd.MaxTime != nil {
		sub.MaxTime = *upd.MaxTime
	}
	if upd.MaxMemory != nil {
		sub.MaxMemory = *upd.MaxMemory
	}
	return true, nil
}

func (d *DB) IncrementProcessingAttempts(_ context.Context, id int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.submissions[id]
	if !ok {
		return -1, kilorank.ErrNotFound
	}
	sub.ProcessingAttempts++
	return sub.ProcessingAttempts, nil
}

func (d *DB) MarkAttemptRecorded(_ context.Context, id int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.submissions[id]
	if !ok {
		return false, kilorank.ErrNotFound
	}
	if sub.AttemptRecorded {
		return false, nil
	}
	sub.AttemptRecorded = true
	return true, nil
}

func (d *DB) ProblemTests(_ context.Context, problemID int) ([]*kilorank.ProblemTest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tests := make([]*kilorank.ProblemTest, 0, len(d.problemTests[problemID]))
	for _, t := range d.problemTests[problemID] {
		tt := *t
		tests = append(tests, &tt)
	}
	return tests, nil
}

func copySubmission(sub *kilorank.Submission) *kilorank.Submission {
	s := *sub
	if sub.ContestID != nil {
		id := *sub.ContestID
		s.ContestID = &id
	}
	s.TestCases = make([]*kilorank.TestCase, 0, len(sub.TestCases))
	for _, tc := range sub.TestCases {
		t := *tc
		s.TestCases = append(s.TestCases, &t)
	}
	return &s
}

func copyContestPoints(p *kilorank.ContestPoints) *kilorank.ContestPoints {
	pp := *p
	pp.ProblemBreakdown = slices.Clone(p.ProblemBreakdown)
	if len(pp.ProblemBreakdown) == 0 {
		pp.ProblemBreakdown = json.RawMessage("[]")
	}
	return &pp
}
