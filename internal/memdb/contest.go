package memdb

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/KiloProjects/kilorank"
)

func (d *DB) Contest(_ context.Context, id int) (*kilorank.Contest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contests[id]
	if !ok {
		return nil, nil
	}
	cc := *c
	return &cc, nil
}

func (d *DB) UnfinalizedContests(_ context.Context, from, to time.Time) ([]*kilorank.Contest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	contests := []*kilorank.Contest{}
	for _, c := range d.contests {
		if c.Finalized || c.EndTime.Before(from) || !c.EndTime.Before(to) {
			continue
		}
		cc := *c
		contests = append(contests, &cc)
	}
	slices.SortFunc(contests, func(a, b *kilorank.Contest) int {
		return cmp.Or(a.EndTime.Compare(b.EndTime), cmp.Compare(a.ID, b.ID))
	})
	return contests, nil
}

func (d *DB) SetFinalizationError(_ context.Context, contestID int, msg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.contests[contestID]
	if !ok {
		return kilorank.ErrNotFound
	}
	c.FinalizationError = &msg
	return nil
}

func (d *DB) CompleteFinalization(_ context.Context, contestID int, finalizedAt time.Time, participants int, results map[int]*kilorank.RatingResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.contests[contestID]
	if !ok {
		return kilorank.ErrNotFound
	}
	if c.Finalized {
		return kilorank.ErrAlreadyFinalized
	}
	c.Finalized = true
	c.FinalizedAt = &finalizedAt
	c.TotalParticipants = participants
	c.FinalizationError = nil

	for userID, res := range results {
		if p, ok := d.contestPoints[contestUser{contestID, userID}]; ok {
			before, after, delta := res.OldRating, res.NewRating, res.Delta
			p.RatingBefore, p.RatingAfter, p.RatingChange = &before, &after, &delta
		}
		r, ok := d.userRatings[userID]
		if !ok {
			r = &kilorank.UserRating{UserID: userID}
			d.userRatings[userID] = r
		}
		r.Rating = res.NewRating
		r.ContestCount++
	}
	return nil
}

func (d *DB) ContestProblem(_ context.Context, contestID, problemID int) (*kilorank.ContestProblem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pb, ok := d.contestProblems[[2]int{contestID, problemID}]
	if !ok {
		return nil, nil
	}
	p := *pb
	return &p, nil
}

func (d *DB) UpsertContestSubmission(_ context.Context, cs *kilorank.ContestSubmission) (*kilorank.ContestSubmission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := contestUserProblem{cs.ContestID, cs.UserID, cs.ProblemID}
	best, ok := d.contestSubmissions[key]
	if !ok || best.Points < cs.Points {
		c := *cs
		c.UpdatedAt = time.Now()
		d.contestSubmissions[key] = &c
		best = &c
	}
	b := *best
	return &b, nil
}

func (d *DB) ContestSubmissions(_ context.Context, contestID int) ([]*kilorank.ContestSubmission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := []*kilorank.ContestSubmission{}
	for key, cs := range d.contestSubmissions {
		if key.contestID != contestID {
			continue
		}
		c := *cs
		subs = append(subs, &c)
	}
	slices.SortFunc(subs, func(a, b *kilorank.ContestSubmission) int {
		return cmp.Or(a.UpdatedAt.Compare(b.UpdatedAt), cmp.Compare(a.UserID, b.UserID), cmp.Compare(a.ProblemID, b.ProblemID))
	})
	return subs, nil
}

func (d *DB) ContestAttempts(_ context.Context, contestID int) ([]*kilorank.ProblemAttempts, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	counts := make(map[[2]int]int)
	for _, sub := range d.submissions {
		if sub.ContestID == nil || *sub.ContestID != contestID {
			continue
		}
		if !slices.ContainsFunc(sub.TestCases, func(tc *kilorank.TestCase) bool { return tc.Status().Terminal() }) {
			continue
		}
		counts[[2]int{sub.UserID, sub.ProblemID}]++
	}
	attempts := make([]*kilorank.ProblemAttempts, 0, len(counts))
	for key, cnt := range counts {
		attempts = append(attempts, &kilorank.ProblemAttempts{UserID: key[0], ProblemID: key[1], Attempts: cnt})
	}
	return attempts, nil
}

func (d *DB) ContestActivity(_ context.Context, contestID int) ([]*kilorank.UserActivity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	byUser := make(map[int]*kilorank.UserActivity)
	for _, sub := range d.submissions {
		if sub.ContestID == nil || *sub.ContestID != contestID {
			continue
		}
		act, ok := byUser[sub.UserID]
		if !ok {
			act = &kilorank.UserActivity{UserID: sub.UserID}
			byUser[sub.UserID] = act
		}
		act.Attempts++
		if act.LastSubmissionTime == nil || sub.CreatedAt.After(*act.LastSubmissionTime) {
			t := sub.CreatedAt
			act.LastSubmissionTime = &t
		}
	}
	activity := make([]*kilorank.UserActivity, 0, len(byUser))
	for _, act := range byUser {
		activity = append(activity, act)
	}
	return activity, nil
}

func (d *DB) UpsertContestPoints(_ context.Context, points []*kilorank.ContestPoints) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range points {
		key := contestUser{p.ContestID, p.UserID}
		np := copyContestPoints(p)
		if old, ok := d.contestPoints[key]; ok {
			np.RatingBefore, np.RatingAfter, np.RatingChange = old.RatingBefore, old.RatingAfter, old.RatingChange
		} else {
			np.RatingBefore, np.RatingAfter, np.RatingChange = nil, nil, nil
		}
		d.contestPoints[key] = np
	}
	return nil
}

func (d *DB) ContestPoints(_ context.Context, contestID int) ([]*kilorank.ContestPoints, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	points := []*kilorank.ContestPoints{}
	for key, p := range d.contestPoints {
		if key.contestID == contestID {
			points = append(points, copyContestPoints(p))
		}
	}
	slices.SortFunc(points, func(a, b *kilorank.ContestPoints) int {
		return cmp.Or(cmp.Compare(a.Rank, b.Rank), cmp.Compare(a.UserID, b.UserID))
	})
	return points, nil
}

func (d *DB) UserRatings(_ context.Context, userIDs []int) (map[int]*kilorank.UserRating, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rez := make(map[int]*kilorank.UserRating, len(userIDs))
	for _, id := range userIDs {
		if r, ok := d.userRatings[id]; ok {
			rr := *r
			rez[id] = &rr
		}
	}
	return rez, nil
}
