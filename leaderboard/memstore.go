package leaderboard

import (
	"context"
	"sync"

	"github.com/KiloProjects/kilorank"
	"github.com/tidwall/btree"
)

var _ RankedStore = &MemoryStore{}

type rankedEntry struct {
	userID int
	points int
	// seq is the insertion order of the user, used to break ties
	seq uint64
}

func rankedLess(a, b rankedEntry) bool {
	if a.points != b.points {
		return a.points > b.points
	}
	return a.seq < b.seq
}

type memContest struct {
	ranking  *btree.BTreeG[rankedEntry]
	entries  map[int]rankedEntry
	statuses map[int]map[int]*kilorank.ProblemSubmissionStatus
	attempts map[int]map[int]int
}

func newMemContest() *memContest {
	return &memContest{
		ranking:  btree.NewBTreeGOptions(rankedLess, btree.Options{NoLocks: true}),
		entries:  make(map[int]rankedEntry),
		statuses: make(map[int]map[int]*kilorank.ProblemSubmissionStatus),
		attempts: make(map[int]map[int]int),
	}
}

// MemoryStore is a process-local RankedStore backed by a counted B-tree per contest.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      uint64
	contests map[int]*memContest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contests: make(map[int]*memContest)}
}

// contest must be called with the write lock held.
func (s *MemoryStore) contest(contestID int) *memContest {
	c, ok := s.contests[contestID]
	if !ok {
		c = newMemContest()
		s.contests[contestID] = c
	}
	return c
}

func (s *MemoryStore) SetScore(_ context.Context, contestID, userID int, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.contest(contestID)
	entry, ok := c.entries[userID]
	if ok {
		c.ranking.Delete(entry)
	} else {
		s.seq++
		entry = rankedEntry{userID: userID, seq: s.seq}
	}
	entry.points = points
	c.entries[userID] = entry
	c.ranking.Set(entry)
	return nil
}

func (s *MemoryStore) Rank(_ context.Context, contestID, userID int) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contests[contestID]
	if !ok {
		return 0, false, nil
	}
	entry, ok := c.entries[userID]
	if !ok {
		return 0, false, nil
	}
	// binary search over positions; GetAt is logarithmic in a counted tree
	lo, hi := 0, c.ranking.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		item, _ := c.ranking.GetAt(mid)
		if rankedLess(item, entry) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo + 1, true, nil
}

func (s *MemoryStore) Score(_ context.Context, contestID, userID int) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contests[contestID]
	if !ok {
		return 0, false, nil
	}
	entry, ok := c.entries[userID]
	return entry.points, ok, nil
}

func (s *MemoryStore) Top(_ context.Context, contestID, n int) ([]kilorank.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contests[contestID]
	if !ok {
		return []kilorank.LeaderboardEntry{}, nil
	}
	if n <= 0 || n > c.ranking.Len() {
		n = c.ranking.Len()
	}
	entries := make([]kilorank.LeaderboardEntry, 0, n)
	c.ranking.Scan(func(item rankedEntry) bool {
		if len(entries) >= n {
			return false
		}
		entries = append(entries, kilorank.LeaderboardEntry{UserID: item.userID, Points: item.points, Rank: len(entries) + 1})
		return true
	})
	return entries, nil
}

func (s *MemoryStore) Count(_ context.Context, contestID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contests[contestID]
	if !ok {
		return 0, nil
	}
	return c.ranking.Len(), nil
}

func (s *MemoryStore) ProblemStatuses(_ context.Context, contestID, userID int) (map[int]*kilorank.ProblemSubmissionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rez := make(map[int]*kilorank.ProblemSubmissionStatus)
	c, ok := s.contests[contestID]
	if !ok {
		return rez, nil
	}
	for pbID, st := range c.statuses[userID] {
		cp := *st
		rez[pbID] = &cp
	}
	for pbID, cnt := range c.attempts[userID] {
		st, ok := rez[pbID]
		if !ok {
			st = &kilorank.ProblemSubmissionStatus{ProblemID: pbID}
			rez[pbID] = st
		}
		st.Attempts = cnt
	}
	return rez, nil
}

func (s *MemoryStore) SetProblemStatus(_ context.Context, contestID, userID int, st *kilorank.ProblemSubmissionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.contest(contestID)
	if c.statuses[userID] == nil {
		c.statuses[userID] = make(map[int]*kilorank.ProblemSubmissionStatus)
	}
	cp := *st
	cp.Attempts = 0
	c.statuses[userID][st.ProblemID] = &cp
	return nil
}

func (s *MemoryStore) IncrAttempts(_ context.Context, contestID, userID, problemID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.contest(contestID)
	if c.attempts[userID] == nil {
		c.attempts[userID] = make(map[int]int)
	}
	c.attempts[userID][problemID]++
	return c.attempts[userID][problemID], nil
}

func (s *MemoryStore) SetAttempts(_ context.Context, contestID, userID, problemID, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.contest(contestID)
	if c.attempts[userID] == nil {
		c.attempts[userID] = make(map[int]int)
	}
	c.attempts[userID][problemID] = attempts
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, contestID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contests, contestID)
	return nil
}
