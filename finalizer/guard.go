package finalizer

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Guard excludes concurrent finalizations of the same contest.
type Guard interface {
	// TryAcquire returns false if the contest is already held.
	TryAcquire(contestID int) bool
	Release(contestID int)
}

// LocalGuard is only safe within a single finalizer process.
type LocalGuard struct {
	inProgress mapset.Set[int]
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{inProgress: mapset.NewSet[int]()}
}

func (g *LocalGuard) TryAcquire(contestID int) bool {
	return g.inProgress.Add(contestID)
}

func (g *LocalGuard) Release(contestID int) {
	g.inProgress.Remove(contestID)
}
