// Package rating turns a final contest leaderboard into rating changes.
//
// The formula is a variation on Elo: the expected score against the field is compared with a
// rank-derived actual score, and the resulting delta is scaled with several adjustment factors.
// The numeric behavior is relied upon by clients, so the constants below must not be tuned casually.
package rating

import (
	"math"

	"github.com/KiloProjects/kilorank"
)

const (
	MaxDelta = 150

	// bonuses, applied to gains only
	topTenBonus       = 1.2
	topQuarterBonus   = 1.1
	scoredPointsBonus = 1.1
)

// Participant is one leaderboard row as seen by the rating engine.
type Participant struct {
	UserID int
	Rank   int
	Points int
}

// KFactor depends on how many rated contests the user took part in before.
func KFactor(contests int) float64 {
	switch {
	case contests < 10:
		return 40
	case contests < 30:
		return 30
	default:
		return 20
	}
}

// SizeFactor grows with the square root of the number of participants, bounded to [0.5, 2].
func SizeFactor(participants int) float64 {
	return clamp(math.Sqrt(float64(participants)/10), 0.5, 2.0)
}

// BracketFactor makes low-rated users move faster than high-rated ones.
func BracketFactor(rating int) float64 {
	switch {
	case rating < 1200:
		return 1.3
	case rating < 1500:
		return 1.15
	case rating < 1800:
		return 1.0
	case rating < 2100:
		return 0.9
	default:
		return 0.8
	}
}

// WinProbability is the chance a player rated mine beats a player rated theirs.
func WinProbability(mine, theirs int) float64 {
	return 1 / (1 + math.Pow(10, float64(theirs-mine)/400))
}

// ActualScore maps a 1-based rank among n participants linearly from 1 (first) to 0 (last).
// Last place scoring exactly 0 keeps the deltas of two equal players symmetric.
// A lone participant scores 1.
func ActualScore(rank, n int) float64 {
	if n <= 1 {
		return 1
	}
	return float64(n-rank) / float64(n-1)
}

// ExpectedScore is the mean win probability of participant i against everybody else.
func ExpectedScore(i int, ratings []int) float64 {
	if len(ratings) <= 1 {
		return 1
	}
	var sum float64
	for j, r := range ratings {
		if j == i {
			continue
		}
		sum += WinProbability(ratings[i], r)
	}
	return sum / float64(len(ratings)-1)
}

// RawDelta is the unscaled Elo delta.
func RawDelta(k, actual, expected float64) int {
	return int(math.Round(k * (actual - expected)))
}

// ComputeRatingChanges returns the rating change of every participant on the leaderboard.
//
// Users missing from ratings start from kilorank.DefaultRating. A stored rating of 0 is a real rating.
// Missing contest counts are treated as zero. With fewer than two participants there is nobody to
// be compared against, so the result is empty. The function has no side effects.
func ComputeRatingChanges(ratings map[int]int, contestCounts map[int]int, leaderboard []Participant) map[int]*kilorank.RatingResult {
	changes := make(map[int]*kilorank.RatingResult, len(leaderboard))
	n := len(leaderboard)
	if n < 2 {
		return changes
	}

	prior := make([]int, n)
	for i, p := range leaderboard {
		r, ok := ratings[p.UserID]
		if !ok {
			r = kilorank.DefaultRating
		}
		prior[i] = r
	}

	size := SizeFactor(n)
	for i, p := range leaderboard {
		rank := p.Rank
		if rank <= 0 {
			rank = i + 1
		}

		raw := RawDelta(KFactor(contestCounts[p.UserID]), ActualScore(rank, n), ExpectedScore(i, prior))

		adjusted := float64(raw) * size * BracketFactor(prior[i])
		if adjusted > 0 {
			percentile := float64(rank) / float64(n)
			switch {
			case percentile <= 0.10:
				adjusted *= topTenBonus
			case percentile <= 0.25:
				adjusted *= topQuarterBonus
			}
			if p.Points > 0 {
				adjusted *= scoredPointsBonus
			}
		}

		delta := int(clamp(math.Round(adjusted), -MaxDelta, MaxDelta))
		newRating := max(prior[i]+delta, 0)
		changes[p.UserID] = &kilorank.RatingResult{
			Rank:      rank,
			OldRating: prior[i],
			NewRating: newRating,
			Delta:     newRating - prior[i],
		}
	}
	return changes
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
