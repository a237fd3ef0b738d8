package grader

import (
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/shopspring/decimal"
)

var (
	decimalOne  = decimal.NewFromInt(1)
	decimalHalf = decimal.NewFromFloat(0.5)
)

// MaxPoints is the value of a problem solved at the very start of the contest.
func MaxPoints(pb *kilorank.ContestProblem) int {
	if pb.MaxPoints > 0 {
		return pb.MaxPoints
	}
	switch pb.Difficulty {
	case kilorank.DifficultyMedium:
		return 200
	case kilorank.DifficultyHard:
		return 300
	default:
		return 100
	}
}

// ContestPoints decays linearly from the full value at contest start to half of it at contest end.
// Submissions outside the window are clamped to it.
func ContestPoints(contest *kilorank.Contest, pb *kilorank.ContestProblem, submittedAt time.Time) int {
	maxPoints := decimal.NewFromInt(int64(MaxPoints(pb)))
	duration := contest.Duration()
	if duration <= 0 {
		return int(maxPoints.IntPart())
	}
	elapsed := min(max(submittedAt.Sub(contest.StartTime), 0), duration)

	// points = maxPoints * (1 - 0.5 * elapsed / duration), rounded half away from zero
	fraction := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(duration)))
	points := maxPoints.Mul(decimalOne.Sub(decimalHalf.Mul(fraction))).Round(0)
	return int(points.IntPart())
}
