// Package kilorank holds the domain types shared by the contest scoring pipeline:
// submissions and their judge results, contest leaderboards and rating snapshots.
package kilorank

const Version = "v0.4.1"

// DefaultRating is assigned to users who have never been rated.
const DefaultRating = 1500
