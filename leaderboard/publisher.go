package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KiloProjects/kilorank"
	"github.com/redis/go-redis/v9"
)

// Publisher delivers live updates to clients. Delivery is best effort.
type Publisher interface {
	PublishLeaderboard(ctx context.Context, contestID int, entries []kilorank.LeaderboardEntry) error
	PublishRanking(ctx context.Context, ranking *kilorank.UserRanking) error
}

type NopPublisher struct{}

func (NopPublisher) PublishLeaderboard(context.Context, int, []kilorank.LeaderboardEntry) error {
	return nil
}

func (NopPublisher) PublishRanking(context.Context, *kilorank.UserRanking) error { return nil }

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client}
}

func LeaderboardChannel(contestID int) string {
	return fmt.Sprintf("kilorank:leaderboard:%d", contestID)
}

func RankingChannel(contestID, userID int) string {
	return fmt.Sprintf("kilorank:ranking:%d:%d", contestID, userID)
}

type leaderboardMessage struct {
	ContestID int                         `json:"contest_id"`
	Entries   []kilorank.LeaderboardEntry `json:"entries"`
}

func (p *RedisPublisher) PublishLeaderboard(ctx context.Context, contestID int, entries []kilorank.LeaderboardEntry) error {
	val, err := json.Marshal(leaderboardMessage{ContestID: contestID, Entries: entries})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, LeaderboardChannel(contestID), val).Err()
}

func (p *RedisPublisher) PublishRanking(ctx context.Context, ranking *kilorank.UserRanking) error {
	val, err := json.Marshal(ranking)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, RankingChannel(ranking.ContestID, ranking.UserID), val).Err()
}
