package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/KiloProjects/kilorank"
	"github.com/redis/go-redis/v9"
)

var _ RankedStore = &RedisStore{}

// RedisStore keeps the ranking in a sorted set per contest and the per-problem state in hashes.
// Readers in other processes may share it, but Cache serializes score updates only within its own
// process, so exactly one kilorank process should write to a given prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "kilorank:contest:"}
}

func (s *RedisStore) scoresKey(contestID int) string {
	return fmt.Sprintf("%s%d:scores", s.prefix, contestID)
}

func (s *RedisStore) problemsKey(contestID, userID int) string {
	return fmt.Sprintf("%s%d:user:%d:problems", s.prefix, contestID, userID)
}

func (s *RedisStore) attemptsKey(contestID, userID int) string {
	return fmt.Sprintf("%s%d:user:%d:attempts", s.prefix, contestID, userID)
}

func (s *RedisStore) SetScore(ctx context.Context, contestID, userID int, points int) error {
	return s.client.ZAdd(ctx, s.scoresKey(contestID), redis.Z{Score: float64(points), Member: strconv.Itoa(userID)}).Err()
}

func (s *RedisStore) Rank(ctx context.Context, contestID, userID int) (int, bool, error) {
	rank, err := s.client.ZRevRank(ctx, s.scoresKey(contestID), strconv.Itoa(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int(rank) + 1, true, nil
}

func (s *RedisStore) Score(ctx context.Context, contestID, userID int) (int, bool, error) {
	score, err := s.client.ZScore(ctx, s.scoresKey(contestID), strconv.Itoa(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int(score), true, nil
}

func (s *RedisStore) Top(ctx context.Context, contestID, n int) ([]kilorank.LeaderboardEntry, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	vals, err := s.client.ZRevRangeWithScores(ctx, s.scoresKey(contestID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]kilorank.LeaderboardEntry, 0, len(vals))
	for i, val := range vals {
		member, ok := val.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected leaderboard member %v", val.Member)
		}
		userID, err := strconv.Atoi(member)
		if err != nil {
			return nil, fmt.Errorf("invalid leaderboard member %q: %w", member, err)
		}
		entries = append(entries, kilorank.LeaderboardEntry{UserID: userID, Points: int(val.Score), Rank: i + 1})
	}
	return entries, nil
}

func (s *RedisStore) Count(ctx context.Context, contestID int) (int, error) {
	cnt, err := s.client.ZCard(ctx, s.scoresKey(contestID)).Result()
	return int(cnt), err
}

func (s *RedisStore) ProblemStatuses(ctx context.Context, contestID, userID int) (map[int]*kilorank.ProblemSubmissionStatus, error) {
	pipe := s.client.Pipeline()
	statusesCmd := pipe.HGetAll(ctx, s.problemsKey(contestID, userID))
	attemptsCmd := pipe.HGetAll(ctx, s.attemptsKey(contestID, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	rez := make(map[int]*kilorank.ProblemSubmissionStatus)
	for field, val := range statusesCmd.Val() {
		var st kilorank.ProblemSubmissionStatus
		if err := json.Unmarshal([]byte(val), &st); err != nil {
			return nil, fmt.Errorf("invalid problem status for problem %s: %w", field, err)
		}
		rez[st.ProblemID] = &st
	}
	for field, val := range attemptsCmd.Val() {
		pbID, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid attempt counter field %q: %w", field, err)
		}
		cnt, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid attempt counter %q: %w", val, err)
		}
		st, ok := rez[pbID]
		if !ok {
			st = &kilorank.ProblemSubmissionStatus{ProblemID: pbID}
			rez[pbID] = st
		}
		st.Attempts = cnt
	}
	return rez, nil
}

func (s *RedisStore) SetProblemStatus(ctx context.Context, contestID, userID int, st *kilorank.ProblemSubmissionStatus) error {
	cp := *st
	cp.Attempts = 0
	val, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.problemsKey(contestID, userID), strconv.Itoa(st.ProblemID), val).Err()
}

func (s *RedisStore) IncrAttempts(ctx context.Context, contestID, userID, problemID int) (int, error) {
	cnt, err := s.client.HIncrBy(ctx, s.attemptsKey(contestID, userID), strconv.Itoa(problemID), 1).Result()
	return int(cnt), err
}

func (s *RedisStore) SetAttempts(ctx context.Context, contestID, userID, problemID, attempts int) error {
	return s.client.HSet(ctx, s.attemptsKey(contestID, userID), strconv.Itoa(problemID), attempts).Err()
}

func (s *RedisStore) Clear(ctx context.Context, contestID int) error {
	iter := s.client.Scan(ctx, 0, fmt.Sprintf("%s%d:*", s.prefix, contestID), 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
