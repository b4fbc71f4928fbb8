package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisScoreStore keeps best scores in one sorted set per game, so keep-max
// writes and leaderboard reads are both single commands.
type RedisScoreStore struct {
	client *redis.Client
}

// NewRedisScoreStore connects to the Redis instance at url and verifies the
// connection.
func NewRedisScoreStore(ctx context.Context, url string) (*RedisScoreStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisScoreStore{client: client}, nil
}

func scoreKey(gameID string) string {
	return "scores:" + gameID
}

// SubmitBest uses ZADD GT: the member only moves up, which is exactly
// keep-max.
func (s *RedisScoreStore) SubmitBest(ctx context.Context, userID, gameID string, score int64) (int64, bool, error) {
	key := scoreKey(gameID)

	prev, err := s.client.ZScore(ctx, key, userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, err
	}
	hadPrev := err == nil

	if err := s.client.ZAddGT(ctx, key, redis.Z{Score: float64(score), Member: userID}).Err(); err != nil {
		return 0, false, err
	}

	if hadPrev && int64(prev) >= score {
		return int64(prev), false, nil
	}
	return score, true, nil
}

func (s *RedisScoreStore) Best(ctx context.Context, userID, gameID string) (int64, error) {
	score, err := s.client.ZScore(ctx, scoreKey(gameID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(score), nil
}

func (s *RedisScoreStore) TopN(ctx context.Context, gameID string, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.client.ZRevRangeWithScores(ctx, scoreKey(gameID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, z := range rows {
		entries = append(entries, LeaderboardEntry{UserID: z.Member, Score: int64(z.Score)})
	}
	return entries, nil
}

// Close releases the connection pool.
func (s *RedisScoreStore) Close() error {
	return s.client.Close()
}
