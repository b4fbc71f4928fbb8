package main

import (
	"context"
	"sort"
	"sync"
)

// LeaderboardEntry is one row of a game's leaderboard.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
}

// BestScoreStore persists accepted scores with keep-max semantics, keyed by
// (userId, gameId). The anti-cheat core does not own durable state; this is
// the external collaborator it hands accepted scores to.
type BestScoreStore interface {
	// SubmitBest records score if it beats the stored best. Returns the
	// resulting best and whether it improved.
	SubmitBest(ctx context.Context, userID, gameID string, score int64) (best int64, improved bool, err error)
	Best(ctx context.Context, userID, gameID string) (int64, error)
	TopN(ctx context.Context, gameID string, n int) ([]LeaderboardEntry, error)
}

// MemoryScoreStore is the in-process store used when neither Redis nor
// Postgres is configured.
type MemoryScoreStore struct {
	mu   sync.RWMutex
	best map[string]map[string]int64 // gameID -> userID -> best score
}

func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{best: make(map[string]map[string]int64)}
}

func (s *MemoryScoreStore) SubmitBest(_ context.Context, userID, gameID string, score int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, ok := s.best[gameID]
	if !ok {
		game = make(map[string]int64)
		s.best[gameID] = game
	}
	if prev, ok := game[userID]; ok && prev >= score {
		return prev, false, nil
	}
	game[userID] = score
	return score, true, nil
}

func (s *MemoryScoreStore) Best(_ context.Context, userID, gameID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.best[gameID][userID], nil
}

func (s *MemoryScoreStore) TopN(_ context.Context, gameID string, n int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]LeaderboardEntry, 0, len(s.best[gameID]))
	for userID, score := range s.best[gameID] {
		entries = append(entries, LeaderboardEntry{UserID: userID, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
