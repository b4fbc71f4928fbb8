package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// SessionValidator closes the loop between a claimed play session and a
// score submission. Implementations may be remote; the orchestrator always
// passes a context and treats deadline expiry as an inconclusive signal.
type SessionValidator interface {
	ValidateClosure(ctx context.Context, sessionID, userID, gameID string, durationMs int64) CheckResult
}

// Session is one tracked play session, issued at game start and consumed by
// exactly one score submission.
type Session struct {
	ID        string    `json:"sessionId"`
	UserID    string    `json:"-"`
	GameID    string    `json:"-"`
	StartedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	consumed  bool
}

// SessionManager issues and validates play sessions in memory.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl time.Duration
	// slack tolerated between claimed duration and server-observed elapsed
	// time before the closure counts as tampering
	durationSlack time.Duration

	tamperConfidence       float64
	inconclusiveConfidence float64

	now func() time.Time
}

// NewSessionManager creates a manager and starts its expiry sweep.
func NewSessionManager(ttl time.Duration) *SessionManager {
	m := &SessionManager{
		sessions:               make(map[string]*Session),
		ttl:                    ttl,
		durationSlack:          30 * time.Second,
		tamperConfidence:       0.1,
		inconclusiveConfidence: 0.2,
		now:                    time.Now,
	}
	go m.cleanupLoop()
	return m
}

func (m *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		m.cleanup()
	}
}

func (m *SessionManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
}

// Start issues a session for a user about to play a game.
func (m *SessionManager) Start(userID, gameID string) *Session {
	buf := make([]byte, 16)
	rand.Read(buf)

	now := m.now()
	s := &Session{
		ID:        hex.EncodeToString(buf),
		UserID:    userID,
		GameID:    gameID,
		StartedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// ValidateClosure checks that the claimed session exists, belongs to this
// user and game, has not already been consumed, and that the claimed play
// duration fits inside the server-observed session lifetime. A valid closure
// consumes the session.
func (m *SessionManager) ValidateClosure(ctx context.Context, sessionID, userID, gameID string, durationMs int64) CheckResult {
	if err := ctx.Err(); err != nil {
		return CheckResult{
			Name:       CheckSession,
			Valid:      false,
			Confidence: m.inconclusiveConfidence,
			Flags:      []string{FlagInconclusive},
			Reason:     "Session check inconclusive",
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tampered := CheckResult{
		Name:       CheckSession,
		Valid:      false,
		Confidence: m.tamperConfidence,
		Flags:      []string{FlagSessionTampering},
		Reason:     "Session mismatch",
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return tampered
	}

	now := m.now()
	if now.After(s.ExpiresAt) {
		delete(m.sessions, sessionID)
		return tampered
	}
	if s.consumed || s.UserID != userID || s.GameID != gameID {
		return tampered
	}

	// The claimed duration must agree with the server-observed elapsed time
	// in both directions; an unreported duration (0) is the timing check's
	// problem, not a mismatch.
	elapsed := now.Sub(s.StartedAt)
	if durationMs > 0 {
		claimed := time.Duration(durationMs) * time.Millisecond
		if claimed > elapsed+m.durationSlack || claimed < elapsed-m.durationSlack {
			return tampered
		}
	}

	s.consumed = true
	return CheckResult{Name: CheckSession, Valid: true, Confidence: 1.0}
}
