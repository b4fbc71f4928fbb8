package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager() *SessionManager {
	return &SessionManager{
		sessions:               make(map[string]*Session),
		ttl:                    time.Hour,
		durationSlack:          30 * time.Second,
		tamperConfidence:       0.1,
		inconclusiveConfidence: 0.2,
		now:                    time.Now,
	}
}

func TestSessionManager_StartAndClose(t *testing.T) {
	m := newTestSessionManager()
	base := time.Now()
	m.now = func() time.Time { return base }

	s := m.Start("u1", "snake")
	require.NotEmpty(t, s.ID)
	assert.Equal(t, base.Add(time.Hour), s.ExpiresAt)

	base = base.Add(2 * time.Minute)
	result := m.ValidateClosure(context.Background(), s.ID, "u1", "snake", 110000)
	assert.True(t, result.Valid)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestSessionManager_ConsumeOnce(t *testing.T) {
	m := newTestSessionManager()
	s := m.Start("u1", "snake")

	first := m.ValidateClosure(context.Background(), s.ID, "u1", "snake", 0)
	require.True(t, first.Valid)

	second := m.ValidateClosure(context.Background(), s.ID, "u1", "snake", 0)
	assert.False(t, second.Valid)
	assert.Contains(t, second.Flags, FlagSessionTampering)
}

func TestSessionManager_Tampering(t *testing.T) {
	m := newTestSessionManager()
	base := time.Now()
	m.now = func() time.Time { return base }
	s := m.Start("u1", "snake")
	base = base.Add(time.Minute)

	tests := []struct {
		name           string
		sessionID      string
		userID, gameID string
		durationMs     int64
	}{
		{"unknown session", "nope", "u1", "snake", 0},
		{"wrong user", s.ID, "u2", "snake", 0},
		{"wrong game", s.ID, "u1", "tetris", 0},
		{"claimed duration exceeds elapsed", s.ID, "u1", "snake", 600000},
		{"claimed duration far below elapsed", s.ID, "u1", "snake", 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := m.ValidateClosure(context.Background(), tt.sessionID, tt.userID, tt.gameID, tt.durationMs)
			assert.False(t, result.Valid)
			assert.Contains(t, result.Flags, FlagSessionTampering)
			assert.InDelta(t, 0.1, result.Confidence, 1e-9)
		})
	}
}

func TestSessionManager_Expired(t *testing.T) {
	m := newTestSessionManager()
	base := time.Now()
	m.now = func() time.Time { return base }

	s := m.Start("u1", "snake")
	base = base.Add(2 * time.Hour)

	result := m.ValidateClosure(context.Background(), s.ID, "u1", "snake", 0)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Flags, FlagSessionTampering)
}

func TestSessionManager_ContextTimeoutInconclusive(t *testing.T) {
	m := newTestSessionManager()
	s := m.Start("u1", "snake")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := m.ValidateClosure(ctx, s.ID, "u1", "snake", 0)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Flags, FlagInconclusive)

	// The session was not consumed by the aborted check; a retry succeeds.
	retry := m.ValidateClosure(context.Background(), s.ID, "u1", "snake", 0)
	assert.True(t, retry.Valid)
}

func TestSessionManager_Cleanup(t *testing.T) {
	m := newTestSessionManager()
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Start("u1", "snake")
	m.Start("u2", "snake")
	require.Len(t, m.sessions, 2)

	base = base.Add(2 * time.Hour)
	m.cleanup()
	assert.Empty(t, m.sessions)
}
