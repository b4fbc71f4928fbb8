package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acFixture struct {
	ac       *AntiCheat
	risk     *RiskTracker
	patterns *PatternDetector
	sessions *SessionManager
}

func newFixture(t *testing.T) *acFixture {
	t.Helper()
	risk := NewRiskTracker(DefaultRiskConfig())
	patterns := NewPatternDetector(DefaultPatternConfig())
	sessions := newTestSessionManager()
	ac := NewAntiCheat(
		DefaultAntiCheatConfig(testSecret),
		NewTimingAnalyzer(DefaultTimingConfig()),
		NewReasonabilityChecker(DefaultBoundsConfig()),
		patterns,
		risk,
		sessions,
	)
	return &acFixture{ac: ac, risk: risk, patterns: patterns, sessions: sessions}
}

func signedSubmission(userID, gameID string, score, durationMs int64) ScoreSubmission {
	ts := time.Now().Add(-time.Minute).UnixMilli()
	return ScoreSubmission{
		UserID:    userID,
		GameID:    gameID,
		Score:     score,
		Timestamp: ts,
		Signature: SignScore(userID, gameID, score, ts, testSecret),
		Duration:  durationMs,
	}
}

// A fresh user's first in-bounds, correctly signed submission is accepted
// with high confidence and a near-unchanged score.
func TestEvaluate_FreshValidSubmission(t *testing.T) {
	f := newFixture(t)

	v := f.ac.Evaluate(context.Background(), signedSubmission("u1", "snake", 500, 120000))
	require.True(t, v.Accepted)
	assert.GreaterOrEqual(t, v.Confidence, 0.8)
	assert.Equal(t, int64(475), v.AdjustedScore) // floor(500 * 0.95)
	assert.Contains(t, v.Flags, FlagNoSession)
	assert.Len(t, v.Checks, 4)
}

func TestEvaluate_TrackedSessionFullConfidence(t *testing.T) {
	f := newFixture(t)

	s := f.sessions.Start("u1", "snake")
	sub := signedSubmission("u1", "snake", 500, 30000)
	sub.SessionID = s.ID

	v := f.ac.Evaluate(context.Background(), sub)
	require.True(t, v.Accepted)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, int64(500), v.AdjustedScore)
	assert.Empty(t, v.Flags)

	// Clients get an empty array, not null.
	body, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"flags":[]`)
}

func TestEvaluate_BannedShortCircuit(t *testing.T) {
	f := newFixture(t)
	f.risk.Ban("u1", "test")

	v := f.ac.Evaluate(context.Background(), signedSubmission("u1", "snake", 500, 120000))
	assert.False(t, v.Accepted)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, []string{FlagUserBanned}, v.Flags)
	assert.Equal(t, int64(0), v.AdjustedScore)

	// Short-circuit: nothing was recorded into pattern history.
	assert.Equal(t, 0, f.patterns.HistoryLen("u1", "snake"))
}

func TestEvaluate_TimestampBounds(t *testing.T) {
	f := newFixture(t)

	future := signedSubmission("u1", "snake", 500, 120000)
	future.Timestamp = time.Now().Add(time.Hour).UnixMilli()
	future.Signature = SignScore("u1", "snake", 500, future.Timestamp, testSecret)
	v := f.ac.Evaluate(context.Background(), future)
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Flags, FlagTimestampInvalid)

	stale := signedSubmission("u1", "snake", 500, 120000)
	stale.Timestamp = time.Now().Add(-25 * time.Hour).UnixMilli()
	stale.Signature = SignScore("u1", "snake", 500, stale.Timestamp, testSecret)
	v = f.ac.Evaluate(context.Background(), stale)
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Flags, FlagTimestampInvalid)

	missing := signedSubmission("u1", "snake", 500, 120000)
	missing.Timestamp = 0
	v = f.ac.Evaluate(context.Background(), missing)
	assert.False(t, v.Accepted)
}

func TestEvaluate_SignatureHardGate(t *testing.T) {
	f := newFixture(t)

	sub := signedSubmission("u1", "snake", 500, 120000)
	sub.Score = 501 // signed payload no longer matches

	v := f.ac.Evaluate(context.Background(), sub)
	assert.False(t, v.Accepted)
	assert.Equal(t, "Invalid signature", v.Reason)
	assert.Contains(t, v.Flags, FlagInvalidSignature)

	// Hard gates reject before the pattern detector runs.
	assert.Equal(t, 0, f.patterns.HistoryLen("u1", "snake"))
}

// Spec'd example: an absurd snake score rejects with a reason naming the game.
func TestEvaluate_ScoreTooHighForSnake(t *testing.T) {
	f := newFixture(t)

	v := f.ac.Evaluate(context.Background(), signedSubmission("u1", "snake", 9000000, 120000))
	require.False(t, v.Accepted)
	assert.Contains(t, v.Reason, "too high for Snake")
	assert.Contains(t, v.Flags, FlagScoreTooHigh)
	assert.Equal(t, int64(0), v.AdjustedScore)
}

// Ten identical submissions: the tenth carries ZERO_VARIANCE and a reduced
// confidence relative to the first.
func TestEvaluate_FlatScoresFlagged(t *testing.T) {
	f := newFixture(t)

	first := f.ac.Evaluate(context.Background(), signedSubmission("u1", "snake", 100, 120000))
	require.True(t, first.Accepted)

	var last Verdict
	for i := 0; i < 9; i++ {
		last = f.ac.Evaluate(context.Background(), signedSubmission("u1", "snake", 100, 120000))
	}
	assert.Contains(t, last.Flags, FlagZeroVariance)
	assert.Less(t, last.Confidence, first.Confidence)
}

func TestEvaluate_GameRuleHardBound(t *testing.T) {
	f := newFixture(t)

	// 9000 points in 10 seconds is far past snake's score-rate ceiling.
	v := f.ac.Evaluate(context.Background(), signedSubmission("u1", "snake", 9000, 10000))
	require.False(t, v.Accepted)
	assert.Contains(t, v.Flags, FlagAutomationDetected)

	// The same score over a plausible duration passes the rate rule.
	v = f.ac.Evaluate(context.Background(), signedSubmission("u2", "snake", 9000, 600000))
	assert.NotContains(t, v.Flags, FlagAutomationDetected)
}

func TestEvaluate_TamperedSessionRejects(t *testing.T) {
	f := newFixture(t)

	sub := signedSubmission("u1", "snake", 500, 120000)
	sub.SessionID = "fabricated"

	v := f.ac.Evaluate(context.Background(), sub)
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Flags, FlagSessionTampering)
}

func TestEvaluate_MalformedSubmissions(t *testing.T) {
	f := newFixture(t)

	v := f.ac.Evaluate(context.Background(), ScoreSubmission{GameID: "snake", Score: 10})
	assert.False(t, v.Accepted)
	assert.Equal(t, "Malformed submission", v.Reason)

	v = f.ac.Evaluate(context.Background(), ScoreSubmission{UserID: "u1", Score: 10})
	assert.False(t, v.Accepted)

	big := signedSubmission("u1", "snake", 500, 120000)
	big.Metadata = map[string]interface{}{}
	for i := 0; i < 20; i++ {
		big.Metadata[string(rune('a'+i))] = i
	}
	v = f.ac.Evaluate(context.Background(), big)
	assert.False(t, v.Accepted)
	assert.Equal(t, "Metadata too large", v.Reason)
}

// Repeated hard-gate failures accumulate risk until the auto-ban trips, and
// later submissions short-circuit on the ban.
func TestEvaluate_RepeatOffenderAutoBanned(t *testing.T) {
	f := newFixture(t)

	bad := signedSubmission("u1", "snake", 500, 120000)
	bad.Signature = "forged"

	for i := 0; i < 4; i++ {
		v := f.ac.Evaluate(context.Background(), bad)
		assert.False(t, v.Accepted)
	}
	require.True(t, f.risk.IsBanned("u1"))

	good := signedSubmission("u1", "snake", 500, 120000)
	v := f.ac.Evaluate(context.Background(), good)
	assert.Contains(t, v.Flags, FlagUserBanned)
}

// A borderline-but-accepted submission still builds risk history.
func TestEvaluate_BorderlineAcceptTracked(t *testing.T) {
	f := newFixture(t)

	// Seed flat history so the pattern check lands at 0.4.
	for i := 0; i < 9; i++ {
		f.patterns.Detect("u1", "tetris", 960000)
	}

	// Near-max score, too-fast duration, no session:
	// mean(0.8, 0.6, 0.3, 0.4) = 0.525 — accepted, below the track threshold.
	v := f.ac.Evaluate(context.Background(), signedSubmission("u1", "tetris", 960000, 3000))
	require.True(t, v.Accepted)
	assert.Less(t, v.Confidence, 0.6)

	p := f.risk.Profile("u1")
	assert.Equal(t, 1, p.IncidentCount)
}

func TestEvaluate_AdjustedScoreFloor(t *testing.T) {
	f := newFixture(t)

	// Confidence 0.525 is below the 0.7 floor, so the multiplier floors.
	for i := 0; i < 9; i++ {
		f.patterns.Detect("u1", "tetris", 960000)
	}
	v := f.ac.Evaluate(context.Background(), signedSubmission("u1", "tetris", 960000, 3000))
	require.True(t, v.Accepted)
	assert.Equal(t, int64(672000), v.AdjustedScore) // floor(960000 * 0.7)
}

func TestEvaluate_ConcurrentUsersIndependent(t *testing.T) {
	f := newFixture(t)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			userID := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				f.ac.Evaluate(context.Background(), signedSubmission(userID, "snake", int64(100+j*7), 120000))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	for i := 0; i < 8; i++ {
		userID := string(rune('a' + i))
		assert.Equal(t, 50, f.patterns.HistoryLen(userID, "snake"))
	}
}
