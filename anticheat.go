package main

import (
	"context"
	"math"
	"time"
)

// Flags attached to check results and incidents.
const (
	FlagUserBanned         = "USER_BANNED"
	FlagInvalidSignature   = "INVALID_SIGNATURE"
	FlagTimestampInvalid   = "TIMESTAMP_INVALID"
	FlagMalformed          = "MALFORMED_SUBMISSION"
	FlagNoTimingData       = "NO_TIMING_DATA"
	FlagTooFast            = "TOO_FAST"
	FlagTooLong            = "TOO_LONG"
	FlagScoreTooHigh       = "SCORE_TOO_HIGH"
	FlagNegativeScore      = "NEGATIVE_SCORE"
	FlagNearMaximum        = "NEAR_MAXIMUM"
	FlagSuddenImprovement  = "SUDDEN_IMPROVEMENT"
	FlagConsistentPerfect  = "CONSISTENT_PERFECT"
	FlagZeroVariance       = "ZERO_VARIANCE"
	FlagNoSession          = "NO_SESSION"
	FlagSessionTampering   = "SESSION_TAMPERING"
	FlagInconclusive       = "INCONCLUSIVE"
	FlagAutomationDetected = "AUTOMATION_DETECTED"
)

// Check names used in the per-check breakdown.
const (
	CheckSession  = "session"
	CheckBounds   = "bounds"
	CheckTiming   = "timing"
	CheckPatterns = "patterns"
)

// CheckResult is the outcome of one validation check. Confidence is 0-1;
// Valid false means the check itself votes to reject.
type CheckResult struct {
	Name       string   `json:"name"`
	Valid      bool     `json:"valid"`
	Confidence float64  `json:"confidence"`
	Flags      []string `json:"flags,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// ScoreSubmission is one submitted score, created by the transport layer and
// consumed once.
type ScoreSubmission struct {
	UserID    string                 `json:"userId"`
	GameID    string                 `json:"gameId"`
	Score     int64                  `json:"score"`
	Timestamp int64                  `json:"timestamp"` // epoch ms
	Signature string                 `json:"signature"`
	Duration  int64                  `json:"duration,omitempty"` // ms, 0 = not reported
	SessionID string                 `json:"sessionId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Verdict is the orchestrator's answer. Checks carries the per-check
// breakdown and is only exposed to admin callers.
type Verdict struct {
	Accepted      bool          `json:"accepted"`
	Confidence    float64       `json:"confidence"`
	AdjustedScore int64         `json:"adjustedScore"`
	Flags         []string      `json:"flags"`
	Reason        string        `json:"reason,omitempty"`
	Checks        []CheckResult `json:"-"`
}

// GameRule is a game-specific hard bound beyond the plain score ceiling.
type GameRule struct {
	// MaxScorePerSecond caps score/duration. Zero disables the check.
	MaxScorePerSecond float64
}

// AntiCheatConfig holds the orchestrator's policy values.
type AntiCheatConfig struct {
	Secret string

	MaxTimestampAge time.Duration

	AcceptThreshold     float64 // aggregate confidence needed to accept
	TrackThreshold      float64 // accepted-but-below still builds risk history
	AdjustFloor         float64 // floor on the adjusted-score multiplier
	NoSessionConfidence float64

	MaxMetadataKeys int

	GameRules map[string]GameRule
}

// DefaultAntiCheatConfig returns the tuned policy.
func DefaultAntiCheatConfig(secret string) AntiCheatConfig {
	return AntiCheatConfig{
		Secret:              secret,
		MaxTimestampAge:     24 * time.Hour,
		AcceptThreshold:     0.5,
		TrackThreshold:      0.6,
		AdjustFloor:         0.7,
		NoSessionConfidence: 0.8,
		MaxMetadataKeys:     16,
		GameRules: map[string]GameRule{
			// Snake scores one point per food; faster than 50/s is scripted.
			"snake": {MaxScorePerSecond: 50},
		},
	}
}

// AntiCheat composes the individual checks into one validation call. Hard
// gates (ban, timestamp, signature, bounds, game rules) reject immediately;
// soft signals (session, timing, patterns) are averaged into a confidence.
type AntiCheat struct {
	cfg      AntiCheatConfig
	timing   *TimingAnalyzer
	bounds   *ReasonabilityChecker
	patterns *PatternDetector
	risk     *RiskTracker
	sessions SessionValidator

	now func() time.Time
}

// NewAntiCheat wires the orchestrator. risk must not be nil; sessions may be
// nil when no session store is deployed, in which case every submission
// carries the missing-session penalty.
func NewAntiCheat(cfg AntiCheatConfig, timing *TimingAnalyzer, bounds *ReasonabilityChecker, patterns *PatternDetector, risk *RiskTracker, sessions SessionValidator) *AntiCheat {
	return &AntiCheat{
		cfg:      cfg,
		timing:   timing,
		bounds:   bounds,
		patterns: patterns,
		risk:     risk,
		sessions: sessions,
		now:      time.Now,
	}
}

// Evaluate runs the full validation pipeline over one submission. It never
// panics on malformed input; shape problems are rejections, not faults.
func (a *AntiCheat) Evaluate(ctx context.Context, sub ScoreSubmission) Verdict {
	now := a.now()

	if sub.UserID == "" || sub.GameID == "" {
		return Verdict{Flags: []string{FlagMalformed}, Reason: "Malformed submission"}
	}
	if a.cfg.MaxMetadataKeys > 0 && len(sub.Metadata) > a.cfg.MaxMetadataKeys {
		return Verdict{Flags: []string{FlagMalformed}, Reason: "Metadata too large"}
	}

	// Cheapest path first: banned users never get further evaluation.
	if a.risk.IsBanned(sub.UserID) {
		a.trackIncident(sub, now, 0, []string{FlagUserBanned})
		return Verdict{Flags: []string{FlagUserBanned}, Reason: "User is banned"}
	}

	// Timestamp bounds. Future timestamps are rejected outright; no skew
	// allowance.
	ts := time.UnixMilli(sub.Timestamp)
	if sub.Timestamp <= 0 || ts.After(now) || now.Sub(ts) > a.cfg.MaxTimestampAge {
		a.trackIncident(sub, now, 0, []string{FlagTimestampInvalid})
		return Verdict{Flags: []string{FlagTimestampInvalid}, Reason: "Invalid timestamp"}
	}

	// Signature is a hard gate, never a confidence contributor.
	if !VerifyScoreSignature(sub.UserID, sub.GameID, sub.Score, sub.Timestamp, sub.Signature, a.cfg.Secret) {
		a.trackIncident(sub, now, 0, []string{FlagInvalidSignature})
		return Verdict{Flags: []string{FlagInvalidSignature}, Reason: "Invalid signature"}
	}

	var checks []CheckResult

	// Session closure. A missing session is suspicious but not fatal; some
	// clients never open a tracked session.
	switch {
	case sub.SessionID == "" || a.sessions == nil:
		checks = append(checks, CheckResult{
			Name:       CheckSession,
			Valid:      true,
			Confidence: a.cfg.NoSessionConfidence,
			Flags:      []string{FlagNoSession},
		})
	default:
		checks = append(checks, a.sessions.ValidateClosure(ctx, sub.SessionID, sub.UserID, sub.GameID, sub.Duration))
	}

	// Score bounds: a violation is a hard gate, a near-max score is a soft
	// signal folded into the aggregate.
	boundsResult := a.bounds.Check(sub.GameID, sub.Score)
	if !boundsResult.Valid {
		a.trackIncident(sub, now, 0, boundsResult.Flags)
		return Verdict{Flags: boundsResult.Flags, Reason: boundsResult.Reason}
	}
	checks = append(checks, boundsResult)

	// Soft signals. The pattern detector records the score regardless of
	// the eventual verdict.
	checks = append(checks, a.timing.Analyze(sub.Duration))
	checks = append(checks, a.patterns.Detect(sub.UserID, sub.GameID, sub.Score))

	// Game-specific hard bounds.
	if rule, ok := a.cfg.GameRules[sub.GameID]; ok && rule.MaxScorePerSecond > 0 && sub.Duration > 0 {
		rate := float64(sub.Score) / (float64(sub.Duration) / 1000)
		if rate > rule.MaxScorePerSecond {
			a.trackIncident(sub, now, 0, []string{FlagAutomationDetected})
			return Verdict{
				Flags:  []string{FlagAutomationDetected},
				Reason: "Implausible score rate for " + gameTitle(sub.GameID),
			}
		}
	}

	// Aggregate the soft signals.
	var sum float64
	allValid := true
	flags := make([]string, 0, len(checks)) // marshals as [], never null
	for _, c := range checks {
		sum += c.Confidence
		if !c.Valid {
			allValid = false
		}
		flags = append(flags, c.Flags...)
	}
	confidence := sum / float64(len(checks))
	accepted := confidence > a.cfg.AcceptThreshold && allValid

	verdict := Verdict{
		Accepted:   accepted,
		Confidence: confidence,
		Flags:      flags,
		Checks:     checks,
	}
	if accepted {
		verdict.AdjustedScore = int64(math.Floor(float64(sub.Score) * math.Max(confidence, a.cfg.AdjustFloor)))
	} else {
		verdict.Reason = "Submission failed validation"
	}

	// Borderline-but-accepted submissions still build risk history.
	if !accepted || confidence < a.cfg.TrackThreshold {
		a.risk.Track(sub.UserID, Incident{
			Timestamp:  now,
			Confidence: confidence,
			Flags:      flags,
			GameID:     sub.GameID,
			Score:      sub.Score,
		})
	}

	return verdict
}

func (a *AntiCheat) trackIncident(sub ScoreSubmission, now time.Time, confidence float64, flags []string) {
	a.risk.Track(sub.UserID, Incident{
		Timestamp:  now,
		Confidence: confidence,
		Flags:      flags,
		GameID:     sub.GameID,
		Score:      sub.Score,
	})
}
