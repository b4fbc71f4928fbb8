package main

import (
	"fmt"
	"strings"
)

// BoundsConfig holds per-game maximum plausible scores. The ceilings are
// hand-tuned from observed play and should be recalibrated as games change.
type BoundsConfig struct {
	MaxScores  map[string]int64
	DefaultMax int64

	// Scores inside the top NearMaxFraction of the ceiling are legal but
	// rare enough to dent confidence.
	NearMaxFraction   float64
	NearMaxConfidence float64
}

// DefaultBoundsConfig returns ceilings for the launch games.
func DefaultBoundsConfig() BoundsConfig {
	return BoundsConfig{
		MaxScores: map[string]int64{
			"snake":    10000,
			"tetris":   999999,
			"breakout": 50000,
			"flappy":   1000,
			"memory":   100,
			"pong":     21,
		},
		DefaultMax:        1000000,
		NearMaxFraction:   0.05,
		NearMaxConfidence: 0.6,
	}
}

// ReasonabilityChecker rejects scores a game cannot produce. Out-of-bounds
// scores are hard gates, not confidence contributors.
type ReasonabilityChecker struct {
	cfg BoundsConfig
}

func NewReasonabilityChecker(cfg BoundsConfig) *ReasonabilityChecker {
	return &ReasonabilityChecker{cfg: cfg}
}

func (c *ReasonabilityChecker) maxFor(gameID string) int64 {
	if max, ok := c.cfg.MaxScores[gameID]; ok {
		return max
	}
	return c.cfg.DefaultMax
}

// Check validates a score against the game's ceiling.
func (c *ReasonabilityChecker) Check(gameID string, score int64) CheckResult {
	result := CheckResult{Name: CheckBounds, Valid: true, Confidence: 1.0}
	max := c.maxFor(gameID)

	switch {
	case score < 0:
		result.Valid = false
		result.Confidence = 0
		result.Flags = append(result.Flags, FlagNegativeScore)
		result.Reason = "Negative score"
	case score > max:
		result.Valid = false
		result.Confidence = 0
		result.Flags = append(result.Flags, FlagScoreTooHigh)
		result.Reason = fmt.Sprintf("Score too high for %s", gameTitle(gameID))
	case float64(score) >= float64(max)*(1-c.cfg.NearMaxFraction):
		result.Confidence = c.cfg.NearMaxConfidence
		result.Flags = append(result.Flags, FlagNearMaximum)
	}
	return result
}

func gameTitle(gameID string) string {
	if gameID == "" {
		return "unknown game"
	}
	return strings.ToUpper(gameID[:1]) + gameID[1:]
}
