package main

import "time"

// TimingConfig holds the session-duration plausibility thresholds. They are
// global policy values today; a per-game table would slot in here.
type TimingConfig struct {
	MinDuration time.Duration
	MaxDuration time.Duration

	NoDataConfidence  float64
	TooFastConfidence float64
	TooLongConfidence float64
}

// DefaultTimingConfig returns the tuned thresholds.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		MinDuration:       5 * time.Second,
		MaxDuration:       time.Hour,
		NoDataConfidence:  0.8,
		TooFastConfidence: 0.3,
		TooLongConfidence: 0.7,
	}
}

// TimingAnalyzer flags sessions too short or too long to have produced a
// real score. Timing anomalies are soft signals: they lower confidence but
// never reject on their own.
type TimingAnalyzer struct {
	cfg TimingConfig
}

func NewTimingAnalyzer(cfg TimingConfig) *TimingAnalyzer {
	return &TimingAnalyzer{cfg: cfg}
}

// Analyze inspects the reported session duration in milliseconds. A zero
// duration means the client sent none; that is suspicious but not
// disqualifying.
func (t *TimingAnalyzer) Analyze(durationMs int64) CheckResult {
	result := CheckResult{Name: CheckTiming, Valid: true, Confidence: 1.0}

	if durationMs <= 0 {
		result.Confidence = t.cfg.NoDataConfidence
		result.Flags = append(result.Flags, FlagNoTimingData)
		return result
	}

	duration := time.Duration(durationMs) * time.Millisecond
	switch {
	case duration < t.cfg.MinDuration:
		result.Confidence = t.cfg.TooFastConfidence
		result.Flags = append(result.Flags, FlagTooFast)
	case duration > t.cfg.MaxDuration:
		result.Confidence = t.cfg.TooLongConfidence
		result.Flags = append(result.Flags, FlagTooLong)
	}
	return result
}
