package main

import "sync"

// PatternConfig holds the heuristics applied to a user's recent scores in a
// game. Values were tuned by hand against live traffic; treat them as policy,
// not ground truth.
type PatternConfig struct {
	HistoryCap   int // entries kept per (user, game)
	MinSamples   int // below this, no judgement
	RecentWindow int // samples examined per submission

	JumpFactor         float64 // sudden-improvement multiplier over recent max
	PerfectRepeat      int     // max-score repeats before flagging
	VariancePlateau    float64 // variance below this is suspicious
	VarianceMinSamples int

	JumpPenalty     float64
	PerfectPenalty  float64
	VariancePenalty float64

	ValidityCutoff float64 // confidence below this flips Valid off
}

// DefaultPatternConfig returns the tuned heuristics.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		HistoryCap:         50,
		MinSamples:         3,
		RecentWindow:       10,
		JumpFactor:         3,
		PerfectRepeat:      5,
		VariancePlateau:    10,
		VarianceMinSamples: 5,
		JumpPenalty:        0.3,
		PerfectPenalty:     0.2,
		VariancePenalty:    0.4,
		ValidityCutoff:     0.4,
	}
}

// PatternDetector keeps a bounded FIFO of each user's recent scores per game
// and flags jumps, zero-variance runs, and repeated maxima. It learns from
// every submission, accepted or not.
type PatternDetector struct {
	mu      sync.Mutex
	cfg     PatternConfig
	history map[string][]int64
}

func NewPatternDetector(cfg PatternConfig) *PatternDetector {
	return &PatternDetector{
		cfg:     cfg,
		history: make(map[string][]int64),
	}
}

func historyKey(userID, gameID string) string {
	return userID + "|" + gameID
}

// Detect evaluates the score against the user's history for the game, then
// records it unconditionally. With too few prior samples it passes.
func (d *PatternDetector) Detect(userID, gameID string, score int64) CheckResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := CheckResult{Name: CheckPatterns, Valid: true, Confidence: 1.0}
	key := historyKey(userID, gameID)
	prior := d.history[key]

	if len(prior) >= d.cfg.MinSamples {
		recent := prior
		if len(recent) > d.cfg.RecentWindow {
			recent = recent[len(recent)-d.cfg.RecentWindow:]
		}

		recentMax := recent[0]
		for _, s := range recent {
			if s > recentMax {
				recentMax = s
			}
		}
		runningMax := prior[0]
		for _, s := range prior {
			if s > runningMax {
				runningMax = s
			}
		}

		if float64(score) > d.cfg.JumpFactor*float64(recentMax) {
			result.Confidence -= d.cfg.JumpPenalty
			result.Flags = append(result.Flags, FlagSuddenImprovement)
		}

		atMax := 0
		for _, s := range recent {
			if s == runningMax {
				atMax++
			}
		}
		if atMax > d.cfg.PerfectRepeat && score == runningMax {
			result.Confidence -= d.cfg.PerfectPenalty
			result.Flags = append(result.Flags, FlagConsistentPerfect)
		}

		if len(recent) > d.cfg.VarianceMinSamples && variance(recent) < d.cfg.VariancePlateau {
			result.Confidence -= d.cfg.VariancePenalty
			result.Flags = append(result.Flags, FlagZeroVariance)
		}

		if result.Confidence < 0 {
			result.Confidence = 0
		}
		result.Valid = result.Confidence >= d.cfg.ValidityCutoff
		if !result.Valid {
			result.Reason = "Suspicious score pattern"
		}
	}

	d.record(key, score)
	return result
}

// HistoryLen reports the number of stored samples for a (user, game) pair.
func (d *PatternDetector) HistoryLen(userID, gameID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history[historyKey(userID, gameID)])
}

// record appends under the held lock, evicting oldest-first past the cap.
func (d *PatternDetector) record(key string, score int64) {
	h := append(d.history[key], score)
	if len(h) > d.cfg.HistoryCap {
		h = h[len(h)-d.cfg.HistoryCap:]
	}
	d.history[key] = h
}

func variance(samples []int64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		diff := float64(s) - mean
		sq += diff * diff
	}
	return sq / float64(len(samples))
}
