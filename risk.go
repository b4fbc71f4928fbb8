package main

import (
	"log"
	"sync"
	"time"
)

// Incident is one suspicious submission recorded against a user.
type Incident struct {
	Timestamp  time.Time
	Confidence float64
	Flags      []string
	GameID     string
	Score      int64
}

// SuspiciousUserRecord accumulates a user's incidents and the risk score
// derived from them.
type SuspiciousUserRecord struct {
	UserID    string
	FirstSeen time.Time
	Incidents []Incident
	RiskScore int
}

// RiskConfig holds the scoring weights. The weights are hand-tuned; they are
// config so recalibration does not touch the scoring code.
type RiskConfig struct {
	RecentWindow     time.Duration
	RecentWeight     int
	SevereWeight     int
	LowConfWeight    int
	LowConfThreshold float64

	BanThreshold      int
	HighRiskThreshold int
	IncidentCap       int

	SevereFlags map[string]bool
}

// DefaultRiskConfig returns the tuned weights.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		RecentWindow:      24 * time.Hour,
		RecentWeight:      10,
		SevereWeight:      20,
		LowConfWeight:     15,
		LowConfThreshold:  0.3,
		BanThreshold:      80,
		HighRiskThreshold: 60,
		IncidentCap:       50,
		SevereFlags: map[string]bool{
			FlagUserBanned:         true,
			FlagScoreTooHigh:       true,
			FlagSessionTampering:   true,
			FlagAutomationDetected: true,
		},
	}
}

// RiskProfile is the admin-facing view of one user's standing.
type RiskProfile struct {
	UserID              string    `json:"userId"`
	IsBanned            bool      `json:"isBanned"`
	RiskScore           int       `json:"riskScore"`
	IncidentCount       int       `json:"incidentCount"`
	RecentIncidentCount int       `json:"recentIncidentCount"`
	FirstSeen           time.Time `json:"firstSeen,omitempty"`
}

// RiskStats summarizes the tracker's population.
type RiskStats struct {
	BannedUsers     int `json:"bannedUsers"`
	SuspiciousUsers int `json:"suspiciousUsers"`
	TotalIncidents  int `json:"totalIncidents"`
	HighRiskUsers   int `json:"highRiskUsers"`
}

// RiskTracker aggregates per-user incidents into a decaying risk score and
// bans users who cross the threshold. One instance owns all risk state for
// the process; it is injected, never global.
type RiskTracker struct {
	mu      sync.Mutex
	cfg     RiskConfig
	records map[string]*SuspiciousUserRecord
	banned  map[string]bool

	now func() time.Time
}

func NewRiskTracker(cfg RiskConfig) *RiskTracker {
	return &RiskTracker{
		cfg:     cfg,
		records: make(map[string]*SuspiciousUserRecord),
		banned:  make(map[string]bool),
		now:     time.Now,
	}
}

// Track appends an incident to the user's record, recomputes the risk score,
// and auto-bans past the threshold. The ban takes effect before Track
// returns.
func (r *RiskTracker) Track(userID string, inc Incident) {
	if userID == "" {
		return
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		rec = &SuspiciousUserRecord{UserID: userID, FirstSeen: inc.Timestamp}
		r.records[userID] = rec
	}

	rec.Incidents = append(rec.Incidents, inc)
	if len(rec.Incidents) > r.cfg.IncidentCap {
		rec.Incidents = rec.Incidents[len(rec.Incidents)-r.cfg.IncidentCap:]
	}

	rec.RiskScore = r.scoreLocked(rec)

	if rec.RiskScore > r.cfg.BanThreshold && !r.banned[userID] {
		r.banned[userID] = true
		log.Printf("risk: auto-banned user %s (risk score %d)", userID, rec.RiskScore)
	}
}

// scoreLocked recomputes the risk score from the incident list: recency,
// severe flags, and low-confidence incidents each add weight. Clamped to
// [0, 100]. Caller holds r.mu.
func (r *RiskTracker) scoreLocked(rec *SuspiciousUserRecord) int {
	cutoff := r.now().Add(-r.cfg.RecentWindow)
	score := 0
	for _, inc := range rec.Incidents {
		if inc.Timestamp.After(cutoff) {
			score += r.cfg.RecentWeight
		}
		for _, f := range inc.Flags {
			if r.cfg.SevereFlags[f] {
				score += r.cfg.SevereWeight
				break
			}
		}
		if inc.Confidence < r.cfg.LowConfThreshold {
			score += r.cfg.LowConfWeight
		}
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// IsBanned reports whether the user is currently banned.
func (r *RiskTracker) IsBanned(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.banned[userID]
}

// Ban bans a user by admin action.
func (r *RiskTracker) Ban(userID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.banned[userID] {
		r.banned[userID] = true
		log.Printf("risk: banned user %s: %s", userID, reason)
	}
}

// Unban lifts a ban and clears the suspicious record. This is a deliberate
// reset to zero, not partial forgiveness: an admin who unbans vouches for
// the user.
func (r *RiskTracker) Unban(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banned, userID)
	delete(r.records, userID)
	log.Printf("risk: unbanned user %s", userID)
}

// Profile returns the user's current standing. Read-only: calling it twice
// without an intervening Track returns identical output.
func (r *RiskTracker) Profile(userID string) RiskProfile {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := RiskProfile{UserID: userID, IsBanned: r.banned[userID]}
	rec, ok := r.records[userID]
	if !ok {
		return p
	}

	p.RiskScore = rec.RiskScore
	p.IncidentCount = len(rec.Incidents)
	p.FirstSeen = rec.FirstSeen

	cutoff := r.now().Add(-r.cfg.RecentWindow)
	for _, inc := range rec.Incidents {
		if inc.Timestamp.After(cutoff) {
			p.RecentIncidentCount++
		}
	}
	return p
}

// Stats summarizes all tracked users.
func (r *RiskTracker) Stats() RiskStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RiskStats{
		BannedUsers:     len(r.banned),
		SuspiciousUsers: len(r.records),
	}
	for _, rec := range r.records {
		stats.TotalIncidents += len(rec.Incidents)
		if rec.RiskScore >= r.cfg.HighRiskThreshold {
			stats.HighRiskUsers++
		}
	}
	return stats
}
