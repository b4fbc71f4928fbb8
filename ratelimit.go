package main

import (
	"math"
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm. Tokens refill lazily on
// access at a steady rate up to capacity, so no background timer is needed.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	fillRate   float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity, fillRate float64) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		fillRate:   fillRate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Take consumes n tokens, refilling first. Returns false without consuming
// anything if fewer than n tokens are available.
func (b *TokenBucket) Take(n float64) bool {
	return b.takeAt(n, time.Now())
}

func (b *TokenBucket) takeAt(n float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.fillRate)
		b.lastRefill = now
	}
	b.lastUsed = now

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Remaining reports the current token count without consuming.
func (b *TokenBucket) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// resize adjusts capacity and fill rate in place, clamping the stored tokens
// to the new capacity.
func (b *TokenBucket) resize(capacity, fillRate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	b.fillRate = fillRate
	if b.tokens > capacity {
		b.tokens = capacity
	}
}

func (b *TokenBucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed.Before(cutoff)
}

// LimitPolicy is a fixed-window limit: at most Max requests per Window.
type LimitPolicy struct {
	Max    int
	Window time.Duration
}

// Endpoint policy names. Score submission is the attack surface and gets the
// tightest window.
const (
	PolicyAuth        = "auth"
	PolicyGameAction  = "game-action"
	PolicyLeaderboard = "leaderboard"
	PolicyScoreSubmit = "score-submit"
	PolicyUpload      = "upload"
)

// DefaultPolicies returns the per-endpoint fixed-window limits.
func DefaultPolicies() map[string]LimitPolicy {
	return map[string]LimitPolicy{
		PolicyAuth:        {Max: 5, Window: 15 * time.Minute},
		PolicyGameAction:  {Max: 60, Window: time.Minute},
		PolicyLeaderboard: {Max: 200, Window: time.Minute},
		PolicyScoreSubmit: {Max: 10, Window: 5 * time.Minute},
		PolicyUpload:      {Max: 10, Window: 60 * time.Minute},
	}
}

// LimitDecision is the outcome of a rate limit check. RetryAfter is only
// meaningful when Allowed is false.
type LimitDecision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Time
}

// ClientTier scales the adaptive per-identity limit.
type ClientTier struct {
	Authenticated bool
	Premium       bool
}

// RateLimitConfig bundles the limiter's tunables.
type RateLimitConfig struct {
	Policies map[string]LimitPolicy

	// Adaptive per-identity bucket. Base is tokens per AdaptiveWindow for an
	// anonymous caller; premium callers get 5x, authenticated 2x.
	AdaptiveBase    int
	AdaptiveWindow  time.Duration
	AdaptiveMin     int
	PremiumFactor   int
	AuthFactor      int
	LoadScaleFactor float64

	// Entries untouched for IdleTTL are dropped by the sweep.
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// BypassKey lets privileged infrastructure skip limiting entirely. It is
	// an operational escape hatch, not a security boundary, and must be
	// handled with the same care as the signing secret.
	BypassKey string
}

// DefaultRateLimitConfig returns production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Policies:        DefaultPolicies(),
		AdaptiveBase:    60,
		AdaptiveWindow:  time.Minute,
		AdaptiveMin:     10,
		PremiumFactor:   5,
		AuthFactor:      2,
		LoadScaleFactor: 0.5,
		IdleTTL:         time.Hour,
		SweepInterval:   30 * time.Minute,
	}
}

type fixedWindow struct {
	start    time.Time
	count    int
	lastUsed time.Time
}

// RateLimiter combines fixed-window endpoint policies with an adaptive
// per-identity token bucket. State is keyed by identity (IP or userId); keys
// never share counters.
type RateLimiter struct {
	mu      sync.RWMutex
	cfg     RateLimitConfig
	windows map[string]*fixedWindow
	buckets map[string]*TokenBucket

	loadMu sync.RWMutex
	load   float64 // normalized 0-1 host load

	now func() time.Time
}

// NewRateLimiter creates a limiter and starts its idle sweep.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	rl := &RateLimiter{
		cfg:     cfg,
		windows: make(map[string]*fixedWindow),
		buckets: make(map[string]*TokenBucket),
		now:     time.Now,
	}
	if cfg.SweepInterval > 0 {
		go rl.sweepLoop()
	}
	return rl
}

// Bypassed reports whether the caller presented the pre-shared bypass
// credential or holds the admin role.
func (rl *RateLimiter) Bypassed(credential string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	return rl.cfg.BypassKey != "" && credential == rl.cfg.BypassKey
}

// SetLoad records the host's recent load metric (0-1). Under load the
// adaptive limit shrinks toward AdaptiveMin.
func (rl *RateLimiter) SetLoad(load float64) {
	if load < 0 {
		load = 0
	} else if load > 1 {
		load = 1
	}
	rl.loadMu.Lock()
	rl.load = load
	rl.loadMu.Unlock()
}

func (rl *RateLimiter) currentLoad() float64 {
	rl.loadMu.RLock()
	defer rl.loadMu.RUnlock()
	return rl.load
}

// Allow checks the fixed-window policy named by policy for the given
// identity. Unknown policy names always allow; misconfiguration must not
// turn into an outage.
func (rl *RateLimiter) Allow(policy, identity string) LimitDecision {
	p, ok := rl.cfg.Policies[policy]
	if !ok || p.Max <= 0 {
		return LimitDecision{Allowed: true}
	}

	now := rl.now()
	key := policy + ":" + identity

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= p.Window {
		w = &fixedWindow{start: now}
		rl.windows[key] = w
	}
	w.lastUsed = now

	if w.count >= p.Max {
		return LimitDecision{
			Allowed:    false,
			Remaining:  0,
			Limit:      p.Max,
			RetryAfter: w.start.Add(p.Window),
		}
	}
	w.count++
	return LimitDecision{Allowed: true, Remaining: p.Max - w.count, Limit: p.Max}
}

// effectiveLimit computes the adaptive cap for a tier under current load:
// base scaled up by tier, then max(AdaptiveMin, floor(scaled*(1-load*0.5))).
func (rl *RateLimiter) effectiveLimit(tier ClientTier) int {
	limit := rl.cfg.AdaptiveBase
	if tier.Premium {
		limit *= rl.cfg.PremiumFactor
	} else if tier.Authenticated {
		limit *= rl.cfg.AuthFactor
	}
	load := rl.currentLoad()
	scaled := int(math.Floor(float64(limit) * (1 - load*rl.cfg.LoadScaleFactor)))
	if scaled < rl.cfg.AdaptiveMin {
		scaled = rl.cfg.AdaptiveMin
	}
	return scaled
}

// AllowAdaptive checks the per-identity token bucket, sized for the caller's
// tier and the current host load.
func (rl *RateLimiter) AllowAdaptive(identity string, tier ClientTier) LimitDecision {
	limit := rl.effectiveLimit(tier)
	capacity := float64(limit)
	fillRate := capacity / rl.cfg.AdaptiveWindow.Seconds()

	rl.mu.RLock()
	bucket, ok := rl.buckets[identity]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if bucket, ok = rl.buckets[identity]; !ok {
			bucket = NewTokenBucket(capacity, fillRate)
			rl.buckets[identity] = bucket
		}
		rl.mu.Unlock()
	}

	// Tier or load may have changed since the bucket was created.
	bucket.resize(capacity, fillRate)

	now := rl.now()
	if !bucket.takeAt(1, now) {
		deficit := 1 - bucket.Remaining()
		wait := time.Duration(deficit / fillRate * float64(time.Second))
		return LimitDecision{
			Allowed:    false,
			Remaining:  int(bucket.Remaining()),
			Limit:      limit,
			RetryAfter: now.Add(wait),
		}
	}
	return LimitDecision{Allowed: true, Remaining: int(bucket.Remaining()), Limit: limit}
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.SweepInterval)
	for range ticker.C {
		rl.sweep()
	}
}

// sweep drops buckets and windows idle for longer than IdleTTL. This bounds
// memory under sustained traffic from churning identities.
func (rl *RateLimiter) sweep() {
	cutoff := rl.now().Add(-rl.cfg.IdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if w.lastUsed.Before(cutoff) {
			delete(rl.windows, key)
		}
	}
	for key, b := range rl.buckets {
		if b.idleSince(cutoff) {
			delete(rl.buckets, key)
		}
	}
}
