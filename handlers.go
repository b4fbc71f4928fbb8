package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// API bundles the handlers' dependencies.
type API struct {
	anticheat *AntiCheat
	sessions  *SessionManager
	risk      *RiskTracker
	limiter   *RateLimiter
	scores    BestScoreStore
	adminKey  string
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (api *API) isAdmin(r *http.Request) bool {
	return api.adminKey != "" && r.Header.Get("X-Admin-Key") == api.adminKey
}

type rateLimitedResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
	Remaining  int    `json:"remainingTokens"`
	MaxTokens  int    `json:"maxTokens"`
}

func writeRateLimited(w http.ResponseWriter, d LimitDecision) {
	writeJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
		Success:    false,
		Message:    "Rate limit exceeded",
		RetryAfter: d.RetryAfter.UnixMilli(),
		Remaining:  d.Remaining,
		MaxTokens:  d.Limit,
	})
}

// limit applies a fixed-window policy keyed by client IP. Callers holding
// the bypass credential or the admin role skip limiting.
func (api *API) limit(policy string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if api.limiter.Bypassed(r.Header.Get("X-RateLimit-Bypass"), api.isAdmin(r)) {
				next.ServeHTTP(w, r)
				return
			}
			d := api.limiter.Allow(policy, clientIP(r))
			if !d.Allowed {
				writeRateLimited(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr so reconnects from the same host
// share one limiter identity. RealIP already rewrote RemoteAddr (portless)
// when a trusted proxy header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func clientTier(r *http.Request) ClientTier {
	return ClientTier{
		Authenticated: r.Header.Get("Authorization") != "",
		Premium:       r.Header.Get("X-Player-Tier") == "premium",
	}
}

// GameStartRequest opens a tracked play session.
type GameStartRequest struct {
	UserID string `json:"userId"`
	GameID string `json:"gameId"`
}

func (api *API) handleGameStart(w http.ResponseWriter, r *http.Request) {
	var req GameStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.GameID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	s := api.sessions.Start(req.UserID, req.GameID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": s.ID,
		"expiresAt": s.ExpiresAt.UnixMilli(),
	})
}

// SubmitResponse is the client-facing verdict. The per-check breakdown is
// only attached for admin callers; regular clients never see the internals
// the detector keyed on.
type SubmitResponse struct {
	Accepted      bool          `json:"accepted"`
	Confidence    float64       `json:"confidence"`
	AdjustedScore int64         `json:"adjustedScore"`
	Flags         []string      `json:"flags"`
	Reason        string        `json:"reason,omitempty"`
	BestScore     int64         `json:"bestScore,omitempty"`
	NewBest       bool          `json:"newBest,omitempty"`
	Checks        []CheckResult `json:"checks,omitempty"`
}

func (api *API) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	var sub ScoreSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if !api.limiter.Bypassed(r.Header.Get("X-RateLimit-Bypass"), api.isAdmin(r)) {
		// Score submissions are the attack surface: the window is keyed on
		// both the client address and the claimed user so neither can be
		// rotated independently, and the adaptive per-user bucket applies
		// on top.
		d := api.limiter.Allow(PolicyScoreSubmit, clientIP(r)+"|"+sub.UserID+"|score")
		if !d.Allowed {
			writeRateLimited(w, d)
			return
		}
		if d := api.limiter.AllowAdaptive(sub.UserID, clientTier(r)); !d.Allowed {
			writeRateLimited(w, d)
			return
		}
	}

	verdict := api.anticheat.Evaluate(r.Context(), sub)

	resp := SubmitResponse{
		Accepted:      verdict.Accepted,
		Confidence:    verdict.Confidence,
		AdjustedScore: verdict.AdjustedScore,
		Flags:         verdict.Flags,
		Reason:        verdict.Reason,
	}

	if verdict.Accepted {
		best, improved, err := api.scores.SubmitBest(r.Context(), sub.UserID, sub.GameID, verdict.AdjustedScore)
		if err != nil {
			// The verdict stands; persistence is an external concern.
			log.Printf("score store: submit failed for %s/%s: %v", sub.UserID, sub.GameID, err)
		} else {
			resp.BestScore = best
			resp.NewBest = improved
		}
	}

	if api.isAdmin(r) {
		resp.Checks = verdict.Checks
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := api.scores.TopN(r.Context(), gameID, limit)
	if err != nil {
		log.Printf("score store: leaderboard read failed for %s: %v", gameID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Leaderboard unavailable"})
		return
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gameId":  gameID,
		"entries": entries,
	})
}

// requireAdmin gates the admin surface on the pre-shared admin key.
func (api *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !api.isAdmin(r) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BanRequest is the admin ban/unban payload.
type BanRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

func (api *API) handleBan(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	api.risk.Ban(req.UserID, req.Reason)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (api *API) handleUnban(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	api.risk.Unban(req.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (api *API) handleRiskProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, api.risk.Profile(userID))
}

func (api *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.risk.Stats())
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
