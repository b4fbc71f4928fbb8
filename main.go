package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	cfg := loadConfig()

	if cfg.ScoreSecret == defaultScoreSecret {
		log.Println("WARNING: using development score secret; set SCORE_SECRET in production")
	}

	// Score persistence: Postgres or Redis when configured, otherwise
	// in-process.
	ctx := context.Background()
	var scores BestScoreStore
	switch {
	case cfg.DatabaseURL != "":
		store, err := NewPostgresScoreStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer store.Close()
		scores = store
		log.Println("score store: postgres")
	case cfg.RedisURL != "":
		store, err := NewRedisScoreStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer store.Close()
		scores = store
		log.Println("score store: redis")
	default:
		scores = NewMemoryScoreStore()
		log.Println("score store: in-memory")
	}

	risk := NewRiskTracker(DefaultRiskConfig())
	sessions := NewSessionManager(cfg.SessionTTL)

	rlCfg := DefaultRateLimitConfig()
	rlCfg.BypassKey = cfg.BypassKey
	limiter := NewRateLimiter(rlCfg)

	anticheat := NewAntiCheat(
		DefaultAntiCheatConfig(cfg.ScoreSecret),
		NewTimingAnalyzer(DefaultTimingConfig()),
		NewReasonabilityChecker(DefaultBoundsConfig()),
		NewPatternDetector(DefaultPatternConfig()),
		risk,
		sessions,
	)

	api := &API{
		anticheat: anticheat,
		sessions:  sessions,
		risk:      risk,
		limiter:   limiter,
		scores:    scores,
		adminKey:  cfg.AdminKey,
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for the browser game clients
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Player-Tier"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler)

	r.With(api.limit(PolicyGameAction)).Post("/api/game/start", api.handleGameStart)
	r.Post("/api/score/submit", api.handleSubmitScore)
	r.With(api.limit(PolicyLeaderboard)).Get("/api/leaderboard/{gameID}", api.handleLeaderboard)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(api.requireAdmin)
		r.Post("/ban", api.handleBan)
		r.Post("/unban", api.handleUnban)
		r.Get("/users/{userID}/risk", api.handleRiskProfile)
		r.Get("/stats", api.handleStats)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("score-integrity server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
