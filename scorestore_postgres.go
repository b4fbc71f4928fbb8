package main

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// PostgresScoreStore keeps best scores in a single table with keep-max
// upserts.
type PostgresScoreStore struct {
	db *sql.DB
}

// NewPostgresScoreStore opens the database and ensures the table exists.
func NewPostgresScoreStore(ctx context.Context, dsn string) (*PostgresScoreStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS best_scores (
			user_id    TEXT NOT NULL,
			game_id    TEXT NOT NULL,
			score      BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, game_id)
		)
	`); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresScoreStore{db: db}, nil
}

func (s *PostgresScoreStore) SubmitBest(ctx context.Context, userID, gameID string, score int64) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	var prev int64
	err = tx.QueryRowContext(ctx, `
		SELECT score FROM best_scores
		WHERE user_id = $1 AND game_id = $2
		FOR UPDATE
	`, userID, gameID).Scan(&prev)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO best_scores (user_id, game_id, score, updated_at)
			VALUES ($1, $2, $3, now())
		`, userID, gameID, score)
		if err != nil {
			return 0, false, err
		}
		return score, true, tx.Commit()
	case err != nil:
		return 0, false, err
	}

	if prev >= score {
		return prev, false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE best_scores
		SET score = $3, updated_at = now()
		WHERE user_id = $1 AND game_id = $2
	`, userID, gameID, score)
	if err != nil {
		return 0, false, err
	}
	return score, true, tx.Commit()
}

func (s *PostgresScoreStore) Best(ctx context.Context, userID, gameID string) (int64, error) {
	var best int64
	err := s.db.QueryRowContext(ctx, `
		SELECT score FROM best_scores WHERE user_id = $1 AND game_id = $2
	`, userID, gameID).Scan(&best)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return best, nil
}

func (s *PostgresScoreStore) TopN(ctx context.Context, gameID string, n int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, score FROM best_scores
		WHERE game_id = $1
		ORDER BY score DESC, user_id ASC
		LIMIT $2
	`, gameID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Score); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying pool.
func (s *PostgresScoreStore) Close() error {
	return s.db.Close()
}
