package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS prizepool_rounds (
		id          TEXT PRIMARY KEY,
		round_id    BIGINT NOT NULL UNIQUE,
		jackpot_won BOOLEAN NOT NULL DEFAULT FALSE,
		outcome     JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS prizepool_rounds_jackpot_idx ON prizepool_rounds (round_id) WHERE jackpot_won`,
	`CREATE TABLE IF NOT EXISTS prizepool_engine_state (
		id         SMALLINT PRIMARY KEY CHECK (id = 1),
		round_id   BIGINT NOT NULL,
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE prizepool_engine_state ADD COLUMN IF NOT EXISTS seq BIGINT NOT NULL DEFAULT 0`,
}

// Migrate creates the tables used by Store. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
