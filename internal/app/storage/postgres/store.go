package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- RoundStore -------------------------------------------------------------

func (s *Store) SaveRound(ctx context.Context, outcome pool.Outcome) (pool.RoundRecord, error) {
	rec := pool.RoundRecord{
		ID:        uuid.NewString(),
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return pool.RoundRecord{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prizepool_rounds (id, round_id, jackpot_won, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, int64(outcome.RoundID), outcome.JackpotWon(), outcomeJSON, rec.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return pool.RoundRecord{}, fmt.Errorf("round %d: %w", outcome.RoundID, storage.ErrConflict)
		}
		return pool.RoundRecord{}, err
	}
	return rec, nil
}

func (s *Store) GetRound(ctx context.Context, roundID uint64) (pool.RoundRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, outcome, created_at
		FROM prizepool_rounds
		WHERE round_id = $1
	`, int64(roundID))

	rec, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pool.RoundRecord{}, fmt.Errorf("round %d: %w", roundID, storage.ErrNotFound)
	}
	return rec, err
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]pool.RoundRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outcome, created_at
		FROM prizepool_rounds
		ORDER BY round_id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pool.RoundRecord
	for rows.Next() {
		rec, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- StateStore -------------------------------------------------------------

func (s *Store) SaveState(ctx context.Context, state pool.EngineState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prizepool_engine_state (id, seq, round_id, state, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET seq = EXCLUDED.seq, round_id = EXCLUDED.round_id, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
		WHERE prizepool_engine_state.seq < EXCLUDED.seq
	`, int64(state.Seq), int64(state.RoundID), stateJSON, time.Now().UTC())
	return err
}

func (s *Store) LoadState(ctx context.Context) (pool.EngineState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state
		FROM prizepool_engine_state
		WHERE id = 1
	`)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pool.EngineState{}, fmt.Errorf("engine state: %w", storage.ErrNotFound)
		}
		return pool.EngineState{}, err
	}
	var state pool.EngineState
	if err := json.Unmarshal(raw, &state); err != nil {
		return pool.EngineState{}, fmt.Errorf("decode engine state: %w", err)
	}
	return state, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(row scanner) (pool.RoundRecord, error) {
	var (
		rec pool.RoundRecord
		raw []byte
	)
	if err := row.Scan(&rec.ID, &raw, &rec.CreatedAt); err != nil {
		return pool.RoundRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Outcome); err != nil {
		return pool.RoundRecord{}, fmt.Errorf("decode round %s: %w", rec.ID, err)
	}
	return rec, nil
}
