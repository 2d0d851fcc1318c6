package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// RoundStore persists the outcomes of closed rounds.
type RoundStore interface {
	SaveRound(ctx context.Context, outcome pool.Outcome) (pool.RoundRecord, error)
	GetRound(ctx context.Context, roundID uint64) (pool.RoundRecord, error)
	// ListRounds returns the most recent rounds first.
	ListRounds(ctx context.Context, limit int) ([]pool.RoundRecord, error)
}

// StateStore persists the engine snapshot used to resume after a restart. SaveState keeps
// the state with the highest Seq; an older state arriving late is ignored without error.
type StateStore interface {
	SaveState(ctx context.Context, state pool.EngineState) error
	LoadState(ctx context.Context) (pool.EngineState, error)
}

// Store is the full persistence surface.
type Store interface {
	RoundStore
	StateStore
}

// DefaultListLimit caps ListRounds when the caller passes no limit.
const DefaultListLimit = 50
