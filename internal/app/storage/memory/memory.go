package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/storage"
	"github.com/R3E-Network/prizepool/pkg/sortition"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	rounds map[uint64]pool.RoundRecord
	state  *pool.EngineState
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID: 1,
		rounds: make(map[uint64]pool.RoundRecord),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return strconv.FormatInt(id, 10)
}

// RoundStore implementation --------------------------------------------------

func (s *Store) SaveRound(_ context.Context, outcome pool.Outcome) (pool.RoundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[outcome.RoundID]; exists {
		return pool.RoundRecord{}, fmt.Errorf("round %d: %w", outcome.RoundID, storage.ErrConflict)
	}
	rec := pool.RoundRecord{
		ID:        s.nextIDLocked(),
		Outcome:   cloneOutcome(outcome),
		CreatedAt: time.Now().UTC(),
	}
	s.rounds[outcome.RoundID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) GetRound(_ context.Context, roundID uint64) (pool.RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rounds[roundID]
	if !ok {
		return pool.RoundRecord{}, fmt.Errorf("round %d: %w", roundID, storage.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]pool.RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	ids := make([]uint64, 0, len(s.rounds))
	for id := range s.rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]pool.RoundRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRecord(s.rounds[id]))
	}
	return out, nil
}

// StateStore implementation --------------------------------------------------

func (s *Store) SaveState(_ context.Context, state pool.EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil && state.Seq <= s.state.Seq {
		return nil
	}
	c := cloneState(state)
	s.state = &c
	return nil
}

func (s *Store) LoadState(_ context.Context) (pool.EngineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return pool.EngineState{}, fmt.Errorf("engine state: %w", storage.ErrNotFound)
	}
	return cloneState(*s.state), nil
}

func cloneRecord(rec pool.RoundRecord) pool.RoundRecord {
	rec.Outcome = cloneOutcome(rec.Outcome)
	return rec
}

func cloneOutcome(o pool.Outcome) pool.Outcome {
	o.Seed = cloneInt(o.Seed)
	o.Fee = cloneInt(o.Fee)
	o.JackpotShare = cloneInt(o.JackpotShare)
	o.ExecutorReward = cloneInt(o.ExecutorReward)
	o.JackpotPrize = cloneInt(o.JackpotPrize)
	o.Winners = append([]common.Address(nil), o.Winners...)
	prizes := make([]*uint256.Int, len(o.Prizes))
	for i, p := range o.Prizes {
		prizes[i] = cloneInt(p)
	}
	o.Prizes = prizes
	return o
}

func cloneState(st pool.EngineState) pool.EngineState {
	st.Jackpot = cloneInt(st.Jackpot)
	leaves := make([]sortition.Leaf, len(st.Layout.Leaves))
	for i, l := range st.Layout.Leaves {
		leaves[i] = sortition.Leaf{Key: l.Key, Weight: cloneInt(l.Weight)}
	}
	st.Layout = sortition.Layout{Leaves: leaves, Free: append([]int(nil), st.Layout.Free...)}
	return st
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}
