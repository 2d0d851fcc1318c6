// Package params holds the administrator-controlled parameter set consumed by the round engine.
package params

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUnauthorized     = errors.New("caller is not the admin")
)

// Set is one complete parameter set. Fractions are 18-decimal fixed point, pool.One is 100%.
type Set struct {
	RoundDuration time.Duration
	BlockTime     time.Duration
	MinDeposit    *uint256.Int
	MaxDeposit    *uint256.Int
	// PrizeSizes are the named tiers. The last tier, the remainder, is implicit.
	PrizeSizes    []*uint256.Int
	Fee           *uint256.Int
	FeeReceiver   common.Address
	JackpotShare  *uint256.Int
	JackpotChance *uint256.Int
	ExecutorShare *uint256.Int
}

// Tiers returns the number of prize tiers including the remainder tier.
func (s Set) Tiers() int {
	return len(s.PrizeSizes) + 1
}

// Clone returns a deep copy.
func (s Set) Clone() Set {
	c := s
	c.MinDeposit = clone(s.MinDeposit)
	c.MaxDeposit = clone(s.MaxDeposit)
	c.Fee = clone(s.Fee)
	c.JackpotShare = clone(s.JackpotShare)
	c.JackpotChance = clone(s.JackpotChance)
	c.ExecutorShare = clone(s.ExecutorShare)
	c.PrizeSizes = make([]*uint256.Int, len(s.PrizeSizes))
	for i, p := range s.PrizeSizes {
		c.PrizeSizes[i] = clone(p)
	}
	return c
}

// Validate checks every field and the cross-field constraints.
func (s Set) Validate() error {
	switch {
	case s.RoundDuration <= 0:
		return fmt.Errorf("%w: round duration must be positive", ErrInvalidParameter)
	case s.BlockTime <= 0:
		return fmt.Errorf("%w: block time must be positive", ErrInvalidParameter)
	case s.MinDeposit == nil || s.MaxDeposit == nil:
		return fmt.Errorf("%w: deposit bounds are required", ErrInvalidParameter)
	case s.MinDeposit.Gt(s.MaxDeposit):
		return fmt.Errorf("%w: min deposit %s exceeds max deposit %s", ErrInvalidParameter,
			pool.FormatAmount(s.MinDeposit), pool.FormatAmount(s.MaxDeposit))
	case s.FeeReceiver == (common.Address{}):
		return fmt.Errorf("%w: fee receiver is required", ErrInvalidParameter)
	}

	prizes := new(uint256.Int)
	for i, p := range s.PrizeSizes {
		if p == nil || p.Gt(pool.One) {
			return fmt.Errorf("%w: prize size %d must be within [0, 1]", ErrInvalidParameter, i)
		}
		prizes.Add(prizes, p)
	}
	if prizes.Gt(pool.One) {
		return fmt.Errorf("%w: prize sizes sum to %s", ErrInvalidParameter, pool.FormatAmount(prizes))
	}

	shares := new(uint256.Int)
	for _, f := range []struct {
		name string
		v    *uint256.Int
	}{{"fee", s.Fee}, {"jackpot share", s.JackpotShare}, {"executor share", s.ExecutorShare}} {
		if f.v == nil || !f.v.Lt(pool.One) {
			return fmt.Errorf("%w: %s must be within [0, 1)", ErrInvalidParameter, f.name)
		}
		shares.Add(shares, f.v)
	}
	if !shares.Lt(pool.One) {
		return fmt.Errorf("%w: fee, jackpot share and executor share sum to %s", ErrInvalidParameter,
			pool.FormatAmount(shares))
	}

	if s.JackpotChance == nil || s.JackpotChance.Gt(pool.One) {
		return fmt.Errorf("%w: jackpot chance must be within [0, 1]", ErrInvalidParameter)
	}
	return nil
}

// Store keeps the current set. Reads are free; updates are reserved to the admin.
type Store struct {
	mu      sync.RWMutex
	admin   common.Address
	current Set
	log     *logger.Logger
}

// NewStore validates the initial set and returns a store owned by admin.
func NewStore(admin common.Address, initial Set, log *logger.Logger) (*Store, error) {
	if admin == (common.Address{}) {
		return nil, fmt.Errorf("%w: admin is required", ErrInvalidParameter)
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault("params")
	}
	return &Store{admin: admin, current: initial.Clone(), log: log}, nil
}

// Current returns a copy of the active set.
func (s *Store) Current() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Admin returns the current admin.
func (s *Store) Admin() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin
}

// Update replaces the active set.
func (s *Store) Update(ctx context.Context, caller common.Address, set Set) error {
	return s.UpdateIf(ctx, caller, set, nil)
}

// UpdateIf replaces the active set after check accepts it. check runs under the store lock
// after field validation.
func (s *Store) UpdateIf(_ context.Context, caller common.Address, set Set, check func(Set) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return ErrUnauthorized
	}
	if err := set.Validate(); err != nil {
		return err
	}
	if check != nil {
		if err := check(set); err != nil {
			return err
		}
	}
	s.current = set.Clone()

	s.log.WithField("caller", caller.Hex()).
		WithField("round_duration", set.RoundDuration.String()).
		WithField("tiers", set.Tiers()).
		Info("parameters updated")
	return nil
}

// TransferAdmin hands admin rights to next.
func (s *Store) TransferAdmin(_ context.Context, caller, next common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return ErrUnauthorized
	}
	if next == (common.Address{}) {
		return fmt.Errorf("%w: admin is required", ErrInvalidParameter)
	}
	s.admin = next
	s.log.WithField("admin", next.Hex()).Info("admin transferred")
	return nil
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}
