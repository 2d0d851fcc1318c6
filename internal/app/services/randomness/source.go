// Package randomness provides the per-round seed consumed by the round engine.
package randomness

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

var (
	ErrSeedNotReady = errors.New("seed not ready")
	ErrSource       = errors.New("randomness source unavailable")
)

// Source yields a finalized random seed. A seed is only usable while IsSeedReady reports
// true; the window between two seeds is SeedUpdateInterval blocks.
type Source interface {
	IsSeedReady(ctx context.Context) (bool, error)
	CurrentSeed(ctx context.Context) (*uint256.Int, error)
	SeedUpdateInterval() uint64
}

// BlockClock is implemented by sources that count blocks on their own schedule. The round
// engine's block time must match it.
type BlockClock interface {
	BlockTime() time.Duration
}

// NewSecret returns 32 bytes of crypto randomness as a seed secret.
func NewSecret() (*uint256.Int, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read randomness: %w", err)
	}
	return new(uint256.Int).SetBytes(buf), nil
}

// StaticSource returns whatever seed it was given. It backs tests and simulations.
type StaticSource struct {
	mu       sync.Mutex
	seed     *uint256.Int
	ready    bool
	interval uint64
	err      error
}

var _ Source = (*StaticSource)(nil)

// NewStaticSource returns a ready source holding seed.
func NewStaticSource(seed *uint256.Int, interval uint64) *StaticSource {
	return &StaticSource{seed: new(uint256.Int).Set(seed), ready: true, interval: interval}
}

// SetSeed replaces the seed.
func (s *StaticSource) SetSeed(seed *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = new(uint256.Int).Set(seed)
}

// SetReady toggles readiness.
func (s *StaticSource) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetInterval changes the announced seed update interval.
func (s *StaticSource) SetInterval(interval uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
}

// SetError makes every call fail with err until cleared with nil.
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) IsSeedReady(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.ready, nil
}

func (s *StaticSource) CurrentSeed(context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if !s.ready {
		return nil, ErrSeedNotReady
	}
	return new(uint256.Int).Set(s.seed), nil
}

func (s *StaticSource) SeedUpdateInterval() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
