package randomness

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/R3E-Network/prizepool/pkg/sortition"
)

// PhaseSource simulates a commit/reveal randomness beacon counted in blocks.
//
// Block height advances every BlockTime from Genesis. A cycle is Interval commit blocks
// followed by Interval reveal blocks. The seed produced by cycle n is keccak256(secret, n);
// it becomes final once the reveal phase of cycle n ends and is readable during the commit
// phase of cycle n+1. During a reveal phase no seed is ready.
type PhaseSource struct {
	clock     clockwork.Clock
	genesis   time.Time
	blockTime time.Duration
	interval  uint64
	secret    *uint256.Int
}

var (
	_ Source     = (*PhaseSource)(nil)
	_ BlockClock = (*PhaseSource)(nil)
)

// PhaseConfig configures a PhaseSource.
type PhaseConfig struct {
	Clock     clockwork.Clock
	Genesis   time.Time
	BlockTime time.Duration
	Interval  uint64
	Secret    *uint256.Int // random when nil
}

// NewPhaseSource validates cfg and returns the source.
func NewPhaseSource(cfg PhaseConfig) (*PhaseSource, error) {
	if cfg.BlockTime <= 0 {
		return nil, fmt.Errorf("block time must be positive")
	}
	if cfg.Interval == 0 {
		return nil, fmt.Errorf("seed update interval must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Genesis.IsZero() {
		cfg.Genesis = cfg.Clock.Now()
	}
	secret := cfg.Secret
	if secret == nil {
		var err error
		if secret, err = NewSecret(); err != nil {
			return nil, err
		}
	}
	return &PhaseSource{
		clock:     cfg.Clock,
		genesis:   cfg.Genesis,
		blockTime: cfg.BlockTime,
		interval:  cfg.Interval,
		secret:    new(uint256.Int).Set(secret),
	}, nil
}

// Block returns the current simulated block height.
func (p *PhaseSource) Block() uint64 {
	elapsed := p.clock.Since(p.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / p.blockTime)
}

// position returns the current cycle and whether it is in its commit phase.
func (p *PhaseSource) position() (cycle uint64, commit bool) {
	h := p.Block()
	length := 2 * p.interval
	return h / length, h%length < p.interval
}

func (p *PhaseSource) IsSeedReady(context.Context) (bool, error) {
	cycle, commit := p.position()
	return commit && cycle > 0, nil
}

func (p *PhaseSource) CurrentSeed(ctx context.Context) (*uint256.Int, error) {
	ready, _ := p.IsSeedReady(ctx)
	if !ready {
		return nil, ErrSeedNotReady
	}
	cycle, _ := p.position()
	return sortition.DeriveSeed(p.secret, cycle-1), nil
}

func (p *PhaseSource) SeedUpdateInterval() uint64 {
	return p.interval
}

// BlockTime returns the spacing of simulated blocks.
func (p *PhaseSource) BlockTime() time.Duration {
	return p.blockTime
}
