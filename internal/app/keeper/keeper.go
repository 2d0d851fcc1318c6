// Package keeper closes rounds on a schedule. Closing is permissionless; the keeper is just
// an executor that keeps trying until the round is over and the seed is ready.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/metrics"
	"github.com/R3E-Network/prizepool/internal/app/services/lottery"
	"github.com/R3E-Network/prizepool/internal/app/system"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

var _ system.Service = (*Keeper)(nil)

// DefaultSchedule polls once a minute.
const DefaultSchedule = "@every 1m"

var ErrInvalidConfig = errors.New("invalid keeper config")

// Closer is the part of the engine the keeper drives.
type Closer interface {
	CloseRound(ctx context.Context, executor common.Address) (pool.Outcome, error)
}

// Config controls the keeper.
type Config struct {
	Schedule string         // cron spec or descriptor such as "@every 30s"
	Executor common.Address // receives the executor reward
	Timeout  time.Duration  // per attempt, 0 means 30s
}

// Keeper is a lifecycle-managed round closer.
type Keeper struct {
	closer   Closer
	schedule string
	executor common.Address
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New validates cfg and returns a stopped keeper.
func New(closer Closer, cfg Config, log *logger.Logger) (*Keeper, error) {
	if closer == nil {
		return nil, fmt.Errorf("%w: closer is required", ErrInvalidConfig)
	}
	if cfg.Executor == (common.Address{}) {
		return nil, fmt.Errorf("%w: executor address is zero", ErrInvalidConfig)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, cfg.Schedule, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("keeper")
	}
	return &Keeper{
		closer:   closer,
		schedule: cfg.Schedule,
		executor: cfg.Executor,
		timeout:  cfg.Timeout,
		log:      log,
	}, nil
}

func (k *Keeper) Name() string { return "round-keeper" }

func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	cronLog := cron.PrintfLogger(k.log)
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, err := c.AddFunc(k.schedule, func() { _, _ = k.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule keeper: %w", err)
	}
	c.Start()

	k.cron = c
	k.cancel = cancel
	k.running = true
	k.log.WithField("schedule", k.schedule).WithField("executor", k.executor.Hex()).Info("round keeper started")
	return nil
}

func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	c, cancel := k.cron, k.cancel
	k.cron, k.cancel, k.running = nil, nil, false
	k.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	k.log.Info("round keeper stopped")
	return nil
}

// Tick makes one close attempt. Retryable outcomes (round not over, seed not ready) are
// reported as errors but only logged at debug level.
func (k *Keeper) Tick(ctx context.Context) (pool.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	start := time.Now()
	outcome, err := k.closer.CloseRound(ctx, k.executor)
	result := classify(err)
	metrics.RecordCloseAttempt(result, time.Since(start))

	switch result {
	case resultClosed:
		k.log.WithField("round_id", outcome.RoundID).
			WithField("jackpot_won", outcome.JackpotWon()).
			Info("round closed")
	case resultNotOver, resultSeedNotReady:
		k.log.WithError(err).Debug("round not closeable yet")
	default:
		k.log.WithError(err).Warn("round close failed")
	}
	return outcome, err
}

const (
	resultClosed       = "closed"
	resultNotOver      = "not_over"
	resultSeedNotReady = "seed_not_ready"
	resultError        = "error"
)

func classify(err error) string {
	switch {
	case err == nil:
		return resultClosed
	case errors.Is(err, lottery.ErrRoundNotOver):
		return resultNotOver
	case errors.Is(err, lottery.ErrSeedNotReady):
		return resultSeedNotReady
	default:
		return resultError
	}
}

// Retryable reports whether err only means the round cannot be closed yet.
func Retryable(err error) bool {
	r := classify(err)
	return r == resultNotOver || r == resultSeedNotReady
}
