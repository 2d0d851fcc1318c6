// Package lottery runs the prize pool rounds: it gates deposits and withdrawals around the
// lock window and closes rounds by drawing winners and paying the reward split.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/services/custody"
	"github.com/R3E-Network/prizepool/internal/app/services/ledger"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
	"github.com/R3E-Network/prizepool/internal/app/services/randomness"
	"github.com/R3E-Network/prizepool/pkg/logger"
	"github.com/R3E-Network/prizepool/pkg/sortition"
)

// Errors
var (
	ErrLocked             = errors.New("round is locked")
	ErrRoundNotOver       = errors.New("round is not over")
	ErrSeedNotReady       = randomness.ErrSeedNotReady
	ErrTransferFailed     = custody.ErrTransferFailed
	ErrInvariantViolation = errors.New("invariant violation")
	ErrInvalidExecutor    = errors.New("executor address is zero")
	ErrInvalidState       = errors.New("invalid engine state")
)

const (
	jackpotTriggerLabel = "jackpot"
	jackpotWinnerLabel  = "jackpot-winner"
)

// Config wires the engine to its collaborators.
type Config struct {
	Params  *params.Store
	Source  randomness.Source
	Custody custody.Custody
	Events  EventSink
	Clock   clockwork.Clock
	Logger  *logger.Logger
}

// Engine is the round state machine. Every public method runs under one mutex, so the
// engine applies operations in a strict order.
type Engine struct {
	mu        sync.Mutex
	params    *params.Store
	source    randomness.Source
	custody   custody.Custody
	events    EventSink
	clock     clockwork.Clock
	log       *logger.Logger
	ledger    *ledger.Ledger
	roundID   uint64
	startedAt time.Time
	jackpot   *uint256.Int
	seq       uint64

	// interval is the last seed update interval whose lock window fit the round.
	interval uint64
	ignored  uint64
}

// New constructs an engine opening round 1 at the current clock time.
func New(cfg Config) (*Engine, error) {
	if cfg.Params == nil || cfg.Source == nil || cfg.Custody == nil {
		return nil, fmt.Errorf("lottery: params, randomness source and custody are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("lottery")
	}
	if cfg.Events == nil {
		cfg.Events = MultiSink{}
	}
	e := &Engine{
		params:    cfg.Params,
		source:    cfg.Source,
		custody:   cfg.Custody,
		events:    cfg.Events,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		ledger:    ledger.New(),
		roundID:   1,
		startedAt: cfg.Clock.Now(),
		jackpot:   new(uint256.Int),
		interval:  cfg.Source.SeedUpdateInterval(),
	}
	if err := e.checkSchedule(cfg.Params.Current(), e.interval); err != nil {
		return nil, err
	}
	return e, nil
}

// Deposit moves amount from the participant into the pool.
func (e *Engine) Deposit(ctx context.Context, participant common.Address, amount *uint256.Int) error {
	ev, err := e.deposit(ctx, participant, amount)
	if err != nil {
		return err
	}
	e.publish(ctx, ev)
	return nil
}

func (e *Engine) deposit(ctx context.Context, participant common.Address, amount *uint256.Int) (pool.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set := e.params.Current()
	if err := e.ensureOpen(set); err != nil {
		return pool.Event{}, err
	}
	if _, err := e.ledger.CheckDeposit(participant, amount, bounds(set)); err != nil {
		return pool.Event{}, err
	}
	if err := e.custody.Receive(ctx, participant, amount); err != nil {
		return pool.Event{}, fmt.Errorf("receive deposit: %w", err)
	}
	if err := e.ledger.Deposit(participant, amount, bounds(set)); err != nil {
		return pool.Event{}, fmt.Errorf("%w: deposit after receive: %v", ErrInvariantViolation, err)
	}

	e.log.WithField("round_id", e.roundID).
		WithField("participant", participant.Hex()).
		WithField("amount", pool.FormatAmount(amount)).
		Debug("deposit accepted")
	return e.commit(e.balanceEvent(pool.EventDeposited, participant, amount)), nil
}

// Withdraw pays amount back to the participant.
func (e *Engine) Withdraw(ctx context.Context, participant common.Address, amount *uint256.Int) error {
	ev, err := e.withdraw(ctx, participant, amount)
	if err != nil {
		return err
	}
	e.publish(ctx, ev)
	return nil
}

// WithdrawAll pays the whole balance back and returns the amount.
func (e *Engine) WithdrawAll(ctx context.Context, participant common.Address) (*uint256.Int, error) {
	ev, err := e.withdraw(ctx, participant, nil)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, ev)
	return new(uint256.Int).Set(ev.Amount), nil
}

// withdraw pays amount, or the whole balance when amount is nil.
func (e *Engine) withdraw(ctx context.Context, participant common.Address, amount *uint256.Int) (pool.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set := e.params.Current()
	if err := e.ensureOpen(set); err != nil {
		return pool.Event{}, err
	}
	if amount == nil {
		if amount = e.ledger.BalanceOf(participant); amount.IsZero() {
			return pool.Event{}, ledger.ErrZeroValue
		}
	}
	if _, err := e.ledger.CheckWithdraw(participant, amount, set.MinDeposit); err != nil {
		return pool.Event{}, err
	}
	if err := e.custody.Transfer(ctx, participant, amount); err != nil {
		return pool.Event{}, fmt.Errorf("pay withdrawal: %w", err)
	}
	if err := e.ledger.Withdraw(participant, amount, set.MinDeposit); err != nil {
		return pool.Event{}, fmt.Errorf("%w: withdraw after transfer: %v", ErrInvariantViolation, err)
	}

	e.log.WithField("round_id", e.roundID).
		WithField("participant", participant.Hex()).
		WithField("amount", pool.FormatAmount(amount)).
		Debug("withdrawal paid")
	return e.commit(e.balanceEvent(pool.EventWithdrawn, participant, amount)), nil
}

// CloseRound ends the current round. It fails with ErrRoundNotOver before the round end and
// with ErrSeedNotReady while the randomness source is finalizing; both are retryable. On any
// other failure nothing is applied.
func (e *Engine) CloseRound(ctx context.Context, executor common.Address) (pool.Outcome, error) {
	rewarded, err := e.closeRound(ctx, executor)
	if err != nil {
		return pool.Outcome{}, err
	}
	outcome := *rewarded.Outcome
	e.publish(ctx, rewarded)
	if outcome.JackpotWon() {
		e.publish(ctx, pool.Event{
			Kind:        pool.EventJackpot,
			RoundID:     outcome.RoundID,
			Participant: outcome.JackpotWinner,
			Amount:      outcome.JackpotPrize,
			Outcome:     rewarded.Outcome,
			At:          outcome.ClosedAt,
			Seq:         rewarded.Seq,
			State:       rewarded.State,
		})
	}
	return outcome, nil
}

func (e *Engine) closeRound(ctx context.Context, executor common.Address) (pool.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if executor == sortition.NoWinner {
		return pool.Event{}, ErrInvalidExecutor
	}
	set := e.params.Current()
	now := e.clock.Now()
	if end := e.startedAt.Add(set.RoundDuration); now.Before(end) {
		return pool.Event{}, fmt.Errorf("%w: round %d ends at %s", ErrRoundNotOver, e.roundID, end.UTC().Format(time.RFC3339))
	}

	ready, err := e.source.IsSeedReady(ctx)
	if err != nil {
		return pool.Event{}, fmt.Errorf("seed readiness: %w", err)
	}
	if !ready {
		return pool.Event{}, ErrSeedNotReady
	}
	seed, err := e.source.CurrentSeed(ctx)
	if err != nil {
		return pool.Event{}, fmt.Errorf("current seed: %w", err)
	}

	held, err := e.custody.BalanceOf(ctx)
	if err != nil {
		return pool.Event{}, fmt.Errorf("custody balance: %w", err)
	}
	committed := new(uint256.Int).Add(e.ledger.TotalDeposited(), e.jackpot)
	reward, underflow := new(uint256.Int).SubOverflow(held, committed)
	if underflow {
		return pool.Event{}, fmt.Errorf("%w: custody holds %s, deposits and jackpot need %s", ErrInvariantViolation,
			pool.FormatAmount(held), pool.FormatAmount(committed))
	}
	split, err := ComputeSplit(reward, set)
	if err != nil {
		return pool.Event{}, err
	}

	// Stage every balance change on a copy; it replaces the ledger only after the fee is out.
	staged := e.ledger.Clone()
	winners := e.ledger.DrawDistinct(seed, set.Tiers())
	for i, winner := range winners {
		if winner == sortition.NoWinner {
			continue
		}
		if err := staged.Credit(winner, split.Prizes[i]); err != nil {
			return pool.Event{}, fmt.Errorf("credit tier %d: %w", i+1, err)
		}
	}
	if err := staged.Credit(executor, split.ExecutorReward); err != nil {
		return pool.Event{}, fmt.Errorf("credit executor: %w", err)
	}
	jackpot := new(uint256.Int).Add(e.jackpot, split.JackpotShare)

	outcome := pool.Outcome{
		RoundID:        e.roundID,
		Seed:           seed,
		Winners:        winners,
		Prizes:         split.Prizes,
		Fee:            split.Fee,
		FeeReceiver:    set.FeeReceiver,
		JackpotShare:   split.JackpotShare,
		ExecutorReward: split.ExecutorReward,
		Executor:       executor,
		JackpotWinner:  sortition.NoWinner,
		JackpotPrize:   new(uint256.Int),
		ClosedAt:       now,
	}

	if jackpotTriggered(seed, set.JackpotChance) && !jackpot.IsZero() && !staged.TotalDeposited().IsZero() {
		winner, err := staged.Draw(sortition.DeriveLabeledSeed(seed, jackpotWinnerLabel))
		if err != nil {
			return pool.Event{}, fmt.Errorf("draw jackpot winner: %w", err)
		}
		if err := staged.Credit(winner, jackpot); err != nil {
			return pool.Event{}, fmt.Errorf("credit jackpot: %w", err)
		}
		outcome.JackpotWinner = winner
		outcome.JackpotPrize = jackpot
		jackpot = new(uint256.Int)
	}

	if !split.Fee.IsZero() {
		if err := e.custody.Transfer(ctx, set.FeeReceiver, split.Fee); err != nil {
			if !errors.Is(err, ErrTransferFailed) {
				err = fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
			e.log.WithError(err).
				WithField("round_id", e.roundID).
				WithField("fee_receiver", set.FeeReceiver.Hex()).
				Warn("fee transfer failed, round not closed")
			return pool.Event{}, fmt.Errorf("transfer fee: %w", err)
		}
	}

	e.ledger = staged
	e.jackpot = jackpot
	e.roundID++
	e.startedAt = now

	e.log.WithField("round_id", outcome.RoundID).
		WithField("reward", pool.FormatAmount(reward)).
		WithField("executor", executor.Hex()).
		WithField("jackpot_won", outcome.JackpotWon()).
		Info("round closed")
	return e.commit(pool.Event{Kind: pool.EventRewarded, RoundID: outcome.RoundID, Outcome: &outcome, At: now}), nil
}

// UpdateParameters applies a new parameter set. Sets whose lock window would cover the
// whole round are rejected.
func (e *Engine) UpdateParameters(ctx context.Context, caller common.Address, set params.Set) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var interval uint64
	err := e.params.UpdateIf(ctx, caller, set, func(next params.Set) error {
		interval = e.source.SeedUpdateInterval()
		return e.checkSchedule(next, interval)
	})
	if err != nil {
		return err
	}
	e.interval = interval
	return nil
}

// Parameters returns the active parameter set.
func (e *Engine) Parameters() params.Set {
	return e.params.Current()
}

// RoundID returns the id of the open round.
func (e *Engine) RoundID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roundID
}

// StartedAt returns the start time of the current round.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// Jackpot returns the accumulated jackpot.
func (e *Engine) Jackpot() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.jackpot)
}

// Phase returns the phase at the current clock time.
func (e *Engine) Phase() pool.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phaseAt(e.clock.Now(), e.params.Current())
}

// LockStart returns when deposits and withdrawals freeze.
func (e *Engine) LockStart() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockStart(e.params.Current())
}

// RoundEnd returns when the current round becomes closeable.
func (e *Engine) RoundEnd() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt.Add(e.params.Current().RoundDuration)
}

func (e *Engine) BalanceOf(participant common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.BalanceOf(participant)
}

func (e *Engine) ChanceOf(participant common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.ChanceOf(participant)
}

func (e *Engine) TotalDeposited() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalDeposited()
}

func (e *Engine) Participants() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Participants()
}

// Info returns a consistent view of the round.
func (e *Engine) Info() pool.RoundInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.params.Current()
	return pool.RoundInfo{
		RoundID:        e.roundID,
		StartedAt:      e.startedAt,
		LockStart:      e.lockStart(set),
		RoundEnd:       e.startedAt.Add(set.RoundDuration),
		Phase:          e.phaseAt(e.clock.Now(), set),
		Jackpot:        new(uint256.Int).Set(e.jackpot),
		TotalDeposited: e.ledger.TotalDeposited(),
		Participants:   e.ledger.Participants(),
	}
}

// Snapshot captures the state needed to resume after a restart.
func (e *Engine) Snapshot() pool.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() pool.EngineState {
	return pool.EngineState{
		Seq:       e.seq,
		RoundID:   e.roundID,
		StartedAt: e.startedAt,
		Jackpot:   new(uint256.Int).Set(e.jackpot),
		Layout:    e.ledger.Layout(),
	}
}

// Restore replaces the engine state with a snapshot.
func (e *Engine) Restore(state pool.EngineState) error {
	if state.RoundID == 0 {
		return fmt.Errorf("%w: round id must start at 1", ErrInvalidState)
	}
	if state.StartedAt.IsZero() {
		return fmt.Errorf("%w: start time missing", ErrInvalidState)
	}
	restored, err := ledger.FromLayout(state.Layout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	jackpot := new(uint256.Int)
	if state.Jackpot != nil {
		jackpot.Set(state.Jackpot)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger = restored
	e.roundID = state.RoundID
	e.startedAt = state.StartedAt
	e.jackpot = jackpot
	e.seq = state.Seq

	e.log.WithField("round_id", state.RoundID).
		WithField("participants", restored.Participants()).
		Info("engine state restored")
	return nil
}

// lockWindow follows the source's seed update interval. An interval that would lock the
// whole round is ignored and the previous window stays in force. Callers hold e.mu.
func (e *Engine) lockWindow(set params.Set) time.Duration {
	if n := e.source.SeedUpdateInterval(); n != e.interval {
		if windowFor(n, set.BlockTime) < set.RoundDuration {
			e.log.WithField("interval", n).WithField("previous", e.interval).Info("seed update interval changed")
			e.interval = n
		} else if n != e.ignored {
			e.ignored = n
			e.log.WithField("interval", n).
				WithField("kept", e.interval).
				Warn("seed update interval leaves no open phase, keeping previous lock window")
		}
	}
	return windowFor(e.interval, set.BlockTime)
}

// checkSchedule rejects parameter sets whose lock window covers the whole round, and block
// times that disagree with a source counting its own blocks.
func (e *Engine) checkSchedule(set params.Set, interval uint64) error {
	if window := windowFor(interval, set.BlockTime); window >= set.RoundDuration {
		return fmt.Errorf("%w: lock window %s is not shorter than round duration %s",
			params.ErrInvalidParameter, window, set.RoundDuration)
	}
	if bc, ok := e.source.(randomness.BlockClock); ok && bc.BlockTime() != set.BlockTime {
		return fmt.Errorf("%w: block time %s differs from the randomness source block time %s",
			params.ErrInvalidParameter, set.BlockTime, bc.BlockTime())
	}
	return nil
}

func windowFor(interval uint64, blockTime time.Duration) time.Duration {
	return time.Duration(2*interval) * blockTime
}

func (e *Engine) lockStart(set params.Set) time.Time {
	return e.startedAt.Add(set.RoundDuration - e.lockWindow(set))
}

func (e *Engine) phaseAt(now time.Time, set params.Set) pool.Phase {
	switch {
	case !now.Before(e.startedAt.Add(set.RoundDuration)):
		return pool.PhaseCloseable
	case !now.Before(e.lockStart(set)):
		return pool.PhaseLocked
	default:
		return pool.PhaseOpen
	}
}

func (e *Engine) ensureOpen(set params.Set) error {
	if phase := e.phaseAt(e.clock.Now(), set); phase != pool.PhaseOpen {
		return fmt.Errorf("%w: round %d is %s", ErrLocked, e.roundID, phase)
	}
	return nil
}

func (e *Engine) balanceEvent(kind pool.EventKind, participant common.Address, amount *uint256.Int) pool.Event {
	return pool.Event{
		Kind:        kind,
		RoundID:     e.roundID,
		Participant: participant,
		Amount:      new(uint256.Int).Set(amount),
		At:          e.clock.Now(),
	}
}

// commit stamps ev with the next sequence number and the state it produced. Callers hold e.mu.
func (e *Engine) commit(ev pool.Event) pool.Event {
	e.seq++
	state := e.snapshotLocked()
	ev.Seq = e.seq
	ev.State = &state
	return ev
}

// publish runs outside the engine lock so sinks may read engine state. Failures are logged.
func (e *Engine) publish(ctx context.Context, ev pool.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.WithError(err).
			WithField("event", string(ev.Kind)).
			WithField("round_id", ev.RoundID).
			Warn("event publish failed")
	}
}

func jackpotTriggered(seed, chance *uint256.Int) bool {
	if chance == nil || chance.IsZero() {
		return false
	}
	roll := new(uint256.Int).Mod(sortition.DeriveLabeledSeed(seed, jackpotTriggerLabel), pool.One)
	return roll.Lt(chance)
}

func bounds(set params.Set) ledger.Bounds {
	return ledger.Bounds{Min: set.MinDeposit, Max: set.MaxDeposit}
}
