package lottery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/services/custody"
	"github.com/R3E-Network/prizepool/internal/app/services/ledger"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
	"github.com/R3E-Network/prizepool/internal/app/services/randomness"
	"github.com/R3E-Network/prizepool/pkg/logger"
	"github.com/R3E-Network/prizepool/pkg/sortition"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	keeper   = common.HexToAddress("0x000000000000000000000000000000000000cee9")
	admin    = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000fee00")
)

const (
	roundDuration = 7 * 24 * time.Hour
	blockTime     = 5 * time.Second
	seedInterval  = 10
	lockWindow    = 2 * seedInterval * blockTime
)

func testParams() params.Set {
	return params.Set{
		RoundDuration: roundDuration,
		BlockTime:     blockTime,
		MinDeposit:    pool.Units(1),
		MaxDeposit:    pool.Units(1000),
		PrizeSizes:    []*uint256.Int{pool.MustParseAmount("0.5"), pool.MustParseAmount("0.3")},
		Fee:           pool.MustParseAmount("0.05"),
		FeeReceiver:   treasury,
		JackpotShare:  pool.MustParseAmount("0.1"),
		JackpotChance: new(uint256.Int),
		ExecutorShare: pool.MustParseAmount("0.01"),
	}
}

type harness struct {
	engine *Engine
	vault  *custody.Vault
	source *randomness.StaticSource
	clock  *clockwork.FakeClock
	store  *params.Store

	mu     sync.Mutex
	events []pool.Event
}

func newHarness(t *testing.T, set params.Set) *harness {
	t.Helper()
	h := &harness{
		vault:  custody.NewVault(logger.Discard()),
		source: randomness.NewStaticSource(uint256.NewInt(20240601), seedInterval),
		clock:  clockwork.NewFakeClock(),
	}
	store, err := params.NewStore(admin, set, logger.Discard())
	require.NoError(t, err)
	h.store = store

	engine, err := New(Config{
		Params:  store,
		Source:  h.source,
		Custody: h.vault,
		Clock:   h.clock,
		Logger:  logger.Discard(),
		Events: SinkFunc(func(_ context.Context, ev pool.Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, ev)
			return nil
		}),
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) deposit(t *testing.T, who common.Address, units uint64) {
	t.Helper()
	h.vault.Fund(who, pool.Units(units))
	require.NoError(t, h.engine.Deposit(context.Background(), who, pool.Units(units)))
}

func (h *harness) kinds() []pool.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]pool.EventKind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (h *harness) held(t *testing.T) *uint256.Int {
	t.Helper()
	v, err := h.vault.BalanceOf(context.Background())
	require.NoError(t, err)
	return v
}

// requireBacked checks that custody holds exactly deposits plus jackpot when no reward is pending.
func (h *harness) requireBacked(t *testing.T) {
	t.Helper()
	want := new(uint256.Int).Add(h.engine.TotalDeposited(), h.engine.Jackpot())
	require.Equal(t, want, h.held(t))
}

func sum(values ...*uint256.Int) *uint256.Int {
	out := new(uint256.Int)
	for _, v := range values {
		out.Add(out, v)
	}
	return out
}

func TestEngine_New(t *testing.T) {
	h := newHarness(t, testParams())
	info := h.engine.Info()
	assert.Equal(t, uint64(1), info.RoundID)
	assert.Equal(t, pool.PhaseOpen, info.Phase)
	assert.Equal(t, h.clock.Now(), info.StartedAt)
	assert.Equal(t, h.clock.Now().Add(roundDuration), info.RoundEnd)
	assert.Equal(t, h.clock.Now().Add(roundDuration-lockWindow), info.LockStart)
	assert.True(t, info.Jackpot.IsZero())

	_, err := New(Config{})
	assert.Error(t, err)

	short := testParams()
	short.RoundDuration = lockWindow
	store, err := params.NewStore(admin, short, logger.Discard())
	require.NoError(t, err)
	_, err = New(Config{Params: store, Source: h.source, Custody: h.vault, Logger: logger.Discard()})
	assert.ErrorIs(t, err, params.ErrInvalidParameter)
}

func TestEngine_ScenarioA_SplitIsExact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	h.deposit(t, alice, 1)
	h.deposit(t, bob, 2)
	h.deposit(t, carol, 3)
	h.vault.Accrue(pool.Units(10))

	before := map[common.Address]*uint256.Int{
		alice: h.engine.BalanceOf(alice),
		bob:   h.engine.BalanceOf(bob),
		carol: h.engine.BalanceOf(carol),
	}

	h.clock.Advance(roundDuration)
	out, err := h.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), out.RoundID)
	assert.Equal(t, pool.MustParseAmount("0.5"), out.Fee)
	assert.Equal(t, pool.Units(1), out.JackpotShare)
	assert.Equal(t, pool.MustParseAmount("0.1"), out.ExecutorReward)
	require.Len(t, out.Prizes, 3)
	assert.Equal(t, pool.MustParseAmount("4.2"), out.Prizes[0])
	assert.Equal(t, pool.MustParseAmount("2.52"), out.Prizes[1])
	assert.Equal(t, pool.MustParseAmount("1.68"), out.Prizes[2])

	total := sum(append([]*uint256.Int{out.Fee, out.JackpotShare, out.ExecutorReward}, out.Prizes...)...)
	assert.Equal(t, pool.Units(10), total, "no value created or destroyed")

	assert.ElementsMatch(t, []common.Address{alice, bob, carol}, out.Winners)
	for i, winner := range out.Winners {
		want := new(uint256.Int).Add(before[winner], out.Prizes[i])
		assert.Equal(t, want, h.engine.BalanceOf(winner), "tier %d", i+1)
	}
	assert.Equal(t, pool.MustParseAmount("0.1"), h.engine.BalanceOf(keeper))
	assert.Equal(t, pool.MustParseAmount("0.5"), h.vault.WalletBalance(treasury))
	assert.Equal(t, pool.Units(1), h.engine.Jackpot())
	assert.Equal(t, uint64(2), h.engine.RoundID())
	assert.Equal(t, h.clock.Now(), h.engine.StartedAt())
	h.requireBacked(t)

	assert.Equal(t, []pool.EventKind{pool.EventDeposited, pool.EventDeposited, pool.EventDeposited, pool.EventRewarded}, h.kinds())
}

func TestEngine_ScenarioB_SingleMemberLeavesTiersEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	h.deposit(t, alice, 5)
	h.vault.Accrue(pool.Units(10))

	h.clock.Advance(roundDuration)
	out, err := h.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)

	assert.Equal(t, []common.Address{alice, sortition.NoWinner, sortition.NoWinner}, out.Winners)
	assert.Equal(t, pool.MustParseAmount("9.2"), h.engine.BalanceOf(alice))
	assert.Equal(t, 2, h.engine.Participants(), "alice and the executor")
	assert.Equal(t, pool.MustParseAmount("9.3"), h.engine.TotalDeposited())

	// the unpaid tiers stay in custody and feed the next round's reward
	pending := new(uint256.Int).Sub(h.held(t), new(uint256.Int).Add(h.engine.TotalDeposited(), h.engine.Jackpot()))
	assert.Equal(t, sum(out.Prizes[1], out.Prizes[2]), pending)
}

func TestEngine_ScenarioC_WinFrequencyFollowsWeight(t *testing.T) {
	ctx := context.Background()
	set := testParams()
	h := newHarness(t, set)
	h.deposit(t, alice, 10)
	h.deposit(t, bob, 20)
	h.deposit(t, carol, 30)

	const rounds = 500
	wins := make(map[common.Address]int)
	for r := uint64(1); r <= rounds; r++ {
		h.source.SetSeed(sortition.DeriveSeed(uint256.NewInt(2024), r))
		h.clock.Advance(roundDuration)
		out, err := h.engine.CloseRound(ctx, keeper)
		if err != nil {
			t.Fatalf("round %d: %v", r, err)
		}
		wins[out.Winners[0]]++
	}

	// no reward accrues, so relative weights stay fixed for the whole run
	require.Equal(t, pool.Units(60), h.engine.TotalDeposited())
	for who, weight := range map[common.Address]float64{alice: 1.0 / 6, bob: 2.0 / 6, carol: 3.0 / 6} {
		freq := float64(wins[who]) / rounds
		assert.InDelta(t, weight, freq, 0.05, "%s won %d of %d", who.Hex(), wins[who], rounds)
	}
	assert.Equal(t, uint64(rounds+1), h.engine.RoundID())
}

func TestEngine_ScenarioD_EarlyCloseChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	h.deposit(t, alice, 4)
	h.vault.Accrue(pool.Units(10))
	before := h.engine.Snapshot()

	h.clock.Advance(roundDuration - time.Second)
	_, err := h.engine.CloseRound(ctx, keeper)
	assert.ErrorIs(t, err, ErrRoundNotOver)

	assert.Equal(t, before, h.engine.Snapshot())
	assert.Equal(t, pool.Units(4), h.engine.BalanceOf(alice))
	assert.Equal(t, uint64(1), h.engine.RoundID())
	assert.True(t, h.engine.Jackpot().IsZero())
}

func TestEngine_SeedNotReadyIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	h.deposit(t, alice, 4)
	h.vault.Accrue(pool.Units(1))
	h.clock.Advance(roundDuration)
	before := h.engine.Snapshot()

	h.source.SetReady(false)
	_, err := h.engine.CloseRound(ctx, keeper)
	assert.ErrorIs(t, err, ErrSeedNotReady)
	assert.Equal(t, before, h.engine.Snapshot())

	boom := errors.New("beacon down")
	h.source.SetError(boom)
	_, err = h.engine.CloseRound(ctx, keeper)
	assert.ErrorIs(t, err, boom)
	h.source.SetError(nil)

	h.source.SetReady(true)
	_, err = h.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.engine.RoundID())

	// the second attempt lands on the new round
	_, err = h.engine.CloseRound(ctx, keeper)
	assert.ErrorIs(t, err, ErrRoundNotOver)
}

func TestEngine_FeeTransferFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	set := testParams()
	set.JackpotChance = pool.One
	h := newHarness(t, set)
	h.deposit(t, alice, 4)
	h.deposit(t, bob, 6)
	h.vault.Accrue(pool.Units(10))
	h.clock.Advance(roundDuration)

	before := h.engine.Snapshot()
	held := h.held(t)
	h.vault.Reject(treasury, true)

	_, err := h.engine.CloseRound(ctx, keeper)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, before, h.engine.Snapshot())
	assert.Equal(t, held, h.held(t))
	assert.True(t, h.engine.BalanceOf(keeper).IsZero())
	assert.Equal(t, []pool.EventKind{pool.EventDeposited, pool.EventDeposited}, h.kinds())

	h.vault.Reject(treasury, false)
	_, err = h.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.engine.RoundID())
	h.requireBacked(t)
}

func TestEngine_InvariantViolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	h.deposit(t, alice, 4)
	// value leaves custody behind the engine's back
	require.NoError(t, h.vault.Transfer(ctx, bob, pool.Units(1)))
	h.clock.Advance(roundDuration)

	_, err := h.engine.CloseRound(ctx, keeper)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, uint64(1), h.engine.RoundID())
}

func TestEngine_LockWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	h.deposit(t, alice, 10)
	h.vault.Fund(bob, pool.Units(10))

	h.clock.Advance(roundDuration - lockWindow - time.Second)
	assert.Equal(t, pool.PhaseOpen, h.engine.Phase())

	h.clock.Advance(time.Second)
	assert.Equal(t, pool.PhaseLocked, h.engine.Phase())
	assert.ErrorIs(t, h.engine.Deposit(ctx, bob, pool.Units(5)), ErrLocked)
	assert.ErrorIs(t, h.engine.Withdraw(ctx, alice, pool.Units(5)), ErrLocked)
	_, err := h.engine.WithdrawAll(ctx, alice)
	assert.ErrorIs(t, err, ErrLocked)

	h.clock.Advance(lockWindow)
	assert.Equal(t, pool.PhaseCloseable, h.engine.Phase())
	assert.ErrorIs(t, h.engine.Deposit(ctx, bob, pool.Units(5)), ErrLocked)

	_, err = h.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, pool.PhaseOpen, h.engine.Phase())
	require.NoError(t, h.engine.Deposit(ctx, bob, pool.Units(5)))
	assert.Equal(t, pool.Units(10), h.engine.BalanceOf(alice))
}

func TestEngine_DepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	h.vault.Fund(alice, pool.Units(2000))

	assert.ErrorIs(t, h.engine.Deposit(ctx, alice, new(uint256.Int)), ledger.ErrZeroValue)
	assert.ErrorIs(t, h.engine.Deposit(ctx, alice, pool.Units(1001)), ledger.ErrOutOfRange)
	assert.Equal(t, pool.Units(2000), h.vault.WalletBalance(alice), "rejected deposits never reach custody")

	require.NoError(t, h.engine.Deposit(ctx, alice, pool.Units(100)))
	assert.ErrorIs(t, h.engine.Deposit(ctx, bob, pool.Units(5)), custody.ErrInsufficientFunds)
	assert.Equal(t, 1, h.engine.Participants())

	assert.ErrorIs(t, h.engine.Withdraw(ctx, alice, pool.Units(101)), ledger.ErrUnderflow)
	assert.ErrorIs(t, h.engine.Withdraw(ctx, alice, pool.MustParseAmount("99.5")), ledger.ErrOutOfRange)
	require.NoError(t, h.engine.Withdraw(ctx, alice, pool.Units(40)))
	assert.Equal(t, pool.Units(60), h.engine.BalanceOf(alice))
	assert.Equal(t, pool.Units(1940), h.vault.WalletBalance(alice))

	amount, err := h.engine.WithdrawAll(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, pool.Units(60), amount)
	assert.Equal(t, 0, h.engine.Participants())
	_, err = h.engine.WithdrawAll(ctx, alice)
	assert.ErrorIs(t, err, ledger.ErrZeroValue)
	h.requireBacked(t)

	assert.Equal(t, []pool.EventKind{pool.EventDeposited, pool.EventWithdrawn, pool.EventWithdrawn}, h.kinds())
}

func TestEngine_Jackpot(t *testing.T) {
	ctx := context.Background()

	t.Run("never at zero chance", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.deposit(t, alice, 4)
		h.deposit(t, bob, 6)
		for r := 0; r < 2; r++ {
			h.vault.Accrue(pool.Units(10))
			h.clock.Advance(roundDuration)
			out, err := h.engine.CloseRound(ctx, keeper)
			require.NoError(t, err)
			assert.False(t, out.JackpotWon())
		}
		assert.Equal(t, pool.Units(2), h.engine.Jackpot())
		assert.NotContains(t, h.kinds(), pool.EventJackpot)
	})

	t.Run("always at full chance", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.deposit(t, alice, 4)
		h.deposit(t, bob, 6)
		h.vault.Accrue(pool.Units(10))
		h.clock.Advance(roundDuration)
		_, err := h.engine.CloseRound(ctx, keeper)
		require.NoError(t, err)
		require.Equal(t, pool.Units(1), h.engine.Jackpot())

		set := testParams()
		set.JackpotChance = pool.One
		require.NoError(t, h.engine.UpdateParameters(ctx, admin, set))

		h.vault.Accrue(pool.Units(10))
		h.clock.Advance(roundDuration)
		out, err := h.engine.CloseRound(ctx, keeper)
		require.NoError(t, err)
		require.True(t, out.JackpotWon())
		assert.Equal(t, pool.Units(2), out.JackpotPrize, "carried jackpot plus this round's share")
		assert.True(t, h.engine.Jackpot().IsZero())
		assert.Contains(t, []common.Address{alice, bob, keeper}, out.JackpotWinner)
		assert.Contains(t, h.kinds(), pool.EventJackpot)
		h.requireBacked(t)
	})

	t.Run("skipped when the pool is empty", func(t *testing.T) {
		set := testParams()
		set.JackpotChance = pool.One
		set.ExecutorShare = new(uint256.Int)
		h := newHarness(t, set)
		h.vault.Accrue(pool.Units(10))
		h.clock.Advance(roundDuration)
		out, err := h.engine.CloseRound(ctx, keeper)
		require.NoError(t, err)
		assert.False(t, out.JackpotWon())
		assert.Equal(t, pool.Units(1), h.engine.Jackpot())
		assert.Equal(t, []common.Address{sortition.NoWinner, sortition.NoWinner, sortition.NoWinner}, out.Winners)
	})
}

func TestEngine_UpdateParameters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())

	set := testParams()
	set.RoundDuration = lockWindow
	assert.ErrorIs(t, h.engine.UpdateParameters(ctx, admin, set), params.ErrInvalidParameter)

	set.RoundDuration = time.Hour
	assert.ErrorIs(t, h.engine.UpdateParameters(ctx, keeper, set), params.ErrUnauthorized)
	require.NoError(t, h.engine.UpdateParameters(ctx, admin, set))
	assert.Equal(t, time.Hour, h.engine.Parameters().RoundDuration)
	assert.Equal(t, h.engine.StartedAt().Add(time.Hour), h.engine.RoundEnd())
	assert.Equal(t, h.engine.StartedAt().Add(time.Hour-lockWindow), h.engine.LockStart())
}

func TestEngine_CloseRoundRejectsZeroExecutor(t *testing.T) {
	h := newHarness(t, testParams())
	h.clock.Advance(roundDuration)
	_, err := h.engine.CloseRound(context.Background(), common.Address{})
	assert.ErrorIs(t, err, ErrInvalidExecutor)
}

func TestEngine_SnapshotRestoreReproducesDraws(t *testing.T) {
	ctx := context.Background()
	a := newHarness(t, testParams())
	a.deposit(t, alice, 4)
	a.deposit(t, bob, 6)
	a.deposit(t, carol, 9)
	_, err := a.engine.WithdrawAll(ctx, bob)
	require.NoError(t, err)
	a.vault.Accrue(pool.Units(10))
	state := a.engine.Snapshot()

	b := newHarness(t, testParams())
	require.NoError(t, b.engine.Restore(state))
	b.vault.Accrue(a.held(t))
	assert.Equal(t, state, b.engine.Snapshot())
	assert.Equal(t, a.engine.TotalDeposited(), b.engine.TotalDeposited())

	a.clock.Advance(roundDuration)
	b.clock.Advance(b.engine.StartedAt().Add(roundDuration).Sub(b.clock.Now()))
	outA, err := a.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)
	outB, err := b.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, outA.Winners, outB.Winners)
	assert.Equal(t, outA.Prizes, outB.Prizes)

	assert.ErrorIs(t, b.engine.Restore(pool.EngineState{}), ErrInvalidState)
	bad := state
	bad.Layout = sortition.Layout{Leaves: []sortition.Leaf{{Key: alice}}}
	assert.ErrorIs(t, b.engine.Restore(bad), ErrInvalidState)
}

func TestEngine_PublishFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	vault := custody.NewVault(logger.Discard())
	store, err := params.NewStore(admin, testParams(), logger.Discard())
	require.NoError(t, err)
	engine, err := New(Config{
		Params:  store,
		Source:  randomness.NewStaticSource(uint256.NewInt(1), seedInterval),
		Custody: vault,
		Clock:   clockwork.NewFakeClock(),
		Logger:  logger.Discard(),
		Events:  MultiSink{LogSink{Log: logger.Discard()}, SinkFunc(func(context.Context, pool.Event) error { return errors.New("sink down") })},
	})
	require.NoError(t, err)

	vault.Fund(alice, pool.Units(3))
	require.NoError(t, engine.Deposit(ctx, alice, pool.Units(3)))
	assert.Equal(t, pool.Units(3), engine.BalanceOf(alice))
}

func TestEngine_EventsCarryCommittedState(t *testing.T) {
	ctx := context.Background()
	set := testParams()
	set.JackpotChance = pool.One
	h := newHarness(t, set)
	h.deposit(t, alice, 4)
	h.deposit(t, bob, 6)
	require.NoError(t, h.engine.Withdraw(ctx, alice, pool.Units(1)))
	h.vault.Accrue(pool.Units(10))
	h.clock.Advance(roundDuration)
	_, err := h.engine.CloseRound(ctx, keeper)
	require.NoError(t, err)

	require.Equal(t, []pool.EventKind{pool.EventDeposited, pool.EventDeposited, pool.EventWithdrawn, pool.EventRewarded, pool.EventJackpot}, h.kinds())
	wantSeq := []uint64{1, 2, 3, 4, 4}
	for i, ev := range h.events {
		require.NotNil(t, ev.State, "event %d", i)
		assert.Equal(t, wantSeq[i], ev.Seq)
		assert.Equal(t, ev.Seq, ev.State.Seq)
	}
	assert.Equal(t, uint64(1), h.events[2].State.RoundID)
	assert.Equal(t, uint64(2), h.events[3].State.RoundID)
	assert.Equal(t, h.engine.Snapshot(), *h.events[4].State)

	// reads and rejected calls do not advance the sequence
	_, err = h.engine.CloseRound(ctx, keeper)
	require.ErrorIs(t, err, ErrRoundNotOver)
	assert.Equal(t, uint64(4), h.engine.Snapshot().Seq)

	restored := newHarness(t, set)
	require.NoError(t, restored.engine.Restore(h.engine.Snapshot()))
	restored.vault.Fund(carol, pool.Units(2))
	require.NoError(t, restored.engine.Deposit(ctx, carol, pool.Units(2)))
	assert.Equal(t, uint64(5), restored.events[0].Seq)
}

func TestEngine_IgnoresIntervalThatLocksWholeRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testParams())
	start := h.clock.Now()

	h.source.SetInterval(uint64(roundDuration / blockTime))
	assert.Equal(t, start.Add(roundDuration-lockWindow), h.engine.LockStart())
	assert.Equal(t, pool.PhaseOpen, h.engine.Phase())
	h.deposit(t, alice, 3)

	// parameter updates are still checked against what the source announces
	assert.ErrorIs(t, h.engine.UpdateParameters(ctx, admin, testParams()), params.ErrInvalidParameter)

	h.source.SetInterval(2 * seedInterval)
	assert.Equal(t, start.Add(roundDuration-2*lockWindow), h.engine.LockStart())
	require.NoError(t, h.engine.UpdateParameters(ctx, admin, testParams()))
}

func TestEngine_BlockTimeMustMatchBlockCountingSource(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	source, err := randomness.NewPhaseSource(randomness.PhaseConfig{Clock: clock, BlockTime: blockTime, Interval: seedInterval})
	require.NoError(t, err)
	store, err := params.NewStore(admin, testParams(), logger.Discard())
	require.NoError(t, err)
	engine, err := New(Config{Params: store, Source: source, Custody: custody.NewVault(logger.Discard()), Clock: clock, Logger: logger.Discard()})
	require.NoError(t, err)

	slower := testParams()
	slower.BlockTime = 2 * blockTime
	assert.ErrorIs(t, engine.UpdateParameters(ctx, admin, slower), params.ErrInvalidParameter)
	assert.Equal(t, blockTime, engine.Parameters().BlockTime)

	longer := testParams()
	longer.RoundDuration = 2 * roundDuration
	require.NoError(t, engine.UpdateParameters(ctx, admin, longer))

	mismatched, err := params.NewStore(admin, slower, logger.Discard())
	require.NoError(t, err)
	_, err = New(Config{Params: mismatched, Source: source, Custody: custody.NewVault(logger.Discard()), Clock: clock, Logger: logger.Discard()})
	assert.ErrorIs(t, err, params.ErrInvalidParameter)
}
