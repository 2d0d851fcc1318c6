package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/keeper"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
	"github.com/R3E-Network/prizepool/internal/app/services/randomness"
	"github.com/R3E-Network/prizepool/internal/app/storage"
	"github.com/R3E-Network/prizepool/internal/app/storage/memory"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

var (
	admin    = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	executor = common.HexToAddress("0x000000000000000000000000000000000000cee9")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000fee00")
)

func testParams() params.Set {
	return params.Set{
		RoundDuration: time.Hour,
		BlockTime:     time.Second,
		MinDeposit:    pool.Units(1),
		MaxDeposit:    pool.Units(100),
		PrizeSizes:    []*uint256.Int{},
		Fee:           pool.MustParseAmount("0.1"),
		FeeReceiver:   treasury,
		JackpotShare:  pool.MustParseAmount("0.1"),
		JackpotChance: new(uint256.Int),
		ExecutorShare: new(uint256.Int),
	}
}

func TestApplicationDefaults(t *testing.T) {
	ctx := context.Background()
	application, err := New(ctx, Options{Admin: admin, Params: testParams(), Keeper: &keeper.Config{Executor: executor}}, logger.Discard())
	require.NoError(t, err)
	require.NotNil(t, application.Vault)
	require.NotNil(t, application.Keeper)

	require.NoError(t, application.Start(ctx))
	defer application.Stop(ctx)

	resp := httptest.NewRecorder()
	application.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/round", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, uint64(1), application.Engine.RoundID())
}

func TestApplicationRestoresSavedState(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := memory.New()
	source := randomness.NewStaticSource(uint256.NewInt(5), 10)

	first, err := New(ctx, Options{Admin: admin, Params: testParams(), Store: store, Source: source, Clock: clock}, logger.Discard())
	require.NoError(t, err)
	first.Vault.Fund(alice, pool.Units(20))
	require.NoError(t, first.Engine.Deposit(ctx, alice, pool.Units(20)))
	first.Vault.Accrue(pool.Units(10))
	clock.Advance(time.Hour)
	_, err = first.Engine.CloseRound(ctx, executor)
	require.NoError(t, err)

	// a new process over the same store picks up where the last one stopped
	second, err := New(ctx, Options{Admin: admin, Params: testParams(), Store: store, Source: source, Clock: clock}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Engine.RoundID())
	assert.Equal(t, first.Engine.BalanceOf(alice), second.Engine.BalanceOf(alice))
	assert.Equal(t, pool.Units(1), second.Engine.Jackpot())

	held, err := second.Vault.BalanceOf(ctx)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Add(second.Engine.TotalDeposited(), second.Engine.Jackpot()), held)

	rec, err := store.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice}, rec.Outcome.Winners)
}

func TestApplicationRejectsInvalidParams(t *testing.T) {
	set := testParams()
	set.FeeReceiver = common.Address{}
	_, err := New(context.Background(), Options{Admin: admin, Params: set}, logger.Discard())
	assert.ErrorIs(t, err, params.ErrInvalidParameter)
}

// stallingStore holds the first SaveState until release is closed.
type stallingStore struct {
	storage.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) SaveState(ctx context.Context, state pool.EngineState) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.SaveState(ctx, state)
}

func TestApplicationKeepsNewestStateWhenSavesOverlap(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	backing := memory.New()
	store := &stallingStore{Store: backing, entered: make(chan struct{}), release: make(chan struct{})}
	source := randomness.NewStaticSource(uint256.NewInt(5), 10)

	application, err := New(ctx, Options{Admin: admin, Params: testParams(), Store: store, Source: source, Clock: clock}, logger.Discard())
	require.NoError(t, err)
	application.Vault.Fund(alice, pool.Units(5))
	application.Vault.Fund(bob, pool.Units(7))

	done := make(chan error, 1)
	go func() { done <- application.Engine.Deposit(ctx, alice, pool.Units(5)) }()
	<-store.entered

	// bob's change commits after alice's and its state is written first
	require.NoError(t, application.Engine.Deposit(ctx, bob, pool.Units(7)))
	close(store.release)
	require.NoError(t, <-done)

	saved, err := backing.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), saved.Seq)
	assert.Len(t, saved.Layout.Leaves, 2)

	restarted, err := New(ctx, Options{Admin: admin, Params: testParams(), Store: backing, Source: source, Clock: clock}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, pool.Units(5), restarted.Engine.BalanceOf(alice))
	assert.Equal(t, pool.Units(7), restarted.Engine.BalanceOf(bob))
	assert.Equal(t, pool.Units(12), restarted.Engine.TotalDeposited())
}
