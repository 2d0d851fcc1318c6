// Package custody holds pooled value on behalf of the round engine.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

var (
	ErrTransferFailed    = errors.New("transfer failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Custody is the account that holds deposits, the jackpot and accrued rewards.
type Custody interface {
	// BalanceOf returns everything held by the pool.
	BalanceOf(ctx context.Context) (*uint256.Int, error)
	// Receive pulls amount from an external account into the pool.
	Receive(ctx context.Context, from common.Address, amount *uint256.Int) error
	// Transfer pays amount out of the pool.
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Vault is an in-memory custody account with a ledger of external wallets. Accrue stands in
// for staking rewards arriving at the pool.
type Vault struct {
	mu       sync.Mutex
	held     uint256.Int
	wallets  map[common.Address]*uint256.Int
	rejected map[common.Address]bool
	log      *logger.Logger
}

var _ Custody = (*Vault)(nil)

// NewVault returns an empty vault.
func NewVault(log *logger.Logger) *Vault {
	if log == nil {
		log = logger.NewDefault("custody")
	}
	return &Vault{
		wallets:  make(map[common.Address]*uint256.Int),
		rejected: make(map[common.Address]bool),
		log:      log,
	}
}

// Fund credits an external wallet.
func (v *Vault) Fund(owner common.Address, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallet(owner).Add(v.wallet(owner), amount)
}

// Accrue adds reward value to the pool itself.
func (v *Vault) Accrue(amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held.Add(&v.held, amount)
	v.log.WithField("amount", pool.FormatAmount(amount)).Debug("reward accrued")
}

// Reject makes every transfer to owner fail, or clears that behaviour.
func (v *Vault) Reject(owner common.Address, reject bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if reject {
		v.rejected[owner] = true
		return
	}
	delete(v.rejected, owner)
}

// WalletBalance returns the external balance of owner.
func (v *Vault) WalletBalance(owner common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.wallet(owner))
}

func (v *Vault) BalanceOf(context.Context) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(&v.held), nil
}

func (v *Vault) Receive(_ context.Context, from common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	w := v.wallet(from)
	if w.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from.Hex(),
			pool.FormatAmount(w), pool.FormatAmount(amount))
	}
	w.Sub(w, amount)
	v.held.Add(&v.held, amount)
	return nil
}

func (v *Vault) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.rejected[to] {
		return fmt.Errorf("%w: receiver %s refused", ErrTransferFailed, to.Hex())
	}
	if v.held.Lt(amount) {
		return fmt.Errorf("%w: %v", ErrTransferFailed, ErrInsufficientFunds)
	}
	v.held.Sub(&v.held, amount)
	w := v.wallet(to)
	w.Add(w, amount)
	return nil
}

func (v *Vault) wallet(owner common.Address) *uint256.Int {
	w, ok := v.wallets[owner]
	if !ok {
		w = new(uint256.Int)
		v.wallets[owner] = w
	}
	return w
}
