// Package ledger keeps participant deposit balances and mirrors each of them as a leaf
// weight in a sortition tree.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/pkg/sortition"
)

var (
	ErrZeroValue  = errors.New("amount must be greater than zero")
	ErrOutOfRange = errors.New("balance out of deposit range")
	ErrUnderflow  = errors.New("amount exceeds balance")
	ErrZeroKey    = errors.New("participant address is zero")
)

// Bounds are the per-participant deposit limits.
type Bounds struct {
	Min *uint256.Int
	Max *uint256.Int
}

// Ledger tracks balances. The sum of tree weights always equals TotalDeposited.
// It is not safe for concurrent use; the round engine serializes access.
type Ledger struct {
	tree     *sortition.Tree
	balances map[common.Address]*uint256.Int
	total    uint256.Int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		tree:     sortition.New(),
		balances: make(map[common.Address]*uint256.Int),
	}
}

// FromLayout rebuilds a ledger from a persisted tree layout.
func FromLayout(layout sortition.Layout) (*Ledger, error) {
	tree, err := sortition.Import(layout)
	if err != nil {
		return nil, err
	}
	l := &Ledger{tree: tree, balances: make(map[common.Address]*uint256.Int)}
	for _, leaf := range layout.Leaves {
		if leaf.Key == sortition.NoWinner {
			continue
		}
		l.balances[leaf.Key] = new(uint256.Int).Set(leaf.Weight)
		l.total.Add(&l.total, leaf.Weight)
	}
	return l, nil
}

// Layout exports the underlying tree layout.
func (l *Ledger) Layout() sortition.Layout {
	return l.tree.Export()
}

// CheckDeposit validates a deposit and returns the resulting balance without applying it.
func (l *Ledger) CheckDeposit(participant common.Address, amount *uint256.Int, bounds Bounds) (*uint256.Int, error) {
	if participant == sortition.NoWinner {
		return nil, ErrZeroKey
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroValue
	}
	next, overflow := new(uint256.Int).AddOverflow(l.BalanceOf(participant), amount)
	if overflow {
		return nil, fmt.Errorf("%w: balance overflows", ErrOutOfRange)
	}
	if next.Lt(bounds.Min) {
		return nil, fmt.Errorf("%w: balance %s below minimum %s", ErrOutOfRange,
			pool.FormatAmount(next), pool.FormatAmount(bounds.Min))
	}
	if next.Gt(bounds.Max) {
		return nil, fmt.Errorf("%w: balance %s above maximum %s", ErrOutOfRange,
			pool.FormatAmount(next), pool.FormatAmount(bounds.Max))
	}
	return next, nil
}

// Deposit adds amount to the participant's balance within bounds.
func (l *Ledger) Deposit(participant common.Address, amount *uint256.Int, bounds Bounds) error {
	next, err := l.CheckDeposit(participant, amount, bounds)
	if err != nil {
		return err
	}
	return l.setBalance(participant, next)
}

// CheckWithdraw validates a withdrawal and returns the resulting balance. A partial
// withdrawal must leave at least minDeposit behind.
func (l *Ledger) CheckWithdraw(participant common.Address, amount, minDeposit *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroValue
	}
	next, underflow := new(uint256.Int).SubOverflow(l.BalanceOf(participant), amount)
	if underflow {
		return nil, ErrUnderflow
	}
	if !next.IsZero() && next.Lt(minDeposit) {
		return nil, fmt.Errorf("%w: remaining %s below minimum %s", ErrOutOfRange,
			pool.FormatAmount(next), pool.FormatAmount(minDeposit))
	}
	return next, nil
}

// Withdraw removes amount from the participant's balance. Reaching zero removes the
// participant from the tree.
func (l *Ledger) Withdraw(participant common.Address, amount, minDeposit *uint256.Int) error {
	next, err := l.CheckWithdraw(participant, amount, minDeposit)
	if err != nil {
		return err
	}
	return l.setBalance(participant, next)
}

// WithdrawAll empties the participant's balance and returns what was withdrawn.
func (l *Ledger) WithdrawAll(participant common.Address) (*uint256.Int, error) {
	amount := l.BalanceOf(participant)
	if amount.IsZero() {
		return nil, ErrZeroValue
	}
	if err := l.setBalance(participant, new(uint256.Int)); err != nil {
		return nil, err
	}
	return amount, nil
}

// Credit adds a reward to a balance. Rewards are not bound by the deposit limits.
func (l *Ledger) Credit(participant common.Address, amount *uint256.Int) error {
	if participant == sortition.NoWinner {
		return ErrZeroKey
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	next, overflow := new(uint256.Int).AddOverflow(l.BalanceOf(participant), amount)
	if overflow {
		return fmt.Errorf("%w: balance overflows", ErrOutOfRange)
	}
	return l.setBalance(participant, next)
}

// BalanceOf returns a copy of the participant's balance.
func (l *Ledger) BalanceOf(participant common.Address) *uint256.Int {
	if b, ok := l.balances[participant]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// ChanceOf returns the participant's share of the pool as an 18-decimal fraction.
func (l *Ledger) ChanceOf(participant common.Address) *uint256.Int {
	if l.total.IsZero() {
		return new(uint256.Int)
	}
	chance, _ := new(uint256.Int).MulDivOverflow(l.BalanceOf(participant), pool.One, &l.total)
	return chance
}

// TotalDeposited returns the sum of all balances.
func (l *Ledger) TotalDeposited() *uint256.Int {
	return new(uint256.Int).Set(&l.total)
}

// TotalWeight returns the tree's aggregate. It equals TotalDeposited.
func (l *Ledger) TotalWeight() *uint256.Int {
	return l.tree.TotalWeight()
}

// Participants returns the number of members with a positive balance.
func (l *Ledger) Participants() int {
	return len(l.balances)
}

// Members lists members in ascending address order.
func (l *Ledger) Members() []common.Address {
	out := make([]common.Address, 0, len(l.balances))
	for k := range l.balances {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Draw selects one member weighted by balance.
func (l *Ledger) Draw(seed *uint256.Int) (common.Address, error) {
	return l.tree.Draw(seed)
}

// DrawDistinct selects up to count distinct members weighted by balance.
func (l *Ledger) DrawDistinct(seed *uint256.Int, count int) []common.Address {
	return l.tree.DrawDistinct(seed, count)
}

// Clone returns an independent copy used to stage multi-step changes.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		tree:     l.tree.Clone(),
		balances: make(map[common.Address]*uint256.Int, len(l.balances)),
	}
	for k, v := range l.balances {
		c.balances[k] = new(uint256.Int).Set(v)
	}
	c.total.Set(&l.total)
	return c
}

func (l *Ledger) setBalance(participant common.Address, next *uint256.Int) error {
	prev := l.BalanceOf(participant)
	switch {
	case prev.IsZero() && next.IsZero():
		return nil
	case prev.IsZero():
		if err := l.tree.Insert(participant, next); err != nil {
			return err
		}
		l.balances[participant] = new(uint256.Int).Set(next)
	case next.IsZero():
		if err := l.tree.Remove(participant); err != nil {
			return err
		}
		delete(l.balances, participant)
	default:
		if err := l.tree.Update(participant, next); err != nil {
			return err
		}
		l.balances[participant].Set(next)
	}
	l.total.Sub(&l.total, prev)
	l.total.Add(&l.total, next)
	return nil
}
