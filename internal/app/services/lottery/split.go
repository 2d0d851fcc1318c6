package lottery

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
)

// ComputeSplit divides reward by the configured fractions. Every share is computed as
// reward*fraction/One with a 512-bit intermediate. The last prize tier takes whatever the
// named tiers leave of the net pool, so fee, jackpot share, executor reward and prizes
// always add up to reward exactly.
func ComputeSplit(reward *uint256.Int, set params.Set) (pool.RewardSplit, error) {
	split := pool.RewardSplit{
		Total:          new(uint256.Int).Set(reward),
		Fee:            fraction(reward, set.Fee),
		JackpotShare:   fraction(reward, set.JackpotShare),
		ExecutorReward: fraction(reward, set.ExecutorShare),
	}

	spent := new(uint256.Int).Add(split.Fee, split.JackpotShare)
	spent.Add(spent, split.ExecutorReward)
	net, underflow := new(uint256.Int).SubOverflow(reward, spent)
	if underflow {
		return pool.RewardSplit{}, fmt.Errorf("%w: shares exceed reward", ErrInvariantViolation)
	}
	split.NetPool = net

	remaining := new(uint256.Int).Set(net)
	split.Prizes = make([]*uint256.Int, 0, set.Tiers())
	for _, size := range set.PrizeSizes {
		prize := fraction(net, size)
		if _, underflow := remaining.SubOverflow(remaining, prize); underflow {
			return pool.RewardSplit{}, fmt.Errorf("%w: prize sizes exceed net pool", ErrInvariantViolation)
		}
		split.Prizes = append(split.Prizes, prize)
	}
	split.Prizes = append(split.Prizes, remaining)
	return split, nil
}

func fraction(v, frac *uint256.Int) *uint256.Int {
	if frac == nil {
		return new(uint256.Int)
	}
	// frac <= One, so the quotient fits and overflow cannot be reported
	out, _ := new(uint256.Int).MulDivOverflow(v, frac, pool.One)
	return out
}
