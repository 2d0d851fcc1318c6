package pool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/pkg/sortition"
)

// Phase is the position of the current round in its lifecycle.
type Phase string

const (
	PhaseOpen      Phase = "open"      // deposits and withdrawals accepted
	PhaseLocked    Phase = "locked"    // seed is being finalized, balances frozen
	PhaseCloseable Phase = "closeable" // round duration elapsed, waiting for CloseRound
)

// RewardSplit is the division of one round's reward. Prizes are ordered by tier and
// always sum to NetPool.
type RewardSplit struct {
	Total          *uint256.Int   `json:"total"`
	Fee            *uint256.Int   `json:"fee"`
	JackpotShare   *uint256.Int   `json:"jackpot_share"`
	ExecutorReward *uint256.Int   `json:"executor_reward"`
	NetPool        *uint256.Int   `json:"net_pool"`
	Prizes         []*uint256.Int `json:"prizes"`
}

// Outcome reports everything a round close did. Winners and Prizes are aligned by tier;
// a tier without a member holds the zero address and was not paid.
type Outcome struct {
	RoundID        uint64           `json:"round_id"`
	Seed           *uint256.Int     `json:"seed"`
	Winners        []common.Address `json:"winners"`
	Prizes         []*uint256.Int   `json:"prizes"`
	Fee            *uint256.Int     `json:"fee"`
	FeeReceiver    common.Address   `json:"fee_receiver"`
	JackpotShare   *uint256.Int     `json:"jackpot_share"`
	ExecutorReward *uint256.Int     `json:"executor_reward"`
	Executor       common.Address   `json:"executor"`
	JackpotWinner  common.Address   `json:"jackpot_winner"`
	JackpotPrize   *uint256.Int     `json:"jackpot_prize"`
	ClosedAt       time.Time        `json:"closed_at"`
}

// JackpotWon reports whether the outcome paid the jackpot.
func (o Outcome) JackpotWon() bool {
	return o.JackpotWinner != sortition.NoWinner
}

// RoundInfo is a read-only view of the engine.
type RoundInfo struct {
	RoundID        uint64       `json:"round_id"`
	StartedAt      time.Time    `json:"started_at"`
	LockStart      time.Time    `json:"lock_start"`
	RoundEnd       time.Time    `json:"round_end"`
	Phase          Phase        `json:"phase"`
	Jackpot        *uint256.Int `json:"jackpot"`
	TotalDeposited *uint256.Int `json:"total_deposited"`
	Participants   int          `json:"participants"`
}

// RoundRecord is a persisted round outcome.
type RoundRecord struct {
	ID        string    `json:"id"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// EngineState is what has to survive a restart: the round clock, the jackpot and the
// exact tree layout so that restored draws match. Seq counts committed changes; a state
// with a higher Seq is always newer.
type EngineState struct {
	Seq       uint64           `json:"seq"`
	RoundID   uint64           `json:"round_id"`
	StartedAt time.Time        `json:"started_at"`
	Jackpot   *uint256.Int     `json:"jackpot"`
	Layout    sortition.Layout `json:"layout"`
}

// EventKind names a notification emitted by the engine.
type EventKind string

const (
	EventDeposited EventKind = "deposited"
	EventWithdrawn EventKind = "withdrawn"
	EventRewarded  EventKind = "rewarded"
	EventJackpot   EventKind = "jackpot"
)

// Event is a committed state change. Deposited and Withdrawn carry Participant and Amount;
// Rewarded and Jackpot carry the round Outcome.
type Event struct {
	Kind        EventKind      `json:"kind"`
	RoundID     uint64         `json:"round_id"`
	Participant common.Address `json:"participant,omitempty"`
	Amount      *uint256.Int   `json:"amount,omitempty"`
	Outcome     *Outcome       `json:"outcome,omitempty"`
	At          time.Time      `json:"at"`

	// Seq and State are taken under the engine lock when the change commits. Every event
	// of one commit shares them.
	Seq   uint64       `json:"seq"`
	State *EngineState `json:"-"`
}
