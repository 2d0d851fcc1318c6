package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	app "github.com/R3E-Network/prizepool/internal/app"
	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
	"github.com/R3E-Network/prizepool/internal/app/services/lottery"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
	"github.com/R3E-Network/prizepool/internal/app/services/randomness"
	"github.com/R3E-Network/prizepool/internal/config"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

var (
	simAdmin    = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	simTreasury = common.HexToAddress("0x00000000000000000000000000000000000fee00")
	simExecutor = common.HexToAddress("0x000000000000000000000000000000000000cee9")
)

type simOptions struct {
	Rounds       int
	Participants int
	Deposit      string // per weight step, participant i deposits (i+1)*Deposit
	Reward       string // accrued before every close
	Seed         uint64
	Interval     uint64
	ParamsFile   string
}

type simParticipant struct {
	Address   common.Address
	Deposited *uint256.Int
	Chance    *uint256.Int
	FirstTier int
	AnyTier   int
	Jackpots  int
}

type simReport struct {
	Rounds       int
	Participants []simParticipant
	Jackpots     int
	FeesPaid     *uint256.Int
}

func newSimulateCommand() *cobra.Command {
	opts := simOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run rounds against a simulated clock and print win frequencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := runSimulation(cmd.Context(), opts, logger.Discard())
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.Rounds, "rounds", 100, "number of rounds to close")
	flags.IntVar(&opts.Participants, "participants", 3, "number of participants")
	flags.StringVar(&opts.Deposit, "deposit", "10", "deposit step; participant i deposits (i+1) steps")
	flags.StringVar(&opts.Reward, "reward", "1", "reward accrued before each close")
	flags.Uint64Var(&opts.Seed, "seed", 2024, "secret of the simulated randomness source")
	flags.Uint64Var(&opts.Interval, "interval", 10, "seed update interval in blocks")
	flags.StringVar(&opts.ParamsFile, "params", "", "YAML parameter file; built-in defaults when empty")
	return cmd
}

func defaultSimParams() params.Set {
	return params.Set{
		RoundDuration: 24 * time.Hour,
		BlockTime:     5 * time.Second,
		MinDeposit:    pool.Units(1),
		MaxDeposit:    pool.Units(1_000_000),
		PrizeSizes:    []*uint256.Int{pool.MustParseAmount("0.5"), pool.MustParseAmount("0.3")},
		Fee:           pool.MustParseAmount("0.05"),
		FeeReceiver:   simTreasury,
		JackpotShare:  pool.MustParseAmount("0.1"),
		JackpotChance: pool.MustParseAmount("0.01"),
		ExecutorShare: pool.MustParseAmount("0.01"),
	}
}

func runSimulation(ctx context.Context, opts simOptions, log *logger.Logger) (simReport, error) {
	if opts.Rounds <= 0 || opts.Participants <= 0 {
		return simReport{}, fmt.Errorf("rounds and participants must be positive")
	}
	step, err := pool.ParseAmount(opts.Deposit)
	if err != nil {
		return simReport{}, err
	}
	reward, err := pool.ParseAmount(opts.Reward)
	if err != nil {
		return simReport{}, err
	}

	admin, set := simAdmin, defaultSimParams()
	if opts.ParamsFile != "" {
		if admin, set, err = config.LoadParams(opts.ParamsFile, ""); err != nil {
			return simReport{}, err
		}
	}

	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	source, err := randomness.NewPhaseSource(randomness.PhaseConfig{
		Clock:     clock,
		BlockTime: set.BlockTime,
		Interval:  opts.Interval,
		Secret:    uint256.NewInt(opts.Seed),
	})
	if err != nil {
		return simReport{}, err
	}
	application, err := app.New(ctx, app.Options{Admin: admin, Params: set, Source: source, Clock: clock}, log)
	if err != nil {
		return simReport{}, err
	}
	engine, vault := application.Engine, application.Vault

	report := simReport{Rounds: opts.Rounds, FeesPaid: new(uint256.Int)}
	index := make(map[common.Address]int, opts.Participants)
	for i := 0; i < opts.Participants; i++ {
		addr := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		amount := new(uint256.Int).Mul(step, uint256.NewInt(uint64(i+1)))
		vault.Fund(addr, amount)
		if err := engine.Deposit(ctx, addr, amount); err != nil {
			return simReport{}, fmt.Errorf("deposit for participant %d: %w", i, err)
		}
		index[addr] = i
		report.Participants = append(report.Participants, simParticipant{Address: addr, Deposited: amount})
	}
	for i := range report.Participants {
		report.Participants[i].Chance = engine.ChanceOf(report.Participants[i].Address)
	}

	maxWait := 2*int(opts.Interval) + 1
	for r := 0; r < opts.Rounds; r++ {
		vault.Accrue(reward)
		clock.Advance(engine.RoundEnd().Sub(clock.Now()))

		var outcome pool.Outcome
		for attempt := 0; ; attempt++ {
			outcome, err = engine.CloseRound(ctx, simExecutor)
			if err == nil {
				break
			}
			if !errors.Is(err, lottery.ErrSeedNotReady) || attempt >= maxWait {
				return simReport{}, fmt.Errorf("close round %d: %w", engine.RoundID(), err)
			}
			clock.Advance(set.BlockTime)
		}

		for tier, winner := range outcome.Winners {
			i, ok := index[winner]
			if !ok {
				continue
			}
			report.Participants[i].AnyTier++
			if tier == 0 {
				report.Participants[i].FirstTier++
			}
		}
		if outcome.JackpotWon() {
			report.Jackpots++
			if i, ok := index[outcome.JackpotWinner]; ok {
				report.Participants[i].Jackpots++
			}
		}
		report.FeesPaid.Add(report.FeesPaid, outcome.Fee)
	}
	return report, nil
}

func printReport(out io.Writer, report simReport) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "participant\tdeposit\tchance\tfirst tier\tfrequency\tany tier\tjackpots")
	for _, p := range report.Participants {
		freq := float64(p.FirstTier) / float64(report.Rounds)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.3f\t%d\t%d\n", p.Address.Hex(), pool.FormatAmount(p.Deposited),
			pool.FormatAmount(p.Chance), p.FirstTier, freq, p.AnyTier, p.Jackpots)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\nrounds %d, jackpots %d, fees %s\n", report.Rounds, report.Jackpots, pool.FormatAmount(report.FeesPaid))
	return err
}
