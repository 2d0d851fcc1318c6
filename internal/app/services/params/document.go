package params

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
)

// Document is the human-readable form of a Set, as found in YAML files and API payloads.
// Durations use time.ParseDuration syntax; amounts and fractions are decimal strings
// ("100", "0.05").
type Document struct {
	RoundDuration string   `yaml:"round_duration" json:"round_duration"`
	BlockTime     string   `yaml:"block_time" json:"block_time"`
	MinDeposit    string   `yaml:"min_deposit" json:"min_deposit"`
	MaxDeposit    string   `yaml:"max_deposit" json:"max_deposit"`
	PrizeSizes    []string `yaml:"prize_sizes" json:"prize_sizes"`
	Fee           string   `yaml:"fee" json:"fee"`
	FeeReceiver   string   `yaml:"fee_receiver" json:"fee_receiver"`
	JackpotShare  string   `yaml:"jackpot_share" json:"jackpot_share"`
	JackpotChance string   `yaml:"jackpot_chance" json:"jackpot_chance"`
	ExecutorShare string   `yaml:"executor_share" json:"executor_share"`
}

// Set parses and validates the document.
func (d Document) Set() (Set, error) {
	var (
		s   Set
		err error
	)
	if s.RoundDuration, err = parseDuration("round_duration", d.RoundDuration); err != nil {
		return Set{}, err
	}
	if s.BlockTime, err = parseDuration("block_time", d.BlockTime); err != nil {
		return Set{}, err
	}

	amounts := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"min_deposit", d.MinDeposit, &s.MinDeposit},
		{"max_deposit", d.MaxDeposit, &s.MaxDeposit},
		{"fee", d.Fee, &s.Fee},
		{"jackpot_share", d.JackpotShare, &s.JackpotShare},
		{"jackpot_chance", d.JackpotChance, &s.JackpotChance},
		{"executor_share", d.ExecutorShare, &s.ExecutorShare},
	}
	for _, a := range amounts {
		if *a.dst, err = parseAmount(a.name, a.raw); err != nil {
			return Set{}, err
		}
	}

	s.PrizeSizes = make([]*uint256.Int, 0, len(d.PrizeSizes))
	for i, raw := range d.PrizeSizes {
		v, err := parseAmount(fmt.Sprintf("prize_sizes[%d]", i), raw)
		if err != nil {
			return Set{}, err
		}
		s.PrizeSizes = append(s.PrizeSizes, v)
	}

	receiver := strings.TrimSpace(d.FeeReceiver)
	if !common.IsHexAddress(receiver) {
		return Set{}, fmt.Errorf("%w: fee_receiver %q is not an address", ErrInvalidParameter, d.FeeReceiver)
	}
	s.FeeReceiver = common.HexToAddress(receiver)

	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}

// DocumentOf renders s in its human-readable form.
func DocumentOf(s Set) Document {
	d := Document{
		RoundDuration: s.RoundDuration.String(),
		BlockTime:     s.BlockTime.String(),
		MinDeposit:    pool.FormatAmount(s.MinDeposit),
		MaxDeposit:    pool.FormatAmount(s.MaxDeposit),
		PrizeSizes:    make([]string, 0, len(s.PrizeSizes)),
		Fee:           pool.FormatAmount(s.Fee),
		FeeReceiver:   s.FeeReceiver.Hex(),
		JackpotShare:  pool.FormatAmount(s.JackpotShare),
		JackpotChance: pool.FormatAmount(s.JackpotChance),
		ExecutorShare: pool.FormatAmount(s.ExecutorShare),
	}
	for _, p := range s.PrizeSizes {
		d.PrizeSizes = append(d.PrizeSizes, pool.FormatAmount(p))
	}
	return d
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
	}
	return d, nil
}

func parseAmount(name, raw string) (*uint256.Int, error) {
	v, err := pool.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
	}
	return v, nil
}
