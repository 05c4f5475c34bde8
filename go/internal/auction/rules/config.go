package rules

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// FormatRules holds the constants one auction format runs under.
type FormatRules struct {
	MinIncrement       int64         `yaml:"min_increment"`
	ExtensionThreshold time.Duration `yaml:"extension_threshold"`
	ExtensionWindow    time.Duration `yaml:"extension_window"`
	ImmediateTransfer  bool          `yaml:"immediate_transfer"`

	// theft
	StealFraction      float64 `yaml:"steal_fraction"`
	MaxLossesPerTarget int     `yaml:"max_losses_per_target"`
	MaxWinsPerPair     int     `yaml:"max_wins_per_pair"`
	MaxWinsPerBidder   int     `yaml:"max_wins_per_bidder"`

	// dark
	RevealThresholds []int64 `yaml:"reveal_thresholds"`
}

// Table is the per-format configuration loaded at startup.
type Table struct {
	System FormatRules `yaml:"system"`
	Dark   FormatRules `yaml:"dark"`
	Theft  FormatRules `yaml:"theft"`
}

// DefaultTable returns the built-in constants used when no file overrides them.
func DefaultTable() Table {
	return Table{
		System: FormatRules{
			MinIncrement:       2_000_000,
			ExtensionThreshold: 15 * time.Second,
			ExtensionWindow:    30 * time.Second,
		},
		Dark: FormatRules{
			MinIncrement:       1_000_000,
			ExtensionThreshold: 15 * time.Second,
			ExtensionWindow:    20 * time.Second,
			RevealThresholds:   []int64{5_000_000, 10_000_000, 20_000_000, 40_000_000},
		},
		Theft: FormatRules{
			ExtensionThreshold: 15 * time.Second,
			ExtensionWindow:    15 * time.Second,
			ImmediateTransfer:  true,
			StealFraction:      0.1,
			MaxLossesPerTarget: 3,
			MaxWinsPerPair:     2,
			MaxWinsPerBidder:   5,
		},
	}
}

// LoadTable reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read formats file: %w", err)
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("failed to parse formats file: %w", err)
	}
	if err := table.Validate(); err != nil {
		return Table{}, err
	}

	log.Info().Str("path", path).Msg("loaded auction format rules")
	return table, nil
}

// Validate checks every format for values the engine cannot run with.
func (t Table) Validate() error {
	var errs []error
	for format, fr := range t.all() {
		if format != models.AuctionFormatTheft && fr.MinIncrement <= 0 {
			errs = append(errs, fmt.Errorf("%s: min_increment must be positive", format))
		}
		if fr.ExtensionThreshold < 0 || fr.ExtensionWindow < 0 {
			errs = append(errs, fmt.Errorf("%s: extension durations must not be negative", format))
		}
	}
	if t.Theft.StealFraction <= 0 || t.Theft.StealFraction > 1 {
		errs = append(errs, fmt.Errorf("theft: steal_fraction must be in (0, 1]"))
	}
	for i := 1; i < len(t.Dark.RevealThresholds); i++ {
		if t.Dark.RevealThresholds[i] <= t.Dark.RevealThresholds[i-1] {
			errs = append(errs, fmt.Errorf("dark: reveal_thresholds must be strictly increasing"))
			break
		}
	}
	return errors.Join(errs...)
}

func (t Table) all() map[models.AuctionFormat]FormatRules {
	return map[models.AuctionFormat]FormatRules{
		models.AuctionFormatSystem: t.System,
		models.AuctionFormatDark:   t.Dark,
		models.AuctionFormatTheft:  t.Theft,
	}
}

// For returns the rules for a format.
func (t Table) For(format models.AuctionFormat) (FormatRules, error) {
	switch format {
	case models.AuctionFormatSystem:
		return t.System, nil
	case models.AuctionFormatDark:
		return t.Dark, nil
	case models.AuctionFormatTheft:
		return t.Theft, nil
	}
	return FormatRules{}, fmt.Errorf("unknown auction format %q", format)
}

// Increment is the minimum step above the current price. Theft auctions step
// by a fraction of the stolen asset's value instead of a fixed constant.
func (fr FormatRules) Increment(a *models.Auction) int64 {
	if a.Format == models.AuctionFormatTheft {
		step := int64(math.Ceil(fr.StealFraction * float64(a.Subject.Value)))
		if step < 1 {
			step = 1
		}
		return step
	}
	return fr.MinIncrement
}

// MinimumBid is the lowest admissible amount for the next bid.
func (fr FormatRules) MinimumBid(a *models.Auction) int64 {
	return a.CurrentPrice + fr.Increment(a)
}

// Due is what bidder pays out of their balance for amount. Under immediate
// transfer the leader's current price is already in escrow, so a self-raise
// costs only the difference.
func (fr FormatRules) Due(a *models.Auction, bidder uuid.UUID, amount int64) int64 {
	if fr.ImmediateTransfer && a.IsLeader(bidder) {
		return amount - a.CurrentPrice
	}
	return amount
}
