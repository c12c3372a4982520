// Package config holds the engine parameters: fee ratio, band boundaries,
// split ratios, and the transfer hold period. Parameters come from a YAML
// file with built-in defaults; deploy-time wiring (database, redis, port)
// stays in environment variables in cmd/server.
//
// Ratios are parsed with shopspring/decimal and validated exactly — the
// two split ratios must sum to precisely 1, and every ratio must be
// expressible in basis points so the engine can do pure integer math on
// cent amounts.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidRatios is returned when the split ratios do not sum to
	// exactly 1, or a ratio is outside (0, 1), or cannot be expressed in
	// whole basis points. Fatal: the engine must not move money under a
	// malformed split.
	ErrInvalidRatios = errors.New("config: invalid split ratios")

	// ErrInvalidThresholds is returned when the band boundaries or the
	// minimum-contribution threshold are malformed.
	ErrInvalidThresholds = errors.New("config: invalid ranking thresholds")
)

// Engine is the validated engine configuration. Ratio fields are kept in
// basis points; the original decimals survive only for reporting.
type Engine struct {
	// TopTierSize is the number of top ranks whose owners receive the
	// owner side of the payout (ranks 1..TopTierSize).
	TopTierSize int

	// ContributorBandEnd is the last rank of the contributor band
	// (ranks TopTierSize+1..ContributorBandEnd fund the pool).
	ContributorBandEnd int

	// MinContributions excludes items with fewer contributions from the
	// ranking entirely.
	MinContributions int

	// NetFeeBps is the owner's share of gross in basis points; net sales
	// for ranking are grossCents * NetFeeBps / 10000, floored.
	NetFeeBps int64

	// TierBps and WinnerBps split the pool between the two recipient
	// groups. They always sum to 10000.
	TierBps   int64
	WinnerBps int64

	// TransferHold is how long external transfers are held after a run
	// finalizes before the worker releases them.
	TransferHold time.Duration
}

// fileConfig is the YAML shape. Ratios are strings so they can be parsed
// exactly rather than through float64.
type fileConfig struct {
	TopTierSize        int    `yaml:"top_tier_size"`
	ContributorBandEnd int    `yaml:"contributor_band_end"`
	MinContributions   int    `yaml:"min_contributions"`
	NetFeeRatio        string `yaml:"net_fee_ratio"`
	TierRatio          string `yaml:"tier_ratio"`
	WinnerRatio        string `yaml:"winner_ratio"`
	TransferHold       string `yaml:"transfer_hold"`
}

// Default returns the production defaults: top 10 owners, contributor band
// 11–100, 70% net fee, 60/40 split, 24h transfer hold.
func Default() Engine {
	return Engine{
		TopTierSize:        10,
		ContributorBandEnd: 100,
		MinContributions:   1,
		NetFeeBps:          7000,
		TierBps:            6000,
		WinnerBps:          4000,
		TransferHold:       24 * time.Hour,
	}
}

// Load reads a YAML config file and validates it. Missing fields keep
// their defaults.
func Load(path string) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds an Engine from YAML bytes, applying defaults for absent
// fields and validating the result.
func Parse(data []byte) (Engine, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Engine{}, fmt.Errorf("config: parse yaml: %w", err)
	}

	cfg := Default()
	if fc.TopTierSize != 0 {
		cfg.TopTierSize = fc.TopTierSize
	}
	if fc.ContributorBandEnd != 0 {
		cfg.ContributorBandEnd = fc.ContributorBandEnd
	}
	if fc.MinContributions != 0 {
		cfg.MinContributions = fc.MinContributions
	}
	if fc.NetFeeRatio != "" {
		bps, err := ratioBps(fc.NetFeeRatio)
		if err != nil {
			return Engine{}, err
		}
		cfg.NetFeeBps = bps
	}
	if fc.TierRatio != "" || fc.WinnerRatio != "" {
		if fc.TierRatio == "" || fc.WinnerRatio == "" {
			return Engine{}, fmt.Errorf("%w: tier_ratio and winner_ratio must be set together", ErrInvalidRatios)
		}
		tier, err := ratioBps(fc.TierRatio)
		if err != nil {
			return Engine{}, err
		}
		winner, err := ratioBps(fc.WinnerRatio)
		if err != nil {
			return Engine{}, err
		}
		cfg.TierBps = tier
		cfg.WinnerBps = winner
	}
	if fc.TransferHold != "" {
		d, err := time.ParseDuration(fc.TransferHold)
		if err != nil {
			return Engine{}, fmt.Errorf("config: parse transfer_hold: %w", err)
		}
		cfg.TransferHold = d
	}

	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}
	return cfg, nil
}

// Validate checks every invariant the engine depends on. It must be called
// before any run: a bad split ratio aborts before money moves.
func (c Engine) Validate() error {
	if c.TopTierSize < 1 {
		return fmt.Errorf("%w: top_tier_size %d < 1", ErrInvalidThresholds, c.TopTierSize)
	}
	if c.ContributorBandEnd <= c.TopTierSize {
		return fmt.Errorf("%w: contributor_band_end %d must exceed top_tier_size %d",
			ErrInvalidThresholds, c.ContributorBandEnd, c.TopTierSize)
	}
	if c.MinContributions < 1 {
		return fmt.Errorf("%w: min_contributions %d < 1", ErrInvalidThresholds, c.MinContributions)
	}
	if c.NetFeeBps <= 0 || c.NetFeeBps > 10000 {
		return fmt.Errorf("%w: net fee %d bps outside (0, 10000]", ErrInvalidRatios, c.NetFeeBps)
	}
	if c.TierBps <= 0 || c.WinnerBps <= 0 {
		return fmt.Errorf("%w: split ratios must be positive", ErrInvalidRatios)
	}
	if c.TierBps+c.WinnerBps != 10000 {
		return fmt.Errorf("%w: tier %d + winner %d bps != 10000",
			ErrInvalidRatios, c.TierBps, c.WinnerBps)
	}
	if c.TransferHold < 0 {
		return fmt.Errorf("config: negative transfer_hold %s", c.TransferHold)
	}
	return nil
}

// ratioBps converts a decimal ratio string ("0.60") to basis points,
// requiring an exact whole-bps representation.
func ratioBps(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: ratio %q: %v", ErrInvalidRatios, s, err)
	}
	if d.LessThanOrEqual(decimal.Zero) || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("%w: ratio %s outside (0, 1]", ErrInvalidRatios, s)
	}
	bps := d.Mul(decimal.NewFromInt(10000))
	if !bps.IsInteger() {
		return 0, fmt.Errorf("%w: ratio %s is not a whole number of basis points", ErrInvalidRatios, s)
	}
	return bps.IntPart(), nil
}
