package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(``))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_FullFile(t *testing.T) {
	cfg, err := Parse([]byte(`
top_tier_size: 5
contributor_band_end: 50
min_contributions: 3
net_fee_ratio: "0.8"
tier_ratio: "0.55"
winner_ratio: "0.45"
transfer_hold: 48h
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.TopTierSize)
	assert.Equal(t, 50, cfg.ContributorBandEnd)
	assert.Equal(t, 3, cfg.MinContributions)
	assert.Equal(t, int64(8000), cfg.NetFeeBps)
	assert.Equal(t, int64(5500), cfg.TierBps)
	assert.Equal(t, int64(4500), cfg.WinnerBps)
	assert.Equal(t, 48*time.Hour, cfg.TransferHold)
}

func TestParse_RatioErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"ratios do not sum to one", "tier_ratio: \"0.6\"\nwinner_ratio: \"0.3\""},
		{"ratio above one", "net_fee_ratio: \"1.5\""},
		{"ratio zero", "net_fee_ratio: \"0\""},
		{"ratio negative", "net_fee_ratio: \"-0.1\""},
		{"ratio finer than basis points", "net_fee_ratio: \"0.12345\""},
		{"ratio not a number", "net_fee_ratio: \"sixty percent\""},
		{"tier without winner", "tier_ratio: \"0.6\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidRatios)
		})
	}
}

func TestParse_ThresholdErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"band inside top tier", "top_tier_size: 10\ncontributor_band_end: 10"},
		{"band below top tier", "top_tier_size: 20\ncontributor_band_end: 5"},
		{"negative min contributions", "min_contributions: -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidThresholds)
		})
	}
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("top_tier_size: [not, a, number"))
	assert.Error(t, err)
}

func TestParse_BadHoldDuration(t *testing.T) {
	_, err := Parse([]byte("transfer_hold: tomorrow"))
	assert.Error(t, err)
}

func TestValidate_DefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate_SplitMustSumExactly(t *testing.T) {
	cfg := Default()
	cfg.TierBps = 6000
	cfg.WinnerBps = 4001
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidRatios)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/ranking.yaml")
	assert.Error(t, err)
}

func TestRatioBps_Exact(t *testing.T) {
	bps, err := ratioBps("0.6667")
	require.NoError(t, err)
	assert.Equal(t, int64(6667), bps)

	bps, err = ratioBps("1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bps)
}
