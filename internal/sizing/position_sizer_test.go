package sizing

import (
	"testing"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFixedLotSizing(t *testing.T) {
	sizer := NewSizer(zap.NewNop())
	spec := types.PositionSizingSpec{
		Kind:   types.SizeFixedLot,
		Size:   decimal.NewFromFloat(0.5),
		MinLot: decimal.NewFromFloat(0.01),
		MaxLot: decimal.NewFromFloat(5),
	}
	lots, err := sizer.Size(spec, Inputs{Profile: types.ProfileDemo})
	require.NoError(t, err)
	assert.True(t, lots.Equal(decimal.NewFromFloat(0.5)))
}

func TestLiveAccountAppliesHalfReduction(t *testing.T) {
	sizer := NewSizer(zap.NewNop())
	spec := types.PositionSizingSpec{
		Kind:   types.SizeFixedLot,
		Size:   decimal.NewFromFloat(1.0),
		MinLot: decimal.NewFromFloat(0.01),
		MaxLot: decimal.NewFromFloat(5),
	}
	lots, err := sizer.Size(spec, Inputs{Profile: types.ProfileLive})
	require.NoError(t, err)
	assert.True(t, lots.Equal(decimal.NewFromFloat(0.5)))
}

func TestClampsToMaxLot(t *testing.T) {
	sizer := NewSizer(zap.NewNop())
	spec := types.PositionSizingSpec{
		Kind:   types.SizeFixedLot,
		Size:   decimal.NewFromFloat(10),
		MinLot: decimal.NewFromFloat(0.01),
		MaxLot: decimal.NewFromFloat(1),
	}
	lots, err := sizer.Size(spec, Inputs{Profile: types.ProfileDemo})
	require.NoError(t, err)
	assert.True(t, lots.Equal(decimal.NewFromFloat(1)))
}

func TestPercentageRiskSizing(t *testing.T) {
	sizer := NewSizer(zap.NewNop())
	spec := types.PositionSizingSpec{
		Kind:   types.SizePercentageRisk,
		Pct:    decimal.NewFromFloat(2), // 2% risk
		MinLot: decimal.NewFromFloat(0.01),
		MaxLot: decimal.NewFromFloat(100),
	}
	in := Inputs{
		Account:  types.AccountInfo{Balance: decimal.NewFromInt(10000)},
		Profile:  types.ProfileDemo,
		SLPips:   decimal.NewFromInt(20),
		PipValue: decimal.NewFromInt(10),
	}
	// risk_amount = 10000 * 0.02 = 200; lots = 200 / (20*10) = 1.0
	lots, err := sizer.Size(spec, in)
	require.NoError(t, err)
	assert.True(t, lots.Equal(decimal.NewFromFloat(1.0)))
}

func TestKellySizingClampedAndScaled(t *testing.T) {
	spec := types.PositionSizingSpec{
		WinRate:       decimal.NewFromFloat(0.6),
		AvgWin:        decimal.NewFromFloat(150),
		AvgLoss:       decimal.NewFromFloat(100),
		KellyFraction: decimal.NewFromFloat(0.25),
	}
	f, err := kelly(spec)
	require.NoError(t, err)
	// b=1.5, p=0.6, q=0.4: f=(0.6*1.5-0.4)/1.5 = 0.5/1.5 = 0.3333, clamped to 0.25, *0.25 = 0.0625
	assert.True(t, f.Equal(decimal.NewFromFloat(0.0625)))
}

func TestKellyRequiresNonZeroAvgLoss(t *testing.T) {
	spec := types.PositionSizingSpec{WinRate: decimal.NewFromFloat(0.5), AvgWin: decimal.NewFromInt(100)}
	_, err := kelly(spec)
	require.Error(t, err)
}
