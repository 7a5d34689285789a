package regime

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClassifyVolatilityTakesPriorityOverTrend(t *testing.T) {
	adx := decimal.NewFromInt(30)
	plusDI := decimal.NewFromInt(40)
	minusDI := decimal.NewFromInt(10)
	pricePos := decimal.NewFromInt(2)
	volRatio := decimal.NewFromFloat(1.8)

	regimeType, _, _ := classify(adx, plusDI, minusDI, pricePos, volRatio)
	assert.Equal(t, HighVolatility, regimeType)
}

func TestClassifyBullishTrending(t *testing.T) {
	adx := decimal.NewFromInt(30)
	plusDI := decimal.NewFromInt(40)
	minusDI := decimal.NewFromInt(10)
	pricePos := decimal.NewFromInt(2)
	volRatio := decimal.NewFromFloat(1.0)

	regimeType, confidence, _ := classify(adx, plusDI, minusDI, pricePos, volRatio)
	assert.Equal(t, BullishTrending, regimeType)
	assert.Greater(t, confidence, 0.5)
	assert.True(t, SizeMultiplier(regimeType).Equal(decimal.NewFromFloat(1.5)))
}

func TestClassifyBearishTrending(t *testing.T) {
	adx := decimal.NewFromInt(30)
	plusDI := decimal.NewFromInt(10)
	minusDI := decimal.NewFromInt(40)
	pricePos := decimal.NewFromInt(-2)
	volRatio := decimal.NewFromFloat(1.0)

	regimeType, _, _ := classify(adx, plusDI, minusDI, pricePos, volRatio)
	assert.Equal(t, BearishTrending, regimeType)
}

func TestClassifyBreakout(t *testing.T) {
	adx := decimal.NewFromInt(20)
	plusDI := decimal.NewFromInt(15)
	minusDI := decimal.NewFromInt(10)
	pricePos := decimal.NewFromInt(1)
	volRatio := decimal.NewFromFloat(0.75)

	regimeType, _, _ := classify(adx, plusDI, minusDI, pricePos, volRatio)
	assert.Equal(t, Breakout, regimeType)
}

func TestClassifyRangingDefault(t *testing.T) {
	adx := decimal.NewFromInt(10)
	plusDI := decimal.NewFromInt(15)
	minusDI := decimal.NewFromInt(10)
	pricePos := decimal.NewFromInt(1)
	volRatio := decimal.NewFromFloat(1.0)

	regimeType, _, _ := classify(adx, plusDI, minusDI, pricePos, volRatio)
	assert.Equal(t, Ranging, regimeType)
}

func TestClassifyBoundaryLowVolatility(t *testing.T) {
	adx := decimal.NewFromInt(10)
	plusDI := decimal.NewFromInt(10)
	minusDI := decimal.NewFromInt(10)
	pricePos := decimal.Zero
	volRatio := decimal.NewFromFloat(0.5)

	regimeType, _, _ := classify(adx, plusDI, minusDI, pricePos, volRatio)
	assert.Equal(t, LowVolatility, regimeType)
}
