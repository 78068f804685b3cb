package safety

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

func TestCheckPositionCount(t *testing.T) {
	assert.True(t, CheckPositionCount(9, 10).Passed)
	assert.False(t, CheckPositionCount(10, 10).Passed)
	assert.False(t, CheckPositionCount(11, 10).Passed)
	// zero limit disables the check
	assert.True(t, CheckPositionCount(500, 0).Passed)
}

func TestCheckLotSize(t *testing.T) {
	assert.True(t, CheckLotSize(1.0, 1.0).Passed)
	assert.False(t, CheckLotSize(1.01, 1.0).Passed)
	assert.False(t, CheckLotSize(0, 1.0).Passed)
	assert.False(t, CheckLotSize(-0.5, 1.0).Passed)
	assert.True(t, CheckLotSize(100, 0).Passed)
}

func TestCheckDailyLossAtLimitFails(t *testing.T) {
	r := CheckDailyLoss(decimal.NewFromFloat(500), 500)
	assert.False(t, r.Passed)

	r = CheckDailyLoss(decimal.NewFromFloat(499.99), 500)
	assert.True(t, r.Passed)
}

func TestCheckDrawdown(t *testing.T) {
	peak := decimal.NewFromInt(10000)

	r := CheckDrawdown(decimal.NewFromInt(8500), peak, 20)
	assert.True(t, r.Passed)
	assert.InDelta(t, 15.0, r.Value, 0.001)

	r = CheckDrawdown(decimal.NewFromInt(8000), peak, 20)
	assert.False(t, r.Passed)

	// equity above peak is not a drawdown
	r = CheckDrawdown(decimal.NewFromInt(11000), peak, 20)
	assert.True(t, r.Passed)
	assert.Zero(t, r.Value)

	// no peak recorded yet
	assert.True(t, CheckDrawdown(decimal.NewFromInt(100), decimal.Zero, 20).Passed)
}

func TestCheckMarginBands(t *testing.T) {
	required := decimal.NewFromInt(1000)

	tests := []struct {
		name    string
		free    decimal.Decimal
		passed  bool
		warning bool
	}{
		{"below required fails", decimal.NewFromInt(999), false, false},
		{"exactly required warns", decimal.NewFromInt(1000), true, true},
		{"inside safety band warns", decimal.NewFromInt(1499), true, true},
		{"at threshold passes clean", decimal.NewFromInt(1500), true, false},
		{"ample margin passes clean", decimal.NewFromInt(5000), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CheckMargin(required, tt.free)
			assert.Equal(t, tt.passed, r.Passed)
			assert.Equal(t, tt.warning, r.Warning)
		})
	}
}

func TestCheckTradingHours(t *testing.T) {
	at := func(hour, min int) time.Time {
		return time.Date(2026, 8, 31, hour, min, 0, 0, time.UTC)
	}

	assert.True(t, CheckTradingHours(at(10, 0), []string{"london"}).Passed)
	assert.False(t, CheckTradingHours(at(17, 0), []string{"london"}).Passed)

	// tokyo wraps midnight: 23:00-08:00 UTC
	assert.True(t, CheckTradingHours(at(23, 30), []string{"tokyo"}).Passed)
	assert.True(t, CheckTradingHours(at(3, 0), []string{"tokyo"}).Passed)
	assert.False(t, CheckTradingHours(at(12, 0), []string{"tokyo"}).Passed)

	// any matching session suffices
	assert.True(t, CheckTradingHours(at(13, 0), []string{"tokyo", "newyork"}).Passed)

	// empty list disables the check
	assert.True(t, CheckTradingHours(at(2, 0), nil).Passed)
}

func TestEstimateCorrelation(t *testing.T) {
	assert.Equal(t, 1.0, estimateCorrelation("EURUSD", "EURUSD"))
	assert.Equal(t, 1.0, estimateCorrelation("EURUSD", "eurusd"))
	assert.Equal(t, 0.7, estimateCorrelation("EURUSD", "GBPUSD"))
	assert.Equal(t, 0.9, estimateCorrelation("EURUSD", "USDEUR"))
	assert.Equal(t, 0.0, estimateCorrelation("EURUSD", "AUDNZD"))
}

func TestCheckCorrelation(t *testing.T) {
	positions := []types.Position{
		{Symbol: "GBPUSD", Volume: 0.5},
		{Symbol: "AUDNZD", Volume: 0.2},
	}

	r := CheckCorrelation("EURUSD", positions, 0.8)
	assert.True(t, r.Passed)

	r = CheckCorrelation("GBPUSD", positions, 0.8)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "GBPUSD")

	assert.True(t, CheckCorrelation("GBPUSD", positions, 0).Passed)
}

func TestCheckExposure(t *testing.T) {
	positions := []types.Position{
		{Symbol: "EURUSD", Volume: 1.0},
		{Symbol: "GBPUSD", Volume: 0.5},
	}

	assert.True(t, CheckExposure(positions, 0.5, 2.0).Passed)
	assert.False(t, CheckExposure(positions, 0.6, 2.0).Passed)
	assert.True(t, CheckExposure(positions, 10, 0).Passed)
}

func TestCheckSpread(t *testing.T) {
	assert.True(t, CheckSpread(2.0, 3.0).Passed)
	assert.False(t, CheckSpread(3.1, 3.0).Passed)
	assert.True(t, CheckSpread(50, 0).Passed)
}
