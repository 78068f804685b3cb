package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

type stubCalendar struct{ blackout bool }

func (s stubCalendar) InBlackout(context.Context, string) bool { return s.blackout }

func openCmd(symbol string, volume float64) types.Command {
	return types.Command{
		ID:       "cmd-1",
		Kind:     types.KindOpenPosition,
		Priority: types.PriorityNormal,
		Params:   types.OpenPositionParams{Symbol: symbol, Side: "BUY", Volume: volume},
	}
}

func healthySnapshot() Snapshot {
	return Snapshot{
		Account: &types.AccountInfo{
			Leverage:   100,
			Balance:    10000,
			Equity:     10000,
			FreeMargin: 9500,
		},
		Symbol: &types.SymbolInfo{Symbol: "EURUSD", Ask: 1.1, Spread: 1.2},
	}
}

func TestEvaluatePassesHealthyTrade(t *testing.T) {
	g := NewGate(Limits{
		MaxDailyLoss:       500,
		MaxPositions:       10,
		MaxLotSize:         1.0,
		MaxDrawdownPercent: 20,
		MaxTotalExposure:   5.0,
		MaxCorrelation:     0.8,
		MaxSpread:          3.0,
		RequireMarginCheck: true,
	}, nil, nil)

	results := g.Evaluate(context.Background(), openCmd("EURUSD", 0.1), healthySnapshot())
	require.NotEmpty(t, results)
	assert.Empty(t, Failures(results))
}

func TestEvaluateSkipsReadsAndRiskReducers(t *testing.T) {
	g := NewGate(Limits{MaxPositions: 1}, nil, nil)
	snap := Snapshot{Positions: []types.Position{{Symbol: "EURUSD"}, {Symbol: "GBPUSD"}}}

	for _, cmd := range []types.Command{
		{Kind: types.KindGetPositions, Params: types.GetPositionsParams{}},
		{Kind: types.KindGetAccountInfo, Params: types.GetAccountInfoParams{}},
		{Kind: types.KindClosePosition, Params: types.ClosePositionParams{Ticket: 1}},
		{Kind: types.KindCloseAllPositions, Params: types.CloseAllPositionsParams{}},
		{Kind: types.KindModifyPosition, Params: types.ModifyPositionParams{Ticket: 1}},
	} {
		assert.Nil(t, g.Evaluate(context.Background(), cmd, snap), string(cmd.Kind))
	}
}

func TestEvaluateCollectsFailures(t *testing.T) {
	g := NewGate(Limits{
		MaxPositions: 2,
		MaxLotSize:   0.5,
	}, nil, nil)
	snap := healthySnapshot()
	snap.Positions = []types.Position{{Symbol: "USDJPY"}, {Symbol: "AUDNZD"}}

	results := g.Evaluate(context.Background(), openCmd("EURUSD", 1.0), snap)
	failures := Failures(results)
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "position_count")
	assert.Contains(t, failures[1], "lot_size")
}

func TestEvaluateMarginWarningDoesNotFail(t *testing.T) {
	g := NewGate(Limits{RequireMarginCheck: true}, nil, nil)
	snap := healthySnapshot()
	// required margin: 1.0 * 100000 * 1.1 / 100 = 1100; free sits inside
	// the 1.0x-1.5x band
	snap.Account.FreeMargin = 1200

	results := g.Evaluate(context.Background(), openCmd("EURUSD", 1.0), snap)
	assert.Empty(t, Failures(results))
	var warned bool
	for _, r := range results {
		if r.Name == "margin" {
			warned = r.Warning
		}
	}
	assert.True(t, warned)
}

func TestEvaluateNewsBlackout(t *testing.T) {
	g := NewGate(Limits{CheckNewsEvents: true}, nil, stubCalendar{blackout: true})

	results := g.Evaluate(context.Background(), openCmd("EURUSD", 0.1), healthySnapshot())
	failures := Failures(results)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "news_blackout")
}

func TestEvaluateTradingHours(t *testing.T) {
	g := NewGate(Limits{CheckTradingHours: true, AllowedSessions: []string{"london"}}, nil, nil)
	g.now = func() time.Time { return time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC) }

	results := g.Evaluate(context.Background(), openCmd("EURUSD", 0.1), healthySnapshot())
	failures := Failures(results)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "trading_hours")
}

func TestApplyUpdateMergesPartial(t *testing.T) {
	g := NewGate(Limits{MaxDailyLoss: 500, MaxPositions: 10, MaxLotSize: 1.0}, nil, nil)

	lot := 0.5
	margin := true
	got := g.ApplyUpdate(LimitsUpdate{MaxLotSize: &lot, RequireMarginCheck: &margin})

	assert.Equal(t, 0.5, got.MaxLotSize)
	assert.True(t, got.RequireMarginCheck)
	// untouched fields keep their values
	assert.Equal(t, 500.0, got.MaxDailyLoss)
	assert.Equal(t, 10, got.MaxPositions)
}

func TestEvaluateUpdatesPeakBalance(t *testing.T) {
	g := NewGate(Limits{MaxDrawdownPercent: 20}, nil, nil)
	snap := healthySnapshot()
	snap.Account.Balance = 12000

	g.Evaluate(context.Background(), openCmd("EURUSD", 0.1), snap)
	assert.Equal(t, "12000", g.Tracker().PeakBalance().String())

	// a lower balance never lowers the peak
	snap.Account.Balance = 9000
	g.Evaluate(context.Background(), openCmd("EURUSD", 0.1), snap)
	assert.Equal(t, "12000", g.Tracker().PeakBalance().String())
}
