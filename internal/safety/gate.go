package safety

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// Limits is the hot-reloadable safety configuration. Zero values disable
// the corresponding check.
type Limits struct {
	MaxDailyLoss       float64  `json:"maxDailyLoss" yaml:"max_daily_loss"`
	MaxPositions       int      `json:"maxPositions" yaml:"max_positions"`
	MaxLotSize         float64  `json:"maxLotSize" yaml:"max_lot_size"`
	MaxDrawdownPercent float64  `json:"maxDrawdownPercent" yaml:"max_drawdown_percent"`
	MaxTotalExposure   float64  `json:"maxTotalExposure" yaml:"max_total_exposure"`
	MaxCorrelation     float64  `json:"maxCorrelation" yaml:"max_correlation"`
	MaxSpread          float64  `json:"maxSpread" yaml:"max_spread"`
	RequireMarginCheck bool     `json:"requireMarginCheck" yaml:"require_margin_check"`
	CheckTradingHours  bool     `json:"checkTradingHours" yaml:"check_trading_hours"`
	CheckNewsEvents    bool     `json:"checkNewsEvents" yaml:"check_news_events"`
	AllowedSessions    []string `json:"allowedSessions" yaml:"allowed_sessions"`
}

// LimitsUpdate carries a partial limits change from a config-update
// control event. Nil fields keep the current value.
type LimitsUpdate struct {
	MaxDailyLoss       *float64 `json:"maxDailyLoss,omitempty"`
	MaxPositions       *int     `json:"maxPositions,omitempty"`
	MaxLotSize         *float64 `json:"maxLotSize,omitempty"`
	MaxDrawdownPercent *float64 `json:"maxDrawdownPercent,omitempty"`
	MaxTotalExposure   *float64 `json:"maxTotalExposure,omitempty"`
	MaxCorrelation     *float64 `json:"maxCorrelation,omitempty"`
	MaxSpread          *float64 `json:"maxSpread,omitempty"`
	RequireMarginCheck *bool    `json:"requireMarginCheck,omitempty"`
	CheckTradingHours  *bool    `json:"checkTradingHours,omitempty"`
	CheckNewsEvents    *bool    `json:"checkNewsEvents,omitempty"`
}

// NewsCalendar answers whether a symbol is inside a news blackout window.
type NewsCalendar interface {
	InBlackout(ctx context.Context, symbol string) bool
}

// Snapshot is the terminal state a check evaluation runs against. Nil
// members mean the data was unavailable; checks needing them degrade to
// pass rather than block on missing reads.
type Snapshot struct {
	Account   *types.AccountInfo
	Positions []types.Position
	Symbol    *types.SymbolInfo
}

// Gate aggregates the pre-trade checks behind a single CanExecute call.
// Limits are process-wide mutable state: reads vastly outnumber writes,
// a RWMutex keeps updates immediately visible to the next check.
type Gate struct {
	mu     sync.RWMutex
	limits Limits

	tracker *DailyTracker
	news    NewsCalendar

	now func() time.Time // test hook
}

// NewGate creates a gate with the given limits. news may be nil when the
// news check is disabled.
func NewGate(limits Limits, tracker *DailyTracker, news NewsCalendar) *Gate {
	if tracker == nil {
		tracker = NewDailyTracker()
	}
	return &Gate{
		limits:  limits,
		tracker: tracker,
		news:    news,
		now:     time.Now,
	}
}

// Limits returns a copy of the active limits.
func (g *Gate) Limits() Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// SetLimits replaces the active limits wholesale.
func (g *Gate) SetLimits(l Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = l
}

// ApplyUpdate merges a partial limits update, returning the result.
func (g *Gate) ApplyUpdate(u LimitsUpdate) Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.MaxDailyLoss != nil {
		g.limits.MaxDailyLoss = *u.MaxDailyLoss
	}
	if u.MaxPositions != nil {
		g.limits.MaxPositions = *u.MaxPositions
	}
	if u.MaxLotSize != nil {
		g.limits.MaxLotSize = *u.MaxLotSize
	}
	if u.MaxDrawdownPercent != nil {
		g.limits.MaxDrawdownPercent = *u.MaxDrawdownPercent
	}
	if u.MaxTotalExposure != nil {
		g.limits.MaxTotalExposure = *u.MaxTotalExposure
	}
	if u.MaxCorrelation != nil {
		g.limits.MaxCorrelation = *u.MaxCorrelation
	}
	if u.MaxSpread != nil {
		g.limits.MaxSpread = *u.MaxSpread
	}
	if u.RequireMarginCheck != nil {
		g.limits.RequireMarginCheck = *u.RequireMarginCheck
	}
	if u.CheckTradingHours != nil {
		g.limits.CheckTradingHours = *u.CheckTradingHours
	}
	if u.CheckNewsEvents != nil {
		g.limits.CheckNewsEvents = *u.CheckNewsEvents
	}
	return g.limits
}

// Tracker exposes the daily stats tracker shared with the executor.
func (g *Gate) Tracker() *DailyTracker {
	return g.tracker
}

// Evaluate runs every applicable check for the command against the
// snapshot. Read-only commands skip trade checks entirely.
func (g *Gate) Evaluate(ctx context.Context, cmd types.Command, snap Snapshot) []CheckResult {
	if !cmd.Kind.IsTrade() {
		return nil
	}

	limits := g.Limits()
	now := g.now()

	var symbol string
	var volume float64
	switch p := cmd.Params.(type) {
	case types.OpenPositionParams:
		symbol = p.Symbol
		volume = p.Volume
	case types.ClosePositionParams, types.CloseAllPositionsParams, types.ModifyPositionParams:
		// Closing and modifying reduce or bound risk; only the kill
		// switch may stop them. Handled by the executor before the gate.
		return nil
	}

	results := []CheckResult{
		CheckPositionCount(len(snap.Positions), limits.MaxPositions),
		CheckLotSize(volume, limits.MaxLotSize),
		CheckDailyLoss(g.tracker.DailyLoss(now), limits.MaxDailyLoss),
	}

	if snap.Account != nil {
		equity := decimal.NewFromFloat(snap.Account.Equity)
		g.tracker.UpdatePeakBalance(decimal.NewFromFloat(snap.Account.Balance))
		results = append(results, CheckDrawdown(equity, g.tracker.PeakBalance(), limits.MaxDrawdownPercent))

		if limits.RequireMarginCheck {
			results = append(results, CheckMargin(
				requiredMargin(snap, volume),
				decimal.NewFromFloat(snap.Account.FreeMargin),
			))
		}
	}

	if limits.CheckTradingHours {
		results = append(results, CheckTradingHours(now, limits.AllowedSessions))
	}

	results = append(results,
		CheckCorrelation(symbol, snap.Positions, limits.MaxCorrelation),
		CheckExposure(snap.Positions, volume, limits.MaxTotalExposure),
	)

	if snap.Symbol != nil {
		results = append(results, CheckSpread(snap.Symbol.Spread, limits.MaxSpread))
	}

	if limits.CheckNewsEvents && g.news != nil {
		results = append(results, CheckNewsBlackout(g.news.InBlackout(ctx, symbol), symbol))
	}

	for _, r := range results {
		if !r.Passed {
			logger.Risk(ctx, r.Name, "CHECK_FAILED",
				"command_id", cmd.ID,
				"reason", r.Reason,
				"value", r.Value,
				"limit", r.Limit,
			)
		} else if r.Warning {
			logger.Risk(ctx, r.Name, "CHECK_WARNING",
				"command_id", cmd.ID,
				"reason", r.Reason,
			)
		}
	}

	return results
}

// Failures extracts the non-warning failures from an evaluation.
func Failures(results []CheckResult) []string {
	var out []string
	for _, r := range results {
		if !r.Passed {
			out = append(out, r.Name+": "+r.Reason)
		}
	}
	return out
}

// requiredMargin estimates the margin the candidate trade consumes.
// Standard lot contract size over account leverage at the current ask.
func requiredMargin(snap Snapshot, volume float64) decimal.Decimal {
	if snap.Account == nil || snap.Symbol == nil || snap.Account.Leverage <= 0 || volume <= 0 {
		return decimal.Zero
	}
	const contractSize = 100000
	notional := decimal.NewFromFloat(volume).
		Mul(decimal.NewFromInt(contractSize)).
		Mul(decimal.NewFromFloat(snap.Symbol.Ask))
	return notional.Div(decimal.NewFromInt(int64(snap.Account.Leverage)))
}
