// Package safety implements the pre-trade check functions, the safety
// gate that aggregates them, and the emergency-stop state machine.
package safety

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// CheckResult is the outcome of a single pre-trade check. A trade is
// allowed only when zero non-warning checks fail.
type CheckResult struct {
	Name    string  `json:"name"`
	Passed  bool    `json:"passed"`
	Warning bool    `json:"warning,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
}

func pass(name string, value, limit float64) CheckResult {
	return CheckResult{Name: name, Passed: true, Value: value, Limit: limit}
}

func fail(name, reason string, value, limit float64) CheckResult {
	return CheckResult{Name: name, Passed: false, Reason: reason, Value: value, Limit: limit}
}

func warn(name, reason string, value, limit float64) CheckResult {
	return CheckResult{Name: name, Passed: true, Warning: true, Reason: reason, Value: value, Limit: limit}
}

// marginSafetyMultiplier is the free-margin headroom required before a
// trade passes cleanly. Between 1.0x and the multiplier the check warns;
// below 1.0x it fails.
const marginSafetyMultiplier = 1.5

// CheckPositionCount validates the open-position count against the limit.
func CheckPositionCount(open, max int) CheckResult {
	const name = "position_count"
	if max <= 0 {
		return pass(name, float64(open), 0)
	}
	if open >= max {
		return fail(name, fmt.Sprintf("max positions reached (%d/%d)", open, max), float64(open), float64(max))
	}
	return pass(name, float64(open), float64(max))
}

// CheckLotSize validates the requested volume against the lot limit.
func CheckLotSize(volume, max float64) CheckResult {
	const name = "lot_size"
	if max <= 0 {
		return pass(name, volume, 0)
	}
	if volume <= 0 {
		return fail(name, "volume must be positive", volume, max)
	}
	if volume > max {
		return fail(name, fmt.Sprintf("lot size %.2f exceeds max %.2f", volume, max), volume, max)
	}
	return pass(name, volume, max)
}

// CheckDailyLoss validates accumulated loss for the day against the limit.
func CheckDailyLoss(dailyLoss decimal.Decimal, maxDailyLoss float64) CheckResult {
	const name = "daily_loss"
	if maxDailyLoss <= 0 {
		return pass(name, dailyLoss.InexactFloat64(), 0)
	}
	limit := decimal.NewFromFloat(maxDailyLoss)
	if dailyLoss.GreaterThanOrEqual(limit) {
		return fail(name,
			fmt.Sprintf("max daily loss reached (%s/%s)", dailyLoss.StringFixed(2), limit.StringFixed(2)),
			dailyLoss.InexactFloat64(), maxDailyLoss)
	}
	return pass(name, dailyLoss.InexactFloat64(), maxDailyLoss)
}

// CheckDrawdown validates equity drawdown from the peak balance against
// the percent limit.
func CheckDrawdown(equity, peakBalance decimal.Decimal, maxPercent float64) CheckResult {
	const name = "drawdown"
	if maxPercent <= 0 || peakBalance.IsZero() || peakBalance.IsNegative() {
		return pass(name, 0, maxPercent)
	}
	dd := peakBalance.Sub(equity).Div(peakBalance).Mul(decimal.NewFromInt(100))
	if dd.IsNegative() {
		dd = decimal.Zero
	}
	value := dd.InexactFloat64()
	if value >= maxPercent {
		return fail(name,
			fmt.Sprintf("max drawdown reached (%.2f%%/%.2f%%)", value, maxPercent),
			value, maxPercent)
	}
	return pass(name, value, maxPercent)
}

// CheckMargin validates free margin against the margin required for the
// trade. Below 1.0x required is a hard fail; between 1.0x and 1.5x is a
// warning.
func CheckMargin(requiredMargin, freeMargin decimal.Decimal) CheckResult {
	const name = "margin"
	if requiredMargin.IsZero() || requiredMargin.IsNegative() {
		return pass(name, freeMargin.InexactFloat64(), 0)
	}
	required := requiredMargin.InexactFloat64()
	free := freeMargin.InexactFloat64()
	if freeMargin.LessThan(requiredMargin) {
		return fail(name,
			fmt.Sprintf("free margin %.2f below required %.2f", free, required),
			free, required)
	}
	threshold := requiredMargin.Mul(decimal.NewFromFloat(marginSafetyMultiplier))
	if freeMargin.LessThan(threshold) {
		return warn(name,
			fmt.Sprintf("free margin %.2f below %.1fx safety threshold %.2f",
				free, marginSafetyMultiplier, threshold.InexactFloat64()),
			free, threshold.InexactFloat64())
	}
	return pass(name, free, threshold.InexactFloat64())
}

// Trading session windows in UTC. Tokyo and Sydney wrap midnight.
var sessionWindows = map[string][2]int{
	"london":  {7 * 60, 16 * 60},
	"newyork": {12 * 60, 21 * 60},
	"tokyo":   {23 * 60, 8 * 60},
	"sydney":  {21 * 60, 6 * 60},
}

// CheckTradingHours validates that the current UTC time falls inside at
// least one allowed session window. An empty session list passes.
func CheckTradingHours(now time.Time, allowedSessions []string) CheckResult {
	const name = "trading_hours"
	if len(allowedSessions) == 0 {
		return pass(name, 0, 0)
	}
	utc := now.UTC()
	minute := utc.Hour()*60 + utc.Minute()
	for _, session := range allowedSessions {
		window, ok := sessionWindows[strings.ToLower(session)]
		if !ok {
			continue
		}
		start, end := window[0], window[1]
		if start <= end {
			if minute >= start && minute <= end {
				return pass(name, float64(minute), 0)
			}
		} else if minute >= start || minute <= end {
			return pass(name, float64(minute), 0)
		}
	}
	return fail(name, fmt.Sprintf("outside allowed sessions %v", allowedSessions), float64(minute), 0)
}

// estimateCorrelation approximates pairwise FX correlation from currency
// overlap: identical pairs are fully correlated, pairs sharing one leg are
// strongly correlated, disjoint pairs are treated as uncorrelated.
func estimateCorrelation(a, b string) float64 {
	a = normalizeSymbol(a)
	b = normalizeSymbol(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	shared := 0
	for _, ca := range currencies(a) {
		for _, cb := range currencies(b) {
			if ca == cb {
				shared++
			}
		}
	}
	switch shared {
	case 0:
		return 0
	case 1:
		return 0.7
	default:
		return 0.9
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, ".", ""))
}

// currencies splits a symbol into its currency legs. Six-letter symbols
// split in the middle; anything else is treated as a single leg.
func currencies(symbol string) []string {
	if len(symbol) == 6 {
		return []string{symbol[:3], symbol[3:]}
	}
	if strings.HasSuffix(symbol, "USD") && len(symbol) > 3 {
		return []string{strings.TrimSuffix(symbol, "USD"), "USD"}
	}
	if len(symbol) >= 3 {
		return []string{symbol[:3]}
	}
	return nil
}

// CheckCorrelation validates the candidate symbol against every open
// position's symbol using the overlap heuristic.
func CheckCorrelation(symbol string, positions []types.Position, maxCorrelation float64) CheckResult {
	const name = "correlation"
	if maxCorrelation <= 0 || symbol == "" {
		return pass(name, 0, maxCorrelation)
	}
	highest := 0.0
	offender := ""
	for _, p := range positions {
		c := estimateCorrelation(symbol, p.Symbol)
		if c > highest {
			highest = c
			offender = p.Symbol
		}
	}
	if highest >= maxCorrelation {
		return fail(name,
			fmt.Sprintf("correlation %.2f with open %s exceeds max %.2f", highest, offender, maxCorrelation),
			highest, maxCorrelation)
	}
	return pass(name, highest, maxCorrelation)
}

// CheckExposure validates total open volume plus the candidate volume
// against the exposure cap (in lots).
func CheckExposure(positions []types.Position, candidateVolume, maxTotalExposure float64) CheckResult {
	const name = "exposure"
	if maxTotalExposure <= 0 {
		return pass(name, 0, 0)
	}
	total := decimal.NewFromFloat(candidateVolume)
	for _, p := range positions {
		total = total.Add(decimal.NewFromFloat(p.Volume))
	}
	value := total.InexactFloat64()
	if value > maxTotalExposure {
		return fail(name,
			fmt.Sprintf("total exposure %.2f exceeds max %.2f", value, maxTotalExposure),
			value, maxTotalExposure)
	}
	return pass(name, value, maxTotalExposure)
}

// CheckNewsBlackout fails when a high-impact news blackout covers the
// symbol right now.
func CheckNewsBlackout(inBlackout bool, symbol string) CheckResult {
	const name = "news_blackout"
	if inBlackout {
		return fail(name, fmt.Sprintf("news blackout active for %s", symbol), 1, 0)
	}
	return pass(name, 0, 0)
}

// CheckSpread validates the current spread against the configured cap.
func CheckSpread(spread, maxSpread float64) CheckResult {
	const name = "spread"
	if maxSpread <= 0 {
		return pass(name, spread, 0)
	}
	if spread > maxSpread {
		return fail(name, fmt.Sprintf("spread %.1f above threshold %.1f", spread, maxSpread), spread, maxSpread)
	}
	return pass(name, spread, maxSpread)
}
