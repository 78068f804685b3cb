package safety

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// retentionDays bounds how long per-day stats are kept.
const retentionDays = 7

type dayStats struct {
	trades int
	loss   decimal.Decimal
	profit decimal.Decimal
}

// DailyTracker accumulates per-day trading results for the daily-loss and
// drawdown checks and the emergency-stop auto triggers. Safe for
// concurrent use.
type DailyTracker struct {
	mu sync.Mutex

	days              map[string]*dayStats
	peakBalance       decimal.Decimal
	consecutiveLosses int

	// error-rate window
	attempts int
	failures int
}

func NewDailyTracker() *DailyTracker {
	return &DailyTracker{days: make(map[string]*dayStats)}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RegisterTrade records a closed trade's profit (negative for a loss).
func (t *DailyTracker) RegisterTrade(now time.Time, profit decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.dayLocked(now)
	d.trades++
	if profit.IsNegative() {
		d.loss = d.loss.Add(profit.Abs())
		t.consecutiveLosses++
	} else {
		d.profit = d.profit.Add(profit)
		t.consecutiveLosses = 0
	}
	t.cleanupLocked(now)
}

// RegisterAttempt records a command execution attempt and its outcome,
// feeding the error-rate auto trigger.
func (t *DailyTracker) RegisterAttempt(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts++
	if !success {
		t.failures++
	}
	// Keep the window small so old failures age out.
	if t.attempts > 100 {
		t.attempts /= 2
		t.failures /= 2
	}
}

// DailyLoss returns accumulated loss for the given day.
func (t *DailyTracker) DailyLoss(now time.Time) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.days[dayKey(now)]; ok {
		return d.loss
	}
	return decimal.Zero
}

// DailyNet returns profit minus loss for the given day.
func (t *DailyTracker) DailyNet(now time.Time) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.days[dayKey(now)]; ok {
		return d.profit.Sub(d.loss)
	}
	return decimal.Zero
}

// UpdatePeakBalance raises the peak balance when the current balance
// exceeds it. Never lowers it.
func (t *DailyTracker) UpdatePeakBalance(balance decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if balance.GreaterThan(t.peakBalance) {
		t.peakBalance = balance
	}
}

func (t *DailyTracker) PeakBalance() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakBalance
}

func (t *DailyTracker) ConsecutiveLosses() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveLosses
}

// ErrorRate returns the failure ratio over the recent attempt window.
func (t *DailyTracker) ErrorRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempts == 0 {
		return 0
	}
	return float64(t.failures) / float64(t.attempts)
}

func (t *DailyTracker) dayLocked(now time.Time) *dayStats {
	key := dayKey(now)
	d, ok := t.days[key]
	if !ok {
		d = &dayStats{}
		t.days[key] = d
	}
	return d
}

func (t *DailyTracker) cleanupLocked(now time.Time) {
	cutoff := dayKey(now.AddDate(0, 0, -retentionDays))
	for key := range t.days {
		if key < cutoff {
			delete(t.days, key)
		}
	}
}
