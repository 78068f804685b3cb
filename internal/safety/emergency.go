package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/events"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
)

// Severity grades an emergency-stop trigger and selects the lock duration.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// State is a snapshot of the kill-switch state machine.
type State struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	TriggeredBy string    `json:"triggeredBy,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`
	LockedUntil time.Time `json:"lockedUntil,omitempty"`
}

// Unwinder is the slice of the terminal transport the kill switch needs
// to flatten open risk.
type Unwinder interface {
	CloseAllPositions(ctx context.Context) (int, error)
	CancelAllOrders(ctx context.Context) (int, error)
}

// SnapshotWriter persists an emergency backup during the unwind.
type SnapshotWriter interface {
	WriteEmergencySnapshot(ctx context.Context, state State) error
}

// Notifier pushes the kill-switch outcome to the control plane.
type Notifier interface {
	NotifyEmergencyStop(ctx context.Context, state State) error
}

// EmergencyStopConfig holds the lock durations and auto-trigger
// thresholds.
type EmergencyStopConfig struct {
	LockDuration         time.Duration
	CriticalLockDuration time.Duration
	MaxConsecutiveLosses int
	MaxErrorRate         float64
}

// DefaultEmergencyStopConfig mirrors the production defaults: 30 minute
// lock, 60 minutes for critical triggers.
func DefaultEmergencyStopConfig() EmergencyStopConfig {
	return EmergencyStopConfig{
		LockDuration:         30 * time.Minute,
		CriticalLockDuration: 60 * time.Minute,
	}
}

var ErrStillLocked = errors.New("trading lock has not expired")

// EmergencyStop is the global kill switch. Activation flips the active
// flag before any unwind step runs, so CanTrade is false immediately; the
// unwind sequence then proceeds step by step, logging failures without
// aborting, and always reaches the locking step.
type EmergencyStop struct {
	mu          sync.Mutex
	active      bool
	reason      string
	triggeredBy string
	severity    Severity
	lockedUntil time.Time

	cfg      EmergencyStopConfig
	terminal Unwinder
	backup   SnapshotWriter
	notifier Notifier
	bus      *events.Bus

	// stopMonitors halts strategy monitoring; injected because
	// monitoring itself is an external collaborator.
	stopMonitors func(ctx context.Context) error

	now func() time.Time // test hook
}

// NewEmergencyStop wires the kill switch. terminal is required; backup,
// notifier, bus and stopMonitors may be nil and their steps degrade to
// no-ops.
func NewEmergencyStop(cfg EmergencyStopConfig, terminal Unwinder, backup SnapshotWriter, notifier Notifier, bus *events.Bus, stopMonitors func(ctx context.Context) error) *EmergencyStop {
	if cfg.LockDuration == 0 {
		cfg.LockDuration = 30 * time.Minute
	}
	if cfg.CriticalLockDuration == 0 {
		cfg.CriticalLockDuration = 60 * time.Minute
	}
	return &EmergencyStop{
		cfg:          cfg,
		terminal:     terminal,
		backup:       backup,
		notifier:     notifier,
		bus:          bus,
		stopMonitors: stopMonitors,
		now:          time.Now,
	}
}

// CanTrade reports whether trading is allowed: false while active or
// while the lock has not expired.
func (es *EmergencyStop) CanTrade() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.active {
		return false
	}
	return !es.now().Before(es.lockedUntil)
}

// GetState snapshots the state machine.
func (es *EmergencyStop) GetState() State {
	es.mu.Lock()
	defer es.mu.Unlock()
	return State{
		Active:      es.active,
		Reason:      es.reason,
		TriggeredBy: es.triggeredBy,
		Severity:    es.severity,
		LockedUntil: es.lockedUntil,
	}
}

// Activate trips the kill switch and runs the unwind sequence. No-op if
// already active. The active flag is set before the first unwind step, so
// concurrent CanTrade callers see false immediately.
func (es *EmergencyStop) Activate(ctx context.Context, reason, triggeredBy string, severity Severity) {
	es.mu.Lock()
	if es.active {
		es.mu.Unlock()
		logger.Debug(ctx, "Kill switch already active, ignoring", "reason", reason)
		return
	}
	es.active = true
	es.reason = reason
	es.triggeredBy = triggeredBy
	es.severity = severity
	es.mu.Unlock()

	logger.KillSwitch(ctx, "activated",
		"reason", reason,
		"triggered_by", triggeredBy,
		"severity", string(severity),
	)
	es.publish(events.KillSwitchActivatedEvent{
		Reason:      reason,
		TriggeredBy: triggeredBy,
		Severity:    string(severity),
	})

	es.runUnwind(ctx)
}

// runUnwind executes the six unwind steps in order. A failure in one step
// is logged and does not abort the sequence; the lock step always runs.
func (es *EmergencyStop) runUnwind(ctx context.Context) {
	es.runStep(ctx, "stop_monitors", func() error {
		if es.stopMonitors == nil {
			return nil
		}
		if err := es.stopMonitors(ctx); err != nil {
			return err
		}
		es.publish(events.KillSwitchMonitorsStoppedEvent{})
		return nil
	})

	es.runStep(ctx, "close_positions", func() error {
		if es.terminal == nil {
			return nil
		}
		count, err := es.terminal.CloseAllPositions(ctx)
		if err != nil {
			return err
		}
		logger.KillSwitch(ctx, "positions_closed", "count", count)
		es.publish(events.KillSwitchPositionsClosedEvent{Count: count})
		return nil
	})

	es.runStep(ctx, "cancel_orders", func() error {
		if es.terminal == nil {
			return nil
		}
		count, err := es.terminal.CancelAllOrders(ctx)
		if err != nil {
			return err
		}
		logger.KillSwitch(ctx, "orders_canceled", "count", count)
		es.publish(events.KillSwitchOrdersCanceledEvent{Count: count})
		return nil
	})

	// Locking must happen even when the risk-unwinding steps fail:
	// leaving trading unlocked after a failed unwind is the worse outcome.
	lockFor := es.cfg.LockDuration
	if es.severityLocked() == SeverityCritical {
		lockFor = es.cfg.CriticalLockDuration
	}
	es.mu.Lock()
	es.lockedUntil = es.now().Add(lockFor)
	lockedUntil := es.lockedUntil
	es.mu.Unlock()
	logger.KillSwitch(ctx, "trading_locked",
		"locked_until", lockedUntil.Format(time.RFC3339),
		"duration", lockFor.String(),
	)

	es.runStep(ctx, "notify", func() error {
		if es.notifier == nil {
			return nil
		}
		return es.notifier.NotifyEmergencyStop(ctx, es.GetState())
	})

	es.runStep(ctx, "backup", func() error {
		if es.backup == nil {
			return nil
		}
		return es.backup.WriteEmergencySnapshot(ctx, es.GetState())
	})

	logger.KillSwitch(ctx, "completed", "locked_until", lockedUntil.Format(time.RFC3339))
	es.publish(events.KillSwitchCompletedEvent{LockedUntil: lockedUntil})
}

func (es *EmergencyStop) severityLocked() Severity {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.severity
}

func (es *EmergencyStop) runStep(ctx context.Context, name string, fn func() error) {
	if err := fn(); err != nil {
		logger.ErrorWithErr(ctx, "Kill switch step failed", err, "step", name)
		es.publish(events.KillSwitchErrorEvent{Step: name, Error: err.Error()})
	}
}

// Deactivate clears the kill switch. Fails with ErrStillLocked unless the
// lock has expired or adminOverride is set.
func (es *EmergencyStop) Deactivate(ctx context.Context, adminOverride bool) error {
	es.mu.Lock()
	if !es.active && es.lockedUntil.IsZero() {
		es.mu.Unlock()
		return nil
	}
	if !adminOverride && es.now().Before(es.lockedUntil) {
		remaining := es.lockedUntil.Sub(es.now())
		es.mu.Unlock()
		return fmt.Errorf("%w: %s remaining", ErrStillLocked, remaining.Round(time.Second))
	}
	es.active = false
	es.reason = ""
	es.triggeredBy = ""
	es.severity = ""
	es.lockedUntil = time.Time{}
	es.mu.Unlock()

	logger.KillSwitch(ctx, "deactivated", "admin_override", adminOverride)
	es.publish(events.KillSwitchDeactivatedEvent{AdminOverride: adminOverride})
	return nil
}

// CheckAutoTriggers evaluates the automatic activation thresholds against
// the tracker and fires Activate when one is crossed.
func (es *EmergencyStop) CheckAutoTriggers(ctx context.Context, tracker *DailyTracker, limits Limits) {
	if !es.CanTrade() {
		return
	}
	now := es.nowFn()

	if limits.MaxDailyLoss > 0 {
		loss := tracker.DailyLoss(now).InexactFloat64()
		if loss >= limits.MaxDailyLoss {
			es.Activate(ctx,
				fmt.Sprintf("daily loss %.2f reached limit %.2f", loss, limits.MaxDailyLoss),
				"auto:daily_loss", SeverityCritical)
			return
		}
	}

	if limits.MaxDrawdownPercent > 0 {
		peak := tracker.PeakBalance()
		if !peak.IsZero() {
			// Drawdown itself is re-derived by the gate on every check;
			// here only the peak-based fraction is needed.
			net := tracker.DailyNet(now)
			if net.IsNegative() {
				ddPct := net.Abs().Div(peak).InexactFloat64() * 100
				if ddPct >= limits.MaxDrawdownPercent {
					es.Activate(ctx,
						fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", ddPct, limits.MaxDrawdownPercent),
						"auto:drawdown", SeverityCritical)
					return
				}
			}
		}
	}

	if es.cfg.MaxConsecutiveLosses > 0 && tracker.ConsecutiveLosses() >= es.cfg.MaxConsecutiveLosses {
		es.Activate(ctx,
			fmt.Sprintf("%d consecutive losses", tracker.ConsecutiveLosses()),
			"auto:consecutive_losses", SeverityHigh)
		return
	}

	if es.cfg.MaxErrorRate > 0 && tracker.ErrorRate() >= es.cfg.MaxErrorRate {
		es.Activate(ctx,
			fmt.Sprintf("error rate %.0f%% over threshold", tracker.ErrorRate()*100),
			"auto:error_rate", SeverityHigh)
	}
}

func (es *EmergencyStop) nowFn() time.Time {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.now()
}

func (es *EmergencyStop) publish(e events.Event) {
	if es.bus == nil {
		return
	}
	if err := es.bus.TryPublish(e); err != nil {
		logger.Warn(context.Background(), "Failed to publish kill switch event",
			"event", string(e.EventName()), "error", err)
	}
}
