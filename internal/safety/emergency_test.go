package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/events"
)

type fakeUnwinder struct {
	mu        sync.Mutex
	closeErr  error
	cancelErr error
	closed    int
	canceled  int
}

func (f *fakeUnwinder) CloseAllPositions(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return 2, f.closeErr
}

func (f *fakeUnwinder) CancelAllOrders(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled++
	return 1, f.cancelErr
}

// collectEvents runs a bus and returns a drain func that stops it and
// hands back every event name published so far.
func collectEvents(t *testing.T) (*events.Bus, func() []events.Name) {
	t.Helper()
	bus := events.NewBus(64)
	var mu sync.Mutex
	var names []events.Name
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		names = append(names, e.EventName())
		mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		bus.Run(context.Background())
		close(done)
	}()
	return bus, func() []events.Name {
		bus.Close()
		<-done
		mu.Lock()
		defer mu.Unlock()
		return names
	}
}

func TestActivateBlocksTradingBeforeUnwind(t *testing.T) {
	var duringUnwind bool
	var es *EmergencyStop
	es = NewEmergencyStop(DefaultEmergencyStopConfig(), &fakeUnwinder{}, nil, nil, nil,
		func(context.Context) error {
			duringUnwind = !es.CanTrade()
			return nil
		})

	require.True(t, es.CanTrade())
	es.Activate(context.Background(), "manual stop", "operator", SeverityHigh)

	assert.True(t, duringUnwind, "trading must already be blocked when the first unwind step runs")
	assert.False(t, es.CanTrade())

	state := es.GetState()
	assert.True(t, state.Active)
	assert.Equal(t, "manual stop", state.Reason)
	assert.False(t, state.LockedUntil.IsZero())
}

func TestActivateIsIdempotent(t *testing.T) {
	unwinder := &fakeUnwinder{}
	es := NewEmergencyStop(DefaultEmergencyStopConfig(), unwinder, nil, nil, nil, nil)

	es.Activate(context.Background(), "first", "test", SeverityHigh)
	es.Activate(context.Background(), "second", "test", SeverityCritical)

	assert.Equal(t, 1, unwinder.closed)
	assert.Equal(t, "first", es.GetState().Reason)
}

func TestUnwindContinuesPastFailures(t *testing.T) {
	unwinder := &fakeUnwinder{closeErr: errors.New("terminal unreachable")}
	bus, drain := collectEvents(t)
	es := NewEmergencyStop(DefaultEmergencyStopConfig(), unwinder, nil, nil, bus, nil)

	es.Activate(context.Background(), "close failure path", "test", SeverityHigh)

	// the failed close step does not abort: orders were still canceled
	// and the lock was still applied
	assert.Equal(t, 1, unwinder.canceled)
	assert.False(t, es.GetState().LockedUntil.IsZero())

	names := drain()
	assert.Contains(t, names, events.KillSwitchActivated)
	assert.Contains(t, names, events.KillSwitchError)
	assert.Contains(t, names, events.KillSwitchOrdersCanceled)
	assert.Contains(t, names, events.KillSwitchCompleted)
	assert.NotContains(t, names, events.KillSwitchPositionsClosed)
}

func TestLockDurationBySeverity(t *testing.T) {
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		severity Severity
		want     time.Duration
	}{
		{SeverityCritical, 60 * time.Minute},
		{SeverityHigh, 30 * time.Minute},
		{SeverityMedium, 30 * time.Minute},
	} {
		es := NewEmergencyStop(DefaultEmergencyStopConfig(), &fakeUnwinder{}, nil, nil, nil, nil)
		es.now = func() time.Time { return base }

		es.Activate(context.Background(), "lock test", "test", tt.severity)
		assert.Equal(t, base.Add(tt.want), es.GetState().LockedUntil, string(tt.severity))
	}
}

func TestDeactivateGatedOnLock(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	es := NewEmergencyStop(DefaultEmergencyStopConfig(), &fakeUnwinder{}, nil, nil, nil, nil)
	es.now = func() time.Time { return now }

	es.Activate(context.Background(), "gate test", "test", SeverityHigh)

	err := es.Deactivate(context.Background(), false)
	require.ErrorIs(t, err, ErrStillLocked)
	assert.False(t, es.CanTrade())

	// lock expired
	now = now.Add(31 * time.Minute)
	require.NoError(t, es.Deactivate(context.Background(), false))
	assert.True(t, es.CanTrade())
}

func TestDeactivateAdminOverride(t *testing.T) {
	es := NewEmergencyStop(DefaultEmergencyStopConfig(), &fakeUnwinder{}, nil, nil, nil, nil)

	es.Activate(context.Background(), "override test", "test", SeverityCritical)
	require.Error(t, es.Deactivate(context.Background(), false))

	require.NoError(t, es.Deactivate(context.Background(), true))
	assert.True(t, es.CanTrade())
	assert.False(t, es.GetState().Active)
}

func TestAutoTriggerDailyLoss(t *testing.T) {
	es := NewEmergencyStop(DefaultEmergencyStopConfig(), &fakeUnwinder{}, nil, nil, nil, nil)
	tracker := NewDailyTracker()
	tracker.RegisterTrade(time.Now(), decimal.NewFromFloat(-500))

	es.CheckAutoTriggers(context.Background(), tracker, Limits{MaxDailyLoss: 500})

	state := es.GetState()
	require.True(t, state.Active)
	assert.Equal(t, SeverityCritical, state.Severity)
	assert.Equal(t, "auto:daily_loss", state.TriggeredBy)
}

func TestAutoTriggerConsecutiveLosses(t *testing.T) {
	cfg := DefaultEmergencyStopConfig()
	cfg.MaxConsecutiveLosses = 3
	es := NewEmergencyStop(cfg, &fakeUnwinder{}, nil, nil, nil, nil)

	tracker := NewDailyTracker()
	for i := 0; i < 3; i++ {
		tracker.RegisterTrade(time.Now(), decimal.NewFromFloat(-10))
	}

	es.CheckAutoTriggers(context.Background(), tracker, Limits{})

	state := es.GetState()
	require.True(t, state.Active)
	assert.Equal(t, SeverityHigh, state.Severity)
	assert.Equal(t, "auto:consecutive_losses", state.TriggeredBy)
}

func TestAutoTriggerErrorRate(t *testing.T) {
	cfg := DefaultEmergencyStopConfig()
	cfg.MaxErrorRate = 0.5
	es := NewEmergencyStop(cfg, &fakeUnwinder{}, nil, nil, nil, nil)

	tracker := NewDailyTracker()
	for i := 0; i < 10; i++ {
		tracker.RegisterAttempt(i%2 == 0)
	}

	es.CheckAutoTriggers(context.Background(), tracker, Limits{})
	require.True(t, es.GetState().Active)
	assert.Equal(t, "auto:error_rate", es.GetState().TriggeredBy)
}

func TestAutoTriggerNoopWhenHealthy(t *testing.T) {
	unwinder := &fakeUnwinder{}
	cfg := DefaultEmergencyStopConfig()
	cfg.MaxConsecutiveLosses = 5
	cfg.MaxErrorRate = 0.9
	es := NewEmergencyStop(cfg, unwinder, nil, nil, nil, nil)

	tracker := NewDailyTracker()
	tracker.RegisterTrade(time.Now(), decimal.NewFromFloat(100))
	tracker.RegisterAttempt(true)

	es.CheckAutoTriggers(context.Background(), tracker, Limits{MaxDailyLoss: 500, MaxDrawdownPercent: 20})

	assert.False(t, es.GetState().Active)
	assert.Zero(t, unwinder.closed)
}
