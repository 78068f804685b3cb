package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/queue"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

func TestMain(m *testing.M) {
	dir, _ := os.MkdirTemp("", "executor-journal")
	os.Setenv("EXECUTOR_LOG_DIR", dir)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

type stubTerminal struct {
	mu          sync.Mutex
	connected   bool
	executeErr  error
	executeData []byte
	calls       int

	account   *types.AccountInfo
	positions []types.Position
	symbol    *types.SymbolInfo
}

func (s *stubTerminal) Execute(_ context.Context, _ types.Command) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.executeErr != nil {
		return nil, s.executeErr
	}
	if s.executeData == nil {
		return json.RawMessage(`{}`), nil
	}
	return s.executeData, nil
}

func (s *stubTerminal) GetPositions(context.Context) ([]types.Position, error) {
	return s.positions, nil
}

func (s *stubTerminal) GetAccountInfo(context.Context) (*types.AccountInfo, error) {
	if s.account == nil {
		return nil, types.ErrNotConnected
	}
	return s.account, nil
}

func (s *stubTerminal) GetSymbolInfo(context.Context, string) (*types.SymbolInfo, error) {
	if s.symbol == nil {
		return nil, types.ErrNotConnected
	}
	return s.symbol, nil
}

func (s *stubTerminal) IsConnected() bool { return s.connected }

func (s *stubTerminal) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// testExecutor builds an executor with a stub terminal and a shared fake
// clock driving both the executor and its queue.
func testExecutor(t *testing.T, cfg Config, term *stubTerminal, limits safety.Limits) (*Executor, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	gate := safety.NewGate(limits, nil, nil)
	stop := safety.NewEmergencyStop(safety.DefaultEmergencyStopConfig(), nil, nil, nil, nil, nil)

	e := New(cfg, term, gate, stop, nil, nil)
	e.now = clock
	e.queue = queue.NewWithClock(cfg.QueueCapacity, clock)
	e.limiter.now = clock
	return e, &now
}

func getCmd() types.Command {
	return types.Command{
		Kind:     types.KindGetPositions,
		Priority: types.PriorityNormal,
		Params:   types.GetPositionsParams{},
	}
}

func openCmd(volume float64) types.Command {
	return types.Command{
		Kind:     types.KindOpenPosition,
		Priority: types.PriorityNormal,
		Params:   types.OpenPositionParams{Symbol: "EURUSD", Side: "BUY", Volume: volume},
	}
}

func TestScoreOffsets(t *testing.T) {
	assert.Equal(t, 20, Score(types.Command{Kind: types.KindOpenPosition, Priority: types.PriorityNormal}))
	assert.Equal(t, 30, Score(types.Command{Kind: types.KindClosePosition, Priority: types.PriorityNormal}))
	assert.Equal(t, 50, Score(types.Command{Kind: types.KindCloseAllPositions, Priority: types.PriorityUrgent}))
	assert.Equal(t, 10, Score(types.Command{Kind: types.KindGetPositions, Priority: types.PriorityNormal}))
	// urgent read still outranks a low-priority trade
	assert.Equal(t, 30, Score(types.Command{Kind: types.KindGetAccountInfo, Priority: types.PriorityUrgent}))
}

func TestRetryDelaySchedule(t *testing.T) {
	assert.Equal(t, 1*time.Second, retryDelay(1))
	assert.Equal(t, 2*time.Second, retryDelay(2))
	assert.Equal(t, 5*time.Second, retryDelay(3))
	assert.Equal(t, 10*time.Second, retryDelay(4))
	assert.Equal(t, 30*time.Second, retryDelay(5))
	assert.Equal(t, 30*time.Second, retryDelay(6))
	assert.Equal(t, 30*time.Second, retryDelay(42))
}

func TestAddCommandQueuesAndAssignsID(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})

	queueID, err := e.AddCommand(context.Background(), getCmd())
	require.NoError(t, err)
	assert.NotEmpty(t, queueID)
	assert.Equal(t, 1, e.QueueStats().Pending)
}

func TestAddCommandValidationRejected(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})

	cmd := openCmd(0) // invalid volume
	cmd.ID = "bad-cmd"
	_, err := e.AddCommand(context.Background(), cmd)

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, e.QueueStats().Pending, "rejected command must never be queued")

	st, ok := e.CommandStatus("bad-cmd")
	require.True(t, ok, "rejection must record a failure result")
	assert.Equal(t, types.StateFailed, st.State)
}

func TestAddCommandRateLimited(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, now := testExecutor(t, Config{RateWindow: time.Minute, RateMax: 2}, term, safety.Limits{})

	_, err := e.AddCommand(context.Background(), getCmd())
	require.NoError(t, err)
	_, err = e.AddCommand(context.Background(), getCmd())
	require.NoError(t, err)

	_, err = e.AddCommand(context.Background(), getCmd())
	var rl *types.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 2, rl.Limit)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))

	// window slides: a minute later the budget is back
	*now = now.Add(61 * time.Second)
	_, err = e.AddCommand(context.Background(), getCmd())
	assert.NoError(t, err)
}

func TestAddCommandSafetyRejected(t *testing.T) {
	term := &stubTerminal{
		connected: true,
		account:   &types.AccountInfo{Leverage: 100, Balance: 10000, Equity: 10000, FreeMargin: 9000},
		positions: []types.Position{{Symbol: "USDJPY"}, {Symbol: "GBPUSD"}},
		symbol:    &types.SymbolInfo{Symbol: "EURUSD", Ask: 1.1, Spread: 1.0},
	}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{MaxPositions: 2})

	_, err := e.AddCommand(context.Background(), openCmd(0.1))
	var serr *types.SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Failures[0], "position_count")
	assert.Zero(t, e.QueueStats().Pending)
}

func TestAddCommandBlockedByKillSwitch(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})
	e.stop.Activate(context.Background(), "test", "test", safety.SeverityHigh)

	_, err := e.AddCommand(context.Background(), openCmd(0.1))
	assert.ErrorIs(t, err, types.ErrEmergencyStopActive)

	// reads are still admitted
	_, err = e.AddCommand(context.Background(), getCmd())
	assert.NoError(t, err)
}

func TestCancelOnlyQueuedCommands(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})

	cmd := getCmd()
	cmd.ID = "cancel-me"
	_, err := e.AddCommand(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, e.CancelCommand(context.Background(), "cancel-me"))
	assert.False(t, e.CancelCommand(context.Background(), "cancel-me"), "already removed")

	cmd2 := getCmd()
	cmd2.ID = "in-flight"
	_, err = e.AddCommand(context.Background(), cmd2)
	require.NoError(t, err)
	item := e.queue.Dequeue()
	require.NotNil(t, item)

	assert.False(t, e.CancelCommand(context.Background(), "in-flight"),
		"executing commands cannot be canceled")
}

func TestExecuteSuccessRecordsResult(t *testing.T) {
	term := &stubTerminal{connected: true, executeData: []byte(`{"positions":[]}`)}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})

	cmd := getCmd()
	cmd.ID = "ok-cmd"
	_, err := e.AddCommand(context.Background(), cmd)
	require.NoError(t, err)

	item := e.queue.Dequeue()
	require.NotNil(t, item)
	e.executeItem(context.Background(), item)

	st, ok := e.CommandStatus("ok-cmd")
	require.True(t, ok)
	assert.Equal(t, types.StateCompleted, st.State)
	require.NotNil(t, st.Result)
	assert.True(t, st.Result.Success)
	assert.Zero(t, e.queue.Size())
}

func TestRetryExhaustion(t *testing.T) {
	term := &stubTerminal{connected: true, executeErr: &types.TerminalError{Message: "requote"}}
	e, now := testExecutor(t, Config{}, term, safety.Limits{})

	cmd := getCmd()
	cmd.ID = "doomed"
	cmd.MaxRetries = 3
	_, err := e.AddCommand(context.Background(), cmd)
	require.NoError(t, err)

	// drive the loop by hand, fast-forwarding through each backoff
	for i := 0; i < 10; i++ {
		item := e.queue.Dequeue()
		if item == nil {
			if e.queue.Size() == 0 {
				break
			}
			*now = now.Add(30 * time.Second)
			continue
		}
		e.executeItem(context.Background(), item)
	}

	assert.Equal(t, 4, term.callCount(), "maxRetries=3 allows exactly 4 attempts")
	assert.Zero(t, e.queue.Size(), "no further retry may be scheduled")

	st, ok := e.CommandStatus("doomed")
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, st.State)
	assert.Contains(t, st.Result.Error, "requote")
}

func TestNonRetryableErrorFailsImmediately(t *testing.T) {
	term := &stubTerminal{connected: true, executeErr: errors.New("hard failure")}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})

	_, err := e.AddCommand(context.Background(), getCmd())
	require.NoError(t, err)

	item := e.queue.Dequeue()
	require.NotNil(t, item)
	e.executeItem(context.Background(), item)

	assert.Equal(t, 1, term.callCount())
	assert.Zero(t, e.queue.Size())
}

func TestExpiredCommandNeverDispatched(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, now := testExecutor(t, Config{}, term, safety.Limits{})

	expires := now.Add(time.Minute)
	cmd := getCmd()
	cmd.ID = "stale"
	cmd.ExpiresAt = &expires
	_, err := e.AddCommand(context.Background(), cmd)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	item := e.queue.Dequeue()
	require.NotNil(t, item)
	e.executeItem(context.Background(), item)

	assert.Zero(t, term.callCount())
	st, _ := e.CommandStatus("stale")
	assert.Equal(t, types.StateFailed, st.State)
	assert.Contains(t, st.Result.Error, "expired")
}

func TestKillSwitchDrainsQueuedButSparesClose(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})

	open := openCmd(0.1)
	open.ID = "queued-open"
	_, err := e.AddCommand(context.Background(), open)
	require.NoError(t, err)

	drained := e.DrainForKillSwitch(context.Background(), "manual stop")
	assert.Equal(t, 1, drained)
	assert.Zero(t, e.QueueStats().Pending)

	st, ok := e.CommandStatus("queued-open")
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, st.State)
	assert.Contains(t, st.Result.Error, "emergency stop")

	// a close that was already queued when the switch tripped still runs
	e.stop.Activate(context.Background(), "flatten", "test", safety.SeverityHigh)
	closeCmd := types.Command{
		ID:       "close-1",
		Kind:     types.KindClosePosition,
		Priority: types.PriorityUrgent,
		Params:   types.ClosePositionParams{Ticket: 42},
	}
	_, err = e.queue.Enqueue(closeCmd, Score(closeCmd), 1)
	require.NoError(t, err)
	deq := e.queue.Dequeue()
	require.NotNil(t, deq)
	e.executeItem(context.Background(), deq)
	assert.Equal(t, 1, term.callCount())
}

func TestCommandStatusLifecycle(t *testing.T) {
	term := &stubTerminal{connected: true}
	e, _ := testExecutor(t, Config{}, term, safety.Limits{})

	cmd := getCmd()
	cmd.ID = "lifecycle"
	_, err := e.AddCommand(context.Background(), cmd)
	require.NoError(t, err)

	st, ok := e.CommandStatus("lifecycle")
	require.True(t, ok)
	assert.Equal(t, types.StateQueued, st.State)

	item := e.queue.Dequeue()
	require.NotNil(t, item)
	st, _ = e.CommandStatus("lifecycle")
	assert.Equal(t, types.StateExecuting, st.State)

	e.executeItem(context.Background(), item)
	st, _ = e.CommandStatus("lifecycle")
	assert.Equal(t, types.StateCompleted, st.State)

	_, ok = e.CommandStatus("never-seen")
	assert.False(t, ok)
}

func TestHistoryEvictsFIFO(t *testing.T) {
	h := newHistory(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		h.add(types.CommandResult{CommandID: id, Success: true})
	}

	assert.Equal(t, 3, h.size())
	_, ok := h.get("a")
	assert.False(t, ok, "oldest entry must be evicted first")
	_, ok = h.get("d")
	assert.True(t, ok)

	recent := h.recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].CommandID)
	assert.Equal(t, "c", recent[1].CommandID)
}

func TestValidateCommandTable(t *testing.T) {
	tests := []struct {
		name    string
		cmd     types.Command
		wantErr bool
	}{
		{"valid open", types.Command{Kind: types.KindOpenPosition, Priority: types.PriorityNormal,
			Params: types.OpenPositionParams{Symbol: "EURUSD", Side: "SELL", Volume: 0.5}}, false},
		{"open without symbol", types.Command{Kind: types.KindOpenPosition, Priority: types.PriorityNormal,
			Params: types.OpenPositionParams{Side: "BUY", Volume: 0.5}}, true},
		{"open bad side", types.Command{Kind: types.KindOpenPosition, Priority: types.PriorityNormal,
			Params: types.OpenPositionParams{Symbol: "EURUSD", Side: "LONG", Volume: 0.5}}, true},
		{"close without ticket", types.Command{Kind: types.KindClosePosition, Priority: types.PriorityNormal,
			Params: types.ClosePositionParams{}}, true},
		{"modify without levels", types.Command{Kind: types.KindModifyPosition, Priority: types.PriorityNormal,
			Params: types.ModifyPositionParams{Ticket: 7}}, true},
		{"modify with stop", types.Command{Kind: types.KindModifyPosition, Priority: types.PriorityNormal,
			Params: types.ModifyPositionParams{Ticket: 7, StopLoss: 1.05}}, false},
		{"params kind mismatch", types.Command{Kind: types.KindOpenPosition, Priority: types.PriorityNormal,
			Params: types.GetPositionsParams{}}, true},
		{"bad priority", types.Command{Kind: types.KindGetPositions, Priority: "EXTREME",
			Params: types.GetPositionsParams{}}, true},
		{"symbol info without symbol", types.Command{Kind: types.KindGetSymbolInfo, Priority: types.PriorityLow,
			Params: types.GetSymbolInfoParams{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCommand(tt.cmd)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := newRateLimiter(time.Minute, 3)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.Equal(t, 3, rl.Remaining())
	require.NoError(t, rl.Allow())
	require.NoError(t, rl.Allow())
	assert.Equal(t, 1, rl.Remaining())

	now = now.Add(time.Minute + time.Second)
	assert.Equal(t, 3, rl.Remaining())
}
