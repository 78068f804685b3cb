// Package executor implements the command pipeline: admission
// (validation, rate limiting, safety gate), the bounded priority queue,
// the single-worker execution loop with retry backoff, and the bounded
// result history.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/events"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/interfaces"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/journal"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/queue"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// retryDelays is the fixed backoff schedule keyed by attempt number.
// Attempts beyond the table reuse the last entry.
var retryDelays = map[int]time.Duration{
	1: 1 * time.Second,
	2: 2 * time.Second,
	3: 5 * time.Second,
	4: 10 * time.Second,
	5: 30 * time.Second,
}

const maxRetryDelay = 30 * time.Second

func retryDelay(attempt int) time.Duration {
	if d, ok := retryDelays[attempt]; ok {
		return d
	}
	return maxRetryDelay
}

// Score derives the queue ordering score: the priority base plus a
// per-kind offset. Closing commands jump ahead of their priority class,
// reads fall behind it.
func Score(cmd types.Command) int {
	score := cmd.Priority.BaseScore()
	switch {
	case cmd.Kind == types.KindClosePosition || cmd.Kind == types.KindCloseAllPositions:
		score += 10
	case cmd.Kind.IsRead():
		score -= 10
	}
	return score
}

// Config tunes the executor.
type Config struct {
	QueueCapacity int
	HistorySize   int
	RateWindow    time.Duration
	RateMax       int
	// IdleInterval is how long the worker sleeps when the queue has
	// nothing processable.
	IdleInterval time.Duration
	// DryRun short-circuits trade dispatch with synthetic success
	// results; reads still hit the terminal.
	DryRun bool
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = queue.DefaultCapacity
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.RateMax <= 0 {
		c.RateMax = 100
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 100 * time.Millisecond
	}
}

// Executor is the single-worker command orchestrator. AddCommand and
// CancelCommand may be called concurrently with the running loop; all
// queue mutations go through the queue's own lock.
type Executor struct {
	cfg Config

	queue    *queue.Queue
	gate     *safety.Gate
	stop     *safety.EmergencyStop
	terminal interfaces.Terminal
	pub      interfaces.Publisher
	bus      *events.Bus
	limiter  *rateLimiter
	hist     *history

	now func() time.Time // test hook
}

var _ interfaces.Executor = (*Executor)(nil)

// New wires the executor. pub and bus may be nil in tests.
func New(cfg Config, terminal interfaces.Terminal, gate *safety.Gate, stop *safety.EmergencyStop, pub interfaces.Publisher, bus *events.Bus) *Executor {
	cfg.applyDefaults()
	return &Executor{
		cfg:      cfg,
		queue:    queue.New(cfg.QueueCapacity),
		gate:     gate,
		stop:     stop,
		terminal: terminal,
		pub:      pub,
		bus:      bus,
		limiter:  newRateLimiter(cfg.RateWindow, cfg.RateMax),
		hist:     newHistory(cfg.HistorySize),
		now:      time.Now,
	}
}

// AddCommand admits a command through validation, rate limiting and the
// safety gate, then enqueues it. On any rejection the command is never
// queued and a failure result is recorded and reported immediately.
func (e *Executor) AddCommand(ctx context.Context, cmd types.Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = e.now()
	}
	if cmd.MaxRetries <= 0 {
		cmd.MaxRetries = types.DefaultMaxRetries
	}

	if err := validateCommand(cmd); err != nil {
		e.reject(ctx, cmd, err)
		return "", err
	}

	if cmd.Kind.IsTrade() && !e.stop.CanTrade() {
		err := types.ErrEmergencyStopActive
		e.reject(ctx, cmd, err)
		return "", err
	}

	if err := e.limiter.Allow(); err != nil {
		e.reject(ctx, cmd, err)
		return "", err
	}

	if results := e.gate.Evaluate(ctx, cmd, e.buildSnapshot(ctx, cmd)); len(results) > 0 {
		if failures := safety.Failures(results); len(failures) > 0 {
			err := &types.SafetyError{Failures: failures}
			e.reject(ctx, cmd, err)
			return "", err
		}
	}

	queueID, err := e.queue.Enqueue(cmd, Score(cmd), cmd.MaxRetries+1)
	if err != nil {
		e.reject(ctx, cmd, err)
		return "", err
	}

	logger.Info(ctx, "Command queued",
		"command_id", cmd.ID,
		"kind", string(cmd.Kind),
		"priority", string(cmd.Priority),
		"queue_id", queueID,
	)
	e.publish(ctx, events.CommandQueuedEvent{
		CommandID: cmd.ID,
		Kind:      cmd.Kind,
		Priority:  cmd.Priority,
		QueueID:   queueID,
	})
	return queueID, nil
}

// buildSnapshot gathers the terminal state the gate checks against.
// Reads are best-effort: a disconnected terminal yields an empty
// snapshot and the data-dependent checks degrade to pass.
func (e *Executor) buildSnapshot(ctx context.Context, cmd types.Command) safety.Snapshot {
	if cmd.Kind != types.KindOpenPosition || !e.terminal.IsConnected() {
		return safety.Snapshot{}
	}

	var snap safety.Snapshot
	if acc, err := e.terminal.GetAccountInfo(ctx); err == nil {
		snap.Account = acc
	} else {
		logger.Warn(ctx, "Account snapshot unavailable for safety checks", "error", err)
	}
	if positions, err := e.terminal.GetPositions(ctx); err == nil {
		snap.Positions = positions
	}
	if p, ok := cmd.Params.(types.OpenPositionParams); ok {
		if sym, err := e.terminal.GetSymbolInfo(ctx, p.Symbol); err == nil {
			snap.Symbol = sym
		}
	}
	return snap
}

// reject records and reports an admission failure.
func (e *Executor) reject(ctx context.Context, cmd types.Command, cause error) {
	logger.Warn(ctx, "Command rejected",
		"command_id", cmd.ID,
		"kind", string(cmd.Kind),
		"reason", cause.Error(),
	)
	e.finalize(ctx, cmd, types.CommandResult{
		CommandID: cmd.ID,
		Success:   false,
		Error:     cause.Error(),
		Timestamp: e.now(),
	}, 0)
}

// CancelCommand removes a still-queued command. Returns false when the
// command is unknown or already executing; in-flight terminal requests
// cannot be canceled.
func (e *Executor) CancelCommand(ctx context.Context, commandID string) bool {
	ok := e.queue.RemoveByCommandID(commandID)
	logger.Info(ctx, "Command cancel requested", "command_id", commandID, "canceled", ok)
	return ok
}

// CommandStatus reports lifecycle state for a command, consulting the
// live queue first and then the result history.
func (e *Executor) CommandStatus(commandID string) (types.CommandStatus, bool) {
	for _, it := range e.queue.GetAll() {
		if it.Command.ID != commandID {
			continue
		}
		st := types.CommandStatus{
			CommandID: commandID,
			State:     types.StateQueued,
			Attempts:  it.Attempts,
		}
		if it.Executing() {
			st.State = types.StateExecuting
		}
		return st, true
	}

	if result, ok := e.hist.get(commandID); ok {
		st := types.CommandStatus{
			CommandID: commandID,
			State:     types.StateCompleted,
			Result:    &result,
		}
		if !result.Success {
			st.State = types.StateFailed
		}
		return st, true
	}
	return types.CommandStatus{}, false
}

// QueueStats snapshots queue occupancy.
func (e *Executor) QueueStats() queue.Stats {
	return e.queue.GetStats()
}

// RateLimitRemaining reports the admissions left in the current window.
func (e *Executor) RateLimitRemaining() int {
	return e.limiter.Remaining()
}

// RecentResults returns up to n results from the history, newest first.
func (e *Executor) RecentResults(n int) []types.CommandResult {
	return e.hist.recent(n)
}

// Run drives the dequeue/execute loop until the context is canceled. A
// single worker decides and dispatches one command at a time.
func (e *Executor) Run(ctx context.Context) {
	logger.Info(ctx, "Executor loop started", "idle_interval", e.cfg.IdleInterval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Executor loop stopped")
			return
		default:
		}

		item := e.queue.Dequeue()
		if item == nil {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.IdleInterval):
			}
			continue
		}
		e.executeItem(ctx, item)
	}
}

// executeItem runs one attempt of a dequeued command and settles it:
// complete, requeue with backoff, or fail terminally.
func (e *Executor) executeItem(ctx context.Context, item *queue.Item) {
	cmd := item.Command
	attempt := item.Attempts + 1

	e.publish(ctx, events.CommandStartedEvent{CommandID: cmd.ID, Kind: cmd.Kind, Attempt: attempt})

	if cmd.Expired(e.now()) {
		e.queue.Complete(item.QueueID)
		e.finalize(ctx, cmd, types.CommandResult{
			CommandID: cmd.ID,
			Success:   false,
			Error:     "command expired before execution",
			Timestamp: e.now(),
		}, attempt)
		return
	}

	// The kill switch beats anything already queued, except the risk
	// reducers it relies on itself.
	if cmd.Kind.IsTrade() && !isRiskReducing(cmd.Kind) && !e.stop.CanTrade() {
		e.queue.Complete(item.QueueID)
		e.finalize(ctx, cmd, types.CommandResult{
			CommandID: cmd.ID,
			Success:   false,
			Error:     types.ErrEmergencyStopActive.Error(),
			Timestamp: e.now(),
		}, attempt)
		return
	}

	start := e.now()
	data, err := e.dispatch(ctx, cmd)
	elapsed := time.Since(start).Milliseconds()

	if err == nil {
		e.gate.Tracker().RegisterAttempt(true)
		e.queue.Complete(item.QueueID)
		logger.Trade(ctx, cmd.ID, string(cmd.Kind), true, elapsed, "attempt", attempt)
		e.finalize(ctx, cmd, types.CommandResult{
			CommandID:       cmd.ID,
			Success:         true,
			Data:            data,
			Timestamp:       e.now(),
			ExecutionTimeMs: elapsed,
		}, attempt)
		return
	}

	e.gate.Tracker().RegisterAttempt(false)

	if types.Retryable(err) && attempt < item.MaxAttempts {
		delay := retryDelay(attempt)
		e.queue.Requeue(item.QueueID, delay)
		logger.Warn(ctx, "Command attempt failed, retry scheduled",
			"command_id", cmd.ID,
			"attempt", attempt,
			"max_attempts", item.MaxAttempts,
			"retry_in", delay.String(),
			"error", err,
		)
		e.publish(ctx, events.CommandRetryEvent{
			CommandID: cmd.ID,
			Attempt:   attempt,
			NextDelay: delay,
			Reason:    err.Error(),
		})
		return
	}

	e.queue.Complete(item.QueueID)
	logger.Trade(ctx, cmd.ID, string(cmd.Kind), false, elapsed,
		"attempt", attempt, "error", err.Error())
	e.finalize(ctx, cmd, types.CommandResult{
		CommandID:       cmd.ID,
		Success:         false,
		Error:           err.Error(),
		Timestamp:       e.now(),
		ExecutionTimeMs: elapsed,
	}, attempt)
}

func isRiskReducing(kind types.CommandKind) bool {
	return kind == types.KindClosePosition || kind == types.KindCloseAllPositions
}

// dispatch sends one command to the terminal. Dry-run mode fabricates
// trade results instead of touching the terminal.
func (e *Executor) dispatch(ctx context.Context, cmd types.Command) ([]byte, error) {
	if e.cfg.DryRun && cmd.Kind.IsTrade() {
		logger.Info(ctx, "Dry-run trade, skipping terminal dispatch",
			"command_id", cmd.ID, "kind", string(cmd.Kind))
		return []byte(`{"dryRun":true}`), nil
	}
	return e.terminal.Execute(ctx, cmd)
}

// finalize records a result in history and reports it outward. attempt
// zero means the command never ran (admission rejection).
func (e *Executor) finalize(ctx context.Context, cmd types.Command, result types.CommandResult, attempt int) {
	e.hist.add(result)
	_ = journal.Append(journal.Entry{
		CommandID:       result.CommandID,
		Kind:            string(cmd.Kind),
		Success:         result.Success,
		Error:           result.Error,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Attempt:         attempt,
	})

	if e.pub != nil {
		if err := e.pub.PublishResult(ctx, result); err != nil {
			logger.Warn(ctx, "Failed to publish command result",
				"command_id", result.CommandID, "error", err)
		}
	}

	if result.Success {
		e.publish(ctx, events.CommandCompletedEvent{
			CommandID:       result.CommandID,
			ExecutionTimeMs: result.ExecutionTimeMs,
		})
	} else {
		e.publish(ctx, events.CommandFailedEvent{
			CommandID: result.CommandID,
			Attempts:  attempt,
			Reason:    result.Error,
		})
	}
}

// DrainForKillSwitch fails every queued command without executing it.
// Called from the kill-switch unwind; in-flight commands are left to the
// terminal-side close-all, which is authoritative.
func (e *Executor) DrainForKillSwitch(ctx context.Context, reason string) int {
	items := e.queue.DrainPending()
	for _, it := range items {
		e.finalize(ctx, it.Command, types.CommandResult{
			CommandID: it.Command.ID,
			Success:   false,
			Error:     types.ErrEmergencyStopActive.Error() + ": " + reason,
			Timestamp: e.now(),
		}, it.Attempts)
	}
	if len(items) > 0 {
		logger.Info(ctx, "Drained queued commands for kill switch",
			"count", len(items), "reason", reason)
	}
	return len(items)
}

func (e *Executor) publish(ctx context.Context, ev events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.TryPublish(ev); err != nil {
		logger.Warn(ctx, "Failed to publish executor event",
			"event", string(ev.EventName()), "error", err)
	}
}
