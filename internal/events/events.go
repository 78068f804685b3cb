// Package events defines the closed set of lifecycle events the executor
// publishes and a bounded in-memory bus for fan-out to subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

var (
	ErrBusFull   = errors.New("event bus full")
	ErrBusClosed = errors.New("event bus closed")
)

// Name identifies an event variant on the wire.
type Name string

const (
	CommandQueued    Name = "command-queued"
	CommandStarted   Name = "command-started"
	CommandCompleted Name = "command-completed"
	CommandRetry     Name = "command-retry"
	CommandFailed    Name = "command-failed"

	KillSwitchActivated       Name = "killswitch:activated"
	KillSwitchMonitorsStopped Name = "killswitch:monitors_stopped"
	KillSwitchPositionsClosed Name = "killswitch:positions_closed"
	KillSwitchOrdersCanceled  Name = "killswitch:orders_canceled"
	KillSwitchCompleted       Name = "killswitch:completed"
	KillSwitchError           Name = "killswitch:error"
	KillSwitchDeactivated     Name = "killswitch:deactivated"

	Heartbeat Name = "heartbeat"
)

// Event is implemented by every variant. The payload types are fixed per
// name, so subscribers can type-switch exhaustively.
type Event interface {
	EventName() Name
}

type CommandQueuedEvent struct {
	CommandID string            `json:"commandId"`
	Kind      types.CommandKind `json:"kind"`
	Priority  types.Priority    `json:"priority"`
	QueueID   string            `json:"queueId"`
}

func (CommandQueuedEvent) EventName() Name { return CommandQueued }

type CommandStartedEvent struct {
	CommandID string            `json:"commandId"`
	Kind      types.CommandKind `json:"kind"`
	Attempt   int               `json:"attempt"`
}

func (CommandStartedEvent) EventName() Name { return CommandStarted }

type CommandCompletedEvent struct {
	CommandID       string `json:"commandId"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

func (CommandCompletedEvent) EventName() Name { return CommandCompleted }

type CommandRetryEvent struct {
	CommandID string        `json:"commandId"`
	Attempt   int           `json:"attempt"`
	NextDelay time.Duration `json:"nextDelayMs"`
	Reason    string        `json:"reason"`
}

func (CommandRetryEvent) EventName() Name { return CommandRetry }

type CommandFailedEvent struct {
	CommandID string `json:"commandId"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
}

func (CommandFailedEvent) EventName() Name { return CommandFailed }

type KillSwitchActivatedEvent struct {
	Reason      string `json:"reason"`
	TriggeredBy string `json:"triggeredBy"`
	Severity    string `json:"severity"`
}

func (KillSwitchActivatedEvent) EventName() Name { return KillSwitchActivated }

type KillSwitchMonitorsStoppedEvent struct{}

func (KillSwitchMonitorsStoppedEvent) EventName() Name { return KillSwitchMonitorsStopped }

type KillSwitchPositionsClosedEvent struct {
	Count int `json:"count"`
}

func (KillSwitchPositionsClosedEvent) EventName() Name { return KillSwitchPositionsClosed }

type KillSwitchOrdersCanceledEvent struct {
	Count int `json:"count"`
}

func (KillSwitchOrdersCanceledEvent) EventName() Name { return KillSwitchOrdersCanceled }

type KillSwitchCompletedEvent struct {
	LockedUntil time.Time `json:"lockedUntil"`
}

func (KillSwitchCompletedEvent) EventName() Name { return KillSwitchCompleted }

type KillSwitchErrorEvent struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

func (KillSwitchErrorEvent) EventName() Name { return KillSwitchError }

type KillSwitchDeactivatedEvent struct {
	AdminOverride bool `json:"adminOverride"`
}

func (KillSwitchDeactivatedEvent) EventName() Name { return KillSwitchDeactivated }

type HeartbeatEvent struct {
	Connected bool      `json:"connected"`
	QueueSize int       `json:"queueSize"`
	Timestamp time.Time `json:"timestamp"`
}

func (HeartbeatEvent) EventName() Name { return Heartbeat }

// Bus is a bounded, non-blocking fan-out. Publishing never blocks the
// executor loop; a full bus drops the event with an error the caller may
// log.
type Bus struct {
	ch chan Event

	// pubMu orders publishes against Close so no send can race the
	// channel close.
	pubMu  sync.Mutex
	closed bool

	mu   sync.RWMutex
	subs []func(Event)
}

// NewBus allocates a bus with the given buffer capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Subscribe registers a handler invoked for every event, in order.
// Handlers run on the bus goroutine and must not block.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// TryPublish enqueues an event without blocking.
func (b *Bus) TryPublish(e Event) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- e:
		return nil
	default:
		return ErrBusFull
	}
}

// Run dispatches events to subscribers until the context is done or the
// bus is closed.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.ch:
			if !ok {
				return
			}
			b.mu.RLock()
			subs := b.subs
			b.mu.RUnlock()
			for _, fn := range subs {
				fn(e)
			}
		}
	}
}

// Close stops the bus from accepting new events.
func (b *Bus) Close() {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
