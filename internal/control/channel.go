// Package control connects the executor to the control plane over redis
// pub/sub: inbound commands, cancellations, kill-switch triggers and
// config updates; outbound results and lifecycle events.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/events"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/interfaces"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// Inbound event names.
const (
	EventCommandReceived = "command-received"
	EventCommandCancel   = "command-cancel"
	EventEmergencyStop   = "emergency-stop"
	EventConfigUpdate    = "config-update"
)

// Config configures the redis connection and channel names.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Channel is the base name; ".commands", ".results" and ".events"
	// suffixes derive the concrete channels.
	Channel    string
	ExecutorID string
}

// Handlers receives decoded inbound traffic. Nil members drop the
// corresponding event type.
type Handlers struct {
	OnCommand       func(ctx context.Context, cmd types.Command)
	OnCancel        func(ctx context.Context, commandID string)
	OnEmergencyStop func(ctx context.Context, reason string)
	OnConfigUpdate  func(ctx context.Context, update safety.LimitsUpdate)
}

// envelope is the wire frame on every channel.
type envelope struct {
	Event      string          `json:"event"`
	ExecutorID string          `json:"executorId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
}

// Channel is the pub/sub bridge. Safe for concurrent publishing.
type Channel struct {
	cfg      Config
	client   *redis.Client
	handlers Handlers
}

var _ interfaces.Publisher = (*Channel)(nil)

// NewChannel connects to redis and verifies the connection.
func NewChannel(cfg Config, handlers Handlers) (*Channel, error) {
	if cfg.Channel == "" {
		cfg.Channel = "executor"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to control redis: %w", err)
	}

	return &Channel{cfg: cfg, client: client, handlers: handlers}, nil
}

func (c *Channel) commandsChannel() string { return c.cfg.Channel + ".commands" }
func (c *Channel) resultsChannel() string  { return c.cfg.Channel + ".results" }
func (c *Channel) eventsChannel() string   { return c.cfg.Channel + ".events" }

// Run subscribes to the inbound channel and dispatches until the context
// is canceled.
func (c *Channel) Run(ctx context.Context) error {
	sub := c.client.Subscribe(ctx, c.commandsChannel())
	defer sub.Close()

	// Force the subscription before consuming so a dead redis fails
	// loudly instead of idling.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.commandsChannel(), err)
	}
	logger.Info(ctx, "Control channel subscribed", "channel", c.commandsChannel())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("control subscription closed")
			}
			c.handleMessage(ctx, []byte(msg.Payload))
		}
	}
}

// handleMessage decodes one inbound frame and routes it. Malformed
// frames are logged and dropped; the control plane retries on its side.
func (c *Channel) handleMessage(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn(ctx, "Discarding malformed control frame", "error", err)
		return
	}
	if env.ExecutorID != "" && c.cfg.ExecutorID != "" && env.ExecutorID != c.cfg.ExecutorID {
		// Addressed to another executor on a shared channel.
		return
	}

	switch env.Event {
	case EventCommandReceived:
		if c.handlers.OnCommand == nil {
			return
		}
		cmd, err := types.ParseCommand(env.Data)
		if err != nil {
			logger.Warn(ctx, "Discarding unparseable command", "error", err)
			return
		}
		c.handlers.OnCommand(ctx, cmd)

	case EventCommandCancel:
		if c.handlers.OnCancel == nil {
			return
		}
		var body struct {
			CommandID string `json:"commandId"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil || body.CommandID == "" {
			logger.Warn(ctx, "Discarding cancel without commandId", "error", err)
			return
		}
		c.handlers.OnCancel(ctx, body.CommandID)

	case EventEmergencyStop:
		if c.handlers.OnEmergencyStop == nil {
			return
		}
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(env.Data, &body)
		if body.Reason == "" {
			body.Reason = "remote emergency stop"
		}
		c.handlers.OnEmergencyStop(ctx, body.Reason)

	case EventConfigUpdate:
		if c.handlers.OnConfigUpdate == nil {
			return
		}
		var update safety.LimitsUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			logger.Warn(ctx, "Discarding malformed config update", "error", err)
			return
		}
		c.handlers.OnConfigUpdate(ctx, update)

	default:
		logger.Debug(ctx, "Ignoring unknown control event", "event", env.Event)
	}
}

// PublishResult pushes a command result to the control plane.
func (c *Channel) PublishResult(ctx context.Context, result types.CommandResult) error {
	return c.publish(ctx, c.resultsChannel(), "command-result", result)
}

// PublishEvent pushes a lifecycle or kill-switch event.
func (c *Channel) PublishEvent(ctx context.Context, event events.Event) error {
	return c.publish(ctx, c.eventsChannel(), string(event.EventName()), event)
}

// NotifyEmergencyStop satisfies the kill-switch notifier: the state
// snapshot rides the events channel.
func (c *Channel) NotifyEmergencyStop(ctx context.Context, state safety.State) error {
	return c.publish(ctx, c.eventsChannel(), "killswitch:state", state)
}

func (c *Channel) publish(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(envelope{
		Event:      event,
		ExecutorID: c.cfg.ExecutorID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, channel, frame).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, channel, err)
	}
	return nil
}

// Close releases the redis connection.
func (c *Channel) Close() error {
	return c.client.Close()
}
