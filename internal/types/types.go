package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandKind identifies the instruction carried by a Command.
type CommandKind string

const (
	KindOpenPosition      CommandKind = "OPEN_POSITION"
	KindClosePosition     CommandKind = "CLOSE_POSITION"
	KindCloseAllPositions CommandKind = "CLOSE_ALL_POSITIONS"
	KindModifyPosition    CommandKind = "MODIFY_POSITION"
	KindGetPositions      CommandKind = "GET_POSITIONS"
	KindGetAccountInfo    CommandKind = "GET_ACCOUNT_INFO"
	KindGetSymbolInfo     CommandKind = "GET_SYMBOL_INFO"
)

// IsTrade reports whether the kind mutates positions on the terminal.
func (k CommandKind) IsTrade() bool {
	switch k {
	case KindOpenPosition, KindClosePosition, KindCloseAllPositions, KindModifyPosition:
		return true
	}
	return false
}

// IsRead reports whether the kind only queries terminal state.
func (k CommandKind) IsRead() bool {
	switch k {
	case KindGetPositions, KindGetAccountInfo, KindGetSymbolInfo:
		return true
	}
	return false
}

// Priority orders commands relative to each other in the queue.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// BaseScore returns the numeric base used for queue ordering.
func (p Priority) BaseScore() int {
	switch p {
	case PriorityLow:
		return 10
	case PriorityHigh:
		return 30
	case PriorityUrgent:
		return 40
	default:
		return 20 // NORMAL
	}
}

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// CommandParams is the kind-specific payload of a Command. Each kind has
// exactly one params type, so dispatch switches are exhaustive and an
// unknown kind is rejected at decode time rather than at execution.
type CommandParams interface {
	Kind() CommandKind
}

type OpenPositionParams struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // BUY or SELL
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

func (OpenPositionParams) Kind() CommandKind { return KindOpenPosition }

type ClosePositionParams struct {
	Ticket int64   `json:"ticket"`
	Symbol string  `json:"symbol,omitempty"`
	Volume float64 `json:"volume,omitempty"` // 0 closes the full position
}

func (ClosePositionParams) Kind() CommandKind { return KindClosePosition }

type CloseAllPositionsParams struct {
	Symbol string `json:"symbol,omitempty"` // optional filter, empty closes everything
}

func (CloseAllPositionsParams) Kind() CommandKind { return KindCloseAllPositions }

type ModifyPositionParams struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol,omitempty"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

func (ModifyPositionParams) Kind() CommandKind { return KindModifyPosition }

type GetPositionsParams struct{}

func (GetPositionsParams) Kind() CommandKind { return KindGetPositions }

type GetAccountInfoParams struct{}

func (GetAccountInfoParams) Kind() CommandKind { return KindGetAccountInfo }

type GetSymbolInfoParams struct {
	Symbol string `json:"symbol"`
}

func (GetSymbolInfoParams) Kind() CommandKind { return KindGetSymbolInfo }

// Command is a single trade instruction received from the control plane.
// Immutable once created; identity is the ID.
type Command struct {
	ID         string
	Kind       CommandKind
	Priority   Priority
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	MaxRetries int
	Params     CommandParams
}

// Expired reports whether the command carries an expiry that has passed.
func (c Command) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// commandEnvelope is the wire form of a Command on the control channel.
type commandEnvelope struct {
	ID         string          `json:"id"`
	Command    CommandKind     `json:"command"`
	Priority   Priority        `json:"priority,omitempty"`
	CreatedAt  *time.Time      `json:"createdAt,omitempty"`
	ExpiresAt  *time.Time      `json:"expiresAt,omitempty"`
	MaxRetries *int            `json:"maxRetries,omitempty"`
	Parameters json.RawMessage `json:"parameters"`
}

// DefaultMaxRetries applies when the control plane omits maxRetries.
const DefaultMaxRetries = 3

// ParseCommand decodes a control-channel payload into a typed Command.
// Missing priority defaults to NORMAL, missing createdAt to now.
func ParseCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, fmt.Errorf("decode command envelope: %w", err)
	}

	params, err := decodeParams(env.Command, env.Parameters)
	if err != nil {
		return Command{}, err
	}

	cmd := Command{
		ID:         env.ID,
		Kind:       env.Command,
		Priority:   env.Priority,
		ExpiresAt:  env.ExpiresAt,
		MaxRetries: DefaultMaxRetries,
		Params:     params,
	}
	if cmd.Priority == "" {
		cmd.Priority = PriorityNormal
	}
	if env.CreatedAt != nil {
		cmd.CreatedAt = *env.CreatedAt
	} else {
		cmd.CreatedAt = time.Now().UTC()
	}
	if env.MaxRetries != nil {
		cmd.MaxRetries = *env.MaxRetries
	}
	return cmd, nil
}

func decodeParams(kind CommandKind, raw json.RawMessage) (CommandParams, error) {
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	unmarshal := func(dst CommandParams) (CommandParams, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("decode %s parameters: %w", kind, err)
		}
		return dst, nil
	}

	switch kind {
	case KindOpenPosition:
		p, err := unmarshal(&OpenPositionParams{})
		if err != nil {
			return nil, err
		}
		return *p.(*OpenPositionParams), nil
	case KindClosePosition:
		p, err := unmarshal(&ClosePositionParams{})
		if err != nil {
			return nil, err
		}
		return *p.(*ClosePositionParams), nil
	case KindCloseAllPositions:
		p, err := unmarshal(&CloseAllPositionsParams{})
		if err != nil {
			return nil, err
		}
		return *p.(*CloseAllPositionsParams), nil
	case KindModifyPosition:
		p, err := unmarshal(&ModifyPositionParams{})
		if err != nil {
			return nil, err
		}
		return *p.(*ModifyPositionParams), nil
	case KindGetPositions:
		return GetPositionsParams{}, nil
	case KindGetAccountInfo:
		return GetAccountInfoParams{}, nil
	case KindGetSymbolInfo:
		p, err := unmarshal(&GetSymbolInfoParams{})
		if err != nil {
			return nil, err
		}
		return *p.(*GetSymbolInfoParams), nil
	default:
		return nil, fmt.Errorf("unknown command kind %q", kind)
	}
}

// CommandResult records the outcome of one terminal attempt or a final
// failure. Produced once, never mutated.
type CommandResult struct {
	CommandID       string          `json:"commandId"`
	Success         bool            `json:"success"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           string          `json:"error,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
}

// CommandState tracks where a command sits in its lifecycle.
type CommandState string

const (
	StateQueued    CommandState = "QUEUED"
	StateExecuting CommandState = "EXECUTING"
	StateCompleted CommandState = "COMPLETED"
	StateFailed    CommandState = "FAILED"
)

// CommandStatus is the answer to a status query: lifecycle state plus the
// final result once one exists.
type CommandStatus struct {
	CommandID string         `json:"commandId"`
	State     CommandState   `json:"state"`
	Attempts  int            `json:"attempts,omitempty"`
	Result    *CommandResult `json:"result,omitempty"`
}

// Position is an open position reported by the trade terminal.
type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	StopLoss     float64   `json:"stopLoss"`
	TakeProfit   float64   `json:"takeProfit"`
	Profit       float64   `json:"profit"`
	OpenTime     time.Time `json:"openTime"`
}

// AccountInfo mirrors the terminal account snapshot.
type AccountInfo struct {
	AccountNumber int64   `json:"accountNumber"`
	Server        string  `json:"server"`
	Currency      string  `json:"currency"`
	Leverage      int     `json:"leverage"`
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin"`
	FreeMargin    float64 `json:"freeMargin"`
	Profit        float64 `json:"profit"`
}

// SymbolInfo mirrors the terminal symbol snapshot.
type SymbolInfo struct {
	Symbol       string  `json:"symbol"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Spread       float64 `json:"spread"`
	Point        float64 `json:"point"`
	Digits       int     `json:"digits"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	VolumeStep   float64 `json:"volume_step"`
	TradeAllowed bool    `json:"trade_allowed"`
}

// RPCRequest is the wire form sent to the trade terminal.
type RPCRequest struct {
	Command    string    `json:"command"`
	RequestID  string    `json:"requestId"`
	Timestamp  time.Time `json:"timestamp"`
	Parameters any       `json:"parameters,omitempty"`
}

// RPCResponse is the wire form received from the trade terminal.
// executionTimeMs is computed locally, not sent by the terminal.
type RPCResponse struct {
	Status    string          `json:"status"` // OK or ERROR
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OK reports whether the terminal accepted the request.
func (r RPCResponse) OK() bool { return r.Status == "OK" }
