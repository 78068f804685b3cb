package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// call round-trips one terminal command and unpacks the data payload.
func (t *Transport) call(ctx context.Context, command string, params any, timeout time.Duration) (json.RawMessage, error) {
	resp, err := t.SendRequest(ctx, types.RPCRequest{
		Command:    command,
		Parameters: params,
	}, timeout, false)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &types.TerminalError{Message: resp.Error}
	}
	return resp.Data, nil
}

// Execute dispatches one command to the terminal by kind and returns the
// raw result payload. Trade requests use the default timeout, reads the
// shorter read timeout.
func (t *Transport) Execute(ctx context.Context, cmd types.Command) (json.RawMessage, error) {
	timeout := t.cfg.RequestTimeout
	if cmd.Kind.IsRead() {
		timeout = t.cfg.ReadTimeout
	}
	return t.call(ctx, wireCommand(cmd.Kind), cmd.Params, timeout)
}

// wireCommand maps a command kind to the terminal's verb.
func wireCommand(kind types.CommandKind) string {
	switch kind {
	case types.KindOpenPosition:
		return "open_position"
	case types.KindClosePosition:
		return "close_position"
	case types.KindCloseAllPositions:
		return "close_all_positions"
	case types.KindModifyPosition:
		return "modify_position"
	case types.KindGetPositions:
		return "get_positions"
	case types.KindGetAccountInfo:
		return "get_account_info"
	case types.KindGetSymbolInfo:
		return "get_symbol_info"
	default:
		return string(kind)
	}
}

// GetPositions fetches the open positions.
func (t *Transport) GetPositions(ctx context.Context) ([]types.Position, error) {
	data, err := t.call(ctx, "get_positions", nil, t.cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	var out struct {
		Positions []types.Position `json:"positions"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return out.Positions, nil
}

// GetAccountInfo fetches the account snapshot.
func (t *Transport) GetAccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	data, err := t.call(ctx, "get_account_info", nil, t.cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	var out types.AccountInfo
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &out, nil
}

// GetSymbolInfo fetches quote and contract data for one symbol.
func (t *Transport) GetSymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error) {
	data, err := t.call(ctx, "get_symbol_info",
		types.GetSymbolInfoParams{Symbol: symbol}, t.cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	var out types.SymbolInfo
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode symbol info: %w", err)
	}
	return &out, nil
}

// CloseAllPositions flattens every open position and returns the closed
// count. Used by the kill switch unwind.
func (t *Transport) CloseAllPositions(ctx context.Context) (int, error) {
	data, err := t.call(ctx, "close_all_positions", nil, t.cfg.RequestTimeout)
	if err != nil {
		return 0, err
	}
	var out struct {
		Closed int `json:"closed"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode close-all result: %w", err)
	}
	return out.Closed, nil
}

// CancelAllOrders cancels every pending order and returns the canceled
// count. Used by the kill switch unwind.
func (t *Transport) CancelAllOrders(ctx context.Context) (int, error) {
	data, err := t.call(ctx, "cancel_all_orders", nil, t.cfg.RequestTimeout)
	if err != nil {
		return 0, err
	}
	var out struct {
		Canceled int `json:"canceled"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode cancel-all result: %w", err)
	}
	return out.Canceled, nil
}
