package executor

import (
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// validateCommand runs the structural checks for a command's kind.
// Failures are terminal: a malformed command is never queued or retried.
func validateCommand(cmd types.Command) error {
	if cmd.Kind == "" {
		return &types.ValidationError{Field: "kind", Reason: "required"}
	}
	if !cmd.Priority.Valid() {
		return &types.ValidationError{Field: "priority", Reason: "unknown value " + string(cmd.Priority)}
	}
	if cmd.Params == nil {
		return &types.ValidationError{Field: "parameters", Reason: "required"}
	}
	if cmd.Params.Kind() != cmd.Kind {
		return &types.ValidationError{Field: "parameters", Reason: "parameters do not match command kind"}
	}

	switch p := cmd.Params.(type) {
	case types.OpenPositionParams:
		if p.Symbol == "" {
			return &types.ValidationError{Field: "symbol", Reason: "required"}
		}
		if p.Side != "BUY" && p.Side != "SELL" {
			return &types.ValidationError{Field: "side", Reason: "must be BUY or SELL"}
		}
		if p.Volume <= 0 {
			return &types.ValidationError{Field: "volume", Reason: "must be positive"}
		}
		if p.StopLoss < 0 || p.TakeProfit < 0 {
			return &types.ValidationError{Field: "stopLoss/takeProfit", Reason: "must not be negative"}
		}
	case types.ClosePositionParams:
		if p.Ticket <= 0 {
			return &types.ValidationError{Field: "ticket", Reason: "required"}
		}
		if p.Volume < 0 {
			return &types.ValidationError{Field: "volume", Reason: "must not be negative"}
		}
	case types.CloseAllPositionsParams:
		// symbol filter is optional
	case types.ModifyPositionParams:
		if p.Ticket <= 0 {
			return &types.ValidationError{Field: "ticket", Reason: "required"}
		}
		if p.StopLoss <= 0 && p.TakeProfit <= 0 {
			return &types.ValidationError{Field: "stopLoss/takeProfit", Reason: "at least one must be set"}
		}
	case types.GetPositionsParams, types.GetAccountInfoParams:
	case types.GetSymbolInfoParams:
		if p.Symbol == "" {
			return &types.ValidationError{Field: "symbol", Reason: "required"}
		}
	default:
		return &types.ValidationError{Field: "kind", Reason: "unsupported command kind " + string(cmd.Kind)}
	}
	return nil
}
