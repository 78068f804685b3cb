package interfaces

import (
	"context"
	"encoding/json"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

type Terminal interface {
	Execute(ctx context.Context, cmd types.Command) (json.RawMessage, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetAccountInfo(ctx context.Context) (*types.AccountInfo, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error)
	IsConnected() bool
}
