package interfaces

import (
	"context"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/queue"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

type Executor interface {
	AddCommand(ctx context.Context, cmd types.Command) (string, error)
	CancelCommand(ctx context.Context, commandID string) bool
	CommandStatus(commandID string) (types.CommandStatus, bool)
	QueueStats() queue.Stats
	Run(ctx context.Context)
}
