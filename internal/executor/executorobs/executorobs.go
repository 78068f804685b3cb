package executorobs

import (
	"context"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/interfaces"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/queue"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/trace"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

type observableExecutor struct {
	exec interfaces.Executor
}

var _ interfaces.Executor = (*observableExecutor)(nil)

func Wrap(exec interfaces.Executor) interfaces.Executor {
	return &observableExecutor{
		exec: exec,
	}
}

func (oe *observableExecutor) AddCommand(ctx context.Context, cmd types.Command) (string, error) {
	ctx, span := trace.StartSpan(ctx, "executor.AddCommand")
	defer span.End()

	start := time.Now()

	logger.InfoSkip(ctx, 1, "Admitting command",
		"command_id", cmd.ID,
		"kind", string(cmd.Kind),
		"priority", string(cmd.Priority),
	)

	queueID, err := oe.exec.AddCommand(ctx, cmd)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Command admission failed", err,
			"command_id", cmd.ID,
			"kind", string(cmd.Kind),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	logger.InfoSkip(ctx, 1, "Command admitted",
		"command_id", cmd.ID,
		"queue_id", queueID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return queueID, nil
}

func (oe *observableExecutor) CancelCommand(ctx context.Context, commandID string) bool {
	ctx, span := trace.StartSpan(ctx, "executor.CancelCommand")
	defer span.End()

	canceled := oe.exec.CancelCommand(ctx, commandID)

	logger.InfoSkip(ctx, 1, "Cancel processed",
		"command_id", commandID,
		"canceled", canceled,
	)

	return canceled
}

func (oe *observableExecutor) CommandStatus(commandID string) (types.CommandStatus, bool) {
	return oe.exec.CommandStatus(commandID)
}

func (oe *observableExecutor) QueueStats() queue.Stats {
	return oe.exec.QueueStats()
}

func (oe *observableExecutor) Run(ctx context.Context) {
	oe.exec.Run(ctx)
}
