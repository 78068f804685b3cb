package interfaces

import (
	"context"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/events"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

type Publisher interface {
	PublishResult(ctx context.Context, result types.CommandResult) error
	PublishEvent(ctx context.Context, event events.Event) error
}
