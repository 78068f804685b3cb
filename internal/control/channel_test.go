package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// handlerChannel builds a channel with recording handlers and no redis
// connection; handleMessage is exercised directly.
func handlerChannel(executorID string) (*Channel, *recorded) {
	rec := &recorded{}
	ch := &Channel{
		cfg: Config{Channel: "executor", ExecutorID: executorID},
		handlers: Handlers{
			OnCommand: func(_ context.Context, cmd types.Command) {
				rec.commands = append(rec.commands, cmd)
			},
			OnCancel: func(_ context.Context, id string) {
				rec.cancels = append(rec.cancels, id)
			},
			OnEmergencyStop: func(_ context.Context, reason string) {
				rec.stops = append(rec.stops, reason)
			},
			OnConfigUpdate: func(_ context.Context, u safety.LimitsUpdate) {
				rec.updates = append(rec.updates, u)
			},
		},
	}
	return ch, rec
}

type recorded struct {
	commands []types.Command
	cancels  []string
	stops    []string
	updates  []safety.LimitsUpdate
}

func TestHandleCommandReceived(t *testing.T) {
	ch, rec := handlerChannel("")

	ch.handleMessage(context.Background(), []byte(`{
		"event": "command-received",
		"data": {
			"id": "cmd-7",
			"command": "OPEN_POSITION",
			"priority": "HIGH",
			"parameters": {"symbol": "EURUSD", "side": "BUY", "volume": 0.1}
		}
	}`))

	require.Len(t, rec.commands, 1)
	cmd := rec.commands[0]
	assert.Equal(t, "cmd-7", cmd.ID)
	assert.Equal(t, types.KindOpenPosition, cmd.Kind)
	assert.Equal(t, types.PriorityHigh, cmd.Priority)
	p, ok := cmd.Params.(types.OpenPositionParams)
	require.True(t, ok)
	assert.Equal(t, "EURUSD", p.Symbol)
}

func TestHandleCancelAndStop(t *testing.T) {
	ch, rec := handlerChannel("")

	ch.handleMessage(context.Background(),
		[]byte(`{"event":"command-cancel","data":{"commandId":"cmd-9"}}`))
	ch.handleMessage(context.Background(),
		[]byte(`{"event":"emergency-stop","data":{"reason":"operator panic"}}`))
	ch.handleMessage(context.Background(),
		[]byte(`{"event":"emergency-stop","data":{}}`))

	assert.Equal(t, []string{"cmd-9"}, rec.cancels)
	require.Len(t, rec.stops, 2)
	assert.Equal(t, "operator panic", rec.stops[0])
	assert.Equal(t, "remote emergency stop", rec.stops[1])
}

func TestHandleConfigUpdatePartial(t *testing.T) {
	ch, rec := handlerChannel("")

	ch.handleMessage(context.Background(),
		[]byte(`{"event":"config-update","data":{"maxLotSize":0.5,"checkNewsEvents":true}}`))

	require.Len(t, rec.updates, 1)
	u := rec.updates[0]
	require.NotNil(t, u.MaxLotSize)
	assert.Equal(t, 0.5, *u.MaxLotSize)
	require.NotNil(t, u.CheckNewsEvents)
	assert.True(t, *u.CheckNewsEvents)
	assert.Nil(t, u.MaxDailyLoss, "absent fields stay nil")
}

func TestHandleMessageFiltersByExecutorID(t *testing.T) {
	ch, rec := handlerChannel("exec-A")

	ch.handleMessage(context.Background(),
		[]byte(`{"event":"command-cancel","executorId":"exec-B","data":{"commandId":"x"}}`))
	assert.Empty(t, rec.cancels)

	ch.handleMessage(context.Background(),
		[]byte(`{"event":"command-cancel","executorId":"exec-A","data":{"commandId":"y"}}`))
	assert.Equal(t, []string{"y"}, rec.cancels)

	// unaddressed frames go to everyone
	ch.handleMessage(context.Background(),
		[]byte(`{"event":"command-cancel","data":{"commandId":"z"}}`))
	assert.Equal(t, []string{"y", "z"}, rec.cancels)
}

func TestHandleMessageDropsGarbage(t *testing.T) {
	ch, rec := handlerChannel("")

	ch.handleMessage(context.Background(), []byte(`not json`))
	ch.handleMessage(context.Background(), []byte(`{"event":"command-received","data":{"command":"NUKE"}}`))
	ch.handleMessage(context.Background(), []byte(`{"event":"command-cancel","data":{}}`))
	ch.handleMessage(context.Background(), []byte(`{"event":"something-else"}`))

	assert.Empty(t, rec.commands)
	assert.Empty(t, rec.cancels)
}
