package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
)

func TestWriteEmergencySnapshot(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, func(context.Context) map[string]any {
		return map[string]any{"queueSize": 3}
	})

	state := safety.State{
		Active:      true,
		Reason:      "daily loss limit",
		TriggeredBy: "auto:daily_loss",
		Severity:    safety.SeverityCritical,
		LockedUntil: time.Now().Add(time.Hour),
	}
	require.NoError(t, w.WriteEmergencySnapshot(context.Background(), state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "emergency_")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var snap struct {
		State safety.State   `json:"emergencyStop"`
		Extra map[string]any `json:"extra"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.True(t, snap.State.Active)
	assert.Equal(t, "daily loss limit", snap.State.Reason)
	assert.Equal(t, float64(3), snap.Extra["queueSize"])
}

func TestWriterWithoutGatherer(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)
	assert.NoError(t, w.WriteEmergencySnapshot(context.Background(), safety.State{Active: true}))
}
