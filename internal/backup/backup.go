// Package backup persists emergency snapshots for post-incident review.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
)

// Gatherer collects extra state worth preserving alongside the kill-switch
// snapshot: open positions, queue stats, recent results.
type Gatherer func(ctx context.Context) map[string]any

// Writer writes timestamped JSON snapshot files.
type Writer struct {
	dir    string
	gather Gatherer
}

var _ safety.SnapshotWriter = (*Writer)(nil)

// NewWriter creates a snapshot writer. BACKUP_DIR overrides dir when set;
// gather may be nil.
func NewWriter(dir string, gather Gatherer) *Writer {
	if v := os.Getenv("BACKUP_DIR"); v != "" {
		dir = v
	}
	if dir == "" {
		dir = "backups"
	}
	return &Writer{dir: dir, gather: gather}
}

type snapshot struct {
	WrittenAt time.Time      `json:"writtenAt"`
	State     safety.State   `json:"emergencyStop"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// WriteEmergencySnapshot dumps the kill-switch state plus gathered extras
// to a new file. Called from the unwind sequence, so it must not panic on
// partially gathered data.
func (w *Writer) WriteEmergencySnapshot(ctx context.Context, state safety.State) error {
	snap := snapshot{WrittenAt: time.Now().UTC(), State: state}
	if w.gather != nil {
		snap.Extra = w.gather(ctx)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("emergency_%s.json", snap.WrittenAt.Format("20060102_150405"))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	logger.Info(ctx, "Emergency snapshot written", "path", path)
	return nil
}
