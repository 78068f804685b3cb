// Package journal appends executed-command records to daily JSON-lines
// files, one line per terminal attempt outcome.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var mu sync.Mutex

type Entry struct {
	Time            string `json:"time"`
	CommandID       string `json:"commandId"`
	Kind            string `json:"kind"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	Attempt         int    `json:"attempt,omitempty"`
}

func logDir() string {
	if v := os.Getenv("EXECUTOR_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), d+".jsonl")
}

// FilePath returns the journal file path for the given day.
func FilePath(t time.Time) string {
	return dailyFilepath(t)
}

// Append writes one entry to today's journal file, creating it as needed.
func Append(e Entry) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().UTC()
	e.Time = now.Format("2006-01-02 15:04:05")
	p := dailyFilepath(now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(e)
	_, err = fmt.Fprintln(f, string(b))
	return err
}
