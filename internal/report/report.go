// Package report generates daily execution summaries from the journal
// files: per-kind counts, success rates and latency, written as CSV.
package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/journal"
)

// Summarizer generates the daily execution report.
type Summarizer interface {
	// SummarizeDay aggregates one day's journal into a CSV report and
	// returns its path. An empty path with nil error means the day had
	// no journal.
	SummarizeDay(t time.Time) (csvPath string, err error)

	// SummarizeToday summarizes the current UTC day.
	SummarizeToday() (csvPath string, err error)

	// ShouldRunNow reports whether yesterday's report is due: the UTC
	// day has rolled over and the report file does not exist yet.
	ShouldRunNow() (shouldRun bool, csvPath string)
}

var defaultSummarizer Summarizer = &reportSummarizer{}

// SetDefaultSummarizer replaces the package-level summarizer, typically
// with an observability-wrapped one.
func SetDefaultSummarizer(s Summarizer) {
	defaultSummarizer = s
}

// NewSummarizer returns the plain summarizer.
func NewSummarizer() Summarizer {
	return &reportSummarizer{}
}

func SummarizeDay(t time.Time) (string, error) {
	return defaultSummarizer.SummarizeDay(t)
}

func SummarizeToday() (string, error) {
	return defaultSummarizer.SummarizeToday()
}

func ShouldRunNow() (bool, string) {
	return defaultSummarizer.ShouldRunNow()
}

// aggRow accumulates per-kind execution statistics for one day.
type aggRow struct {
	Kind      string
	Total     int
	Succeeded int
	Failed    int
	Retried   int
	TotalMs   int64
	MaxMs     int64
}

func logDir() string {
	if v := os.Getenv("EXECUTOR_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func reportCSVPath(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), "reports", d+".csv")
}

type reportSummarizer struct{}

func (s *reportSummarizer) SummarizeDay(t time.Time) (string, error) {
	inPath := journal.FilePath(t)
	if _, err := os.Stat(inPath); err != nil {
		return "", nil
	}
	f, err := os.Open(inPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e journal.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		row := aggs[e.Kind]
		if row == nil {
			row = &aggRow{Kind: e.Kind}
			aggs[e.Kind] = row
		}
		row.Total++
		if e.Success {
			row.Succeeded++
		} else {
			row.Failed++
		}
		if e.Attempt > 1 {
			row.Retried++
		}
		row.TotalMs += e.ExecutionTimeMs
		if e.ExecutionTimeMs > row.MaxMs {
			row.MaxMs = e.ExecutionTimeMs
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := reportCSVPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()
	headers := []string{"kind", "total", "succeeded", "failed", "retried", "success_rate", "avg_ms", "max_ms"}
	if err := w.Write(headers); err != nil {
		return "", err
	}

	var total, succeeded, failed, retried int
	var totalMs, maxMs int64
	for _, k := range keys {
		r := aggs[k]
		rate := float64(r.Succeeded) / float64(r.Total)
		avg := float64(r.TotalMs) / float64(r.Total)
		rec := []string{
			r.Kind,
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Retried),
			fmt.Sprintf("%.2f", rate),
			fmt.Sprintf("%.1f", avg),
			strconv.FormatInt(r.MaxMs, 10),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		total += r.Total
		succeeded += r.Succeeded
		failed += r.Failed
		retried += r.Retried
		totalMs += r.TotalMs
		if r.MaxMs > maxMs {
			maxMs = r.MaxMs
		}
	}
	var totalRate, totalAvg float64
	if total > 0 {
		totalRate = float64(succeeded) / float64(total)
		totalAvg = float64(totalMs) / float64(total)
	}
	_ = w.Write([]string{
		"TOTAL",
		strconv.Itoa(total),
		strconv.Itoa(succeeded),
		strconv.Itoa(failed),
		strconv.Itoa(retried),
		fmt.Sprintf("%.2f", totalRate),
		fmt.Sprintf("%.1f", totalAvg),
		strconv.FormatInt(maxMs, 10),
	})
	return outPath, nil
}

func (s *reportSummarizer) SummarizeToday() (string, error) {
	return s.SummarizeDay(time.Now().UTC())
}

// ShouldRunNow is checked on a ticker: once the UTC day rolls over,
// yesterday's report is due until its file exists.
func (s *reportSummarizer) ShouldRunNow() (bool, string) {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	outPath := reportCSVPath(yesterday)
	if _, err := os.Stat(journal.FilePath(yesterday)); err != nil {
		return false, outPath
	}
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}
