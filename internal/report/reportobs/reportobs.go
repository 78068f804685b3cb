// Package reportobs wraps a report.Summarizer with logging and tracing.
package reportobs

import (
	"context"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/report"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/trace"
)

type observableSummarizer struct {
	summarizer report.Summarizer
}

var _ report.Summarizer = (*observableSummarizer)(nil)

func Wrap(summarizer report.Summarizer) report.Summarizer {
	return &observableSummarizer{
		summarizer: summarizer,
	}
}

func (ors *observableSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx := context.Background()
	ctx, span := trace.StartSpan(ctx, "report.SummarizeDay")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Generating execution report",
		"date", t.UTC().Format("2006-01-02"),
	)

	csvPath, err := ors.summarizer.SummarizeDay(t)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Execution report generation failed", err,
			"date", t.UTC().Format("2006-01-02"),
		)
		return "", err
	}

	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No journal entries for execution report",
			"date", t.UTC().Format("2006-01-02"),
		)
		return "", nil
	}

	logger.InfoSkip(ctx, 1, "Execution report generated",
		"date", t.UTC().Format("2006-01-02"),
		"csv_path", csvPath,
	)

	return csvPath, nil
}

func (ors *observableSummarizer) SummarizeToday() (string, error) {
	ctx := context.Background()
	ctx, span := trace.StartSpan(ctx, "report.SummarizeToday")
	defer span.End()

	csvPath, err := ors.summarizer.SummarizeToday()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Today's execution report failed", err)
		return "", err
	}

	if csvPath != "" {
		logger.InfoSkip(ctx, 1, "Today's execution report generated",
			"csv_path", csvPath,
		)
	}

	return csvPath, nil
}

func (ors *observableSummarizer) ShouldRunNow() (bool, string) {
	ctx := context.Background()
	ctx, span := trace.StartSpan(ctx, "report.ShouldRunNow")
	defer span.End()

	shouldRun, csvPath := ors.summarizer.ShouldRunNow()

	logger.DebugSkip(ctx, 1, "Report check completed",
		"should_run", shouldRun,
		"csv_path", csvPath,
	)

	return shouldRun, csvPath
}
