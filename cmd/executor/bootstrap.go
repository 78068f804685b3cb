package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/backup"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/control"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/events"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/executor"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/executor/executorobs"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/interfaces"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/news"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/report"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/report/reportobs"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/store"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/terminal"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/trace"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"

	"github.com/joho/godotenv"
)

// initializeSystem initializes the logger and tracer.
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	// Initialize daily report summarizer with observability
	initializeReport()

	return nil
}

// initializeReport wraps the default report summarizer with observability
func initializeReport() {
	baseSummarizer := report.NewSummarizer()
	report.SetDefaultSummarizer(reportobs.Wrap(baseSummarizer))
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// buildTerminal creates the websocket transport from config.
func buildTerminal(cfg *store.Config) *terminal.Transport {
	return terminal.NewTransport(terminal.Config{
		URL:                cfg.Terminal.URL,
		PoolSize:           cfg.Terminal.PoolSize,
		RequestTimeout:     cfg.RequestTimeout(),
		ReadTimeout:        cfg.ReadTimeout(),
		PingTimeout:        time.Duration(cfg.Terminal.PingTimeoutMs) * time.Millisecond,
		ReconnectInterval:  time.Duration(cfg.Terminal.ReconnectSeconds) * time.Second,
		MaxConnectAttempts: cfg.Terminal.MaxConnectAttempts,
	})
}

// buildCalendar creates the news calendar client, or nil when the news
// check is disabled.
func buildCalendar(cfg *store.Config) *news.Calendar {
	if !cfg.Safety.CheckNewsEvents {
		return nil
	}
	return news.NewCalendar(news.Config{
		APIURL:         cfg.News.APIURL,
		CacheTTL:       time.Duration(cfg.News.CacheMinutes) * time.Minute,
		PauseBefore:    time.Duration(cfg.News.PauseBeforeMinutes) * time.Minute,
		PauseAfter:     time.Duration(cfg.News.PauseAfterMinutes) * time.Minute,
		HighImpactOnly: cfg.News.HighImpactOnly,
	})
}

// buildGate creates the safety gate with limits taken from config.
func buildGate(cfg *store.Config, tracker *safety.DailyTracker, calendar *news.Calendar) *safety.Gate {
	limits := safety.Limits{
		MaxDailyLoss:       cfg.Safety.MaxDailyLoss,
		MaxPositions:       cfg.Safety.MaxPositions,
		MaxLotSize:         cfg.Safety.MaxLotSize,
		MaxDrawdownPercent: cfg.Safety.MaxDrawdownPercent,
		MaxTotalExposure:   cfg.Safety.MaxTotalExposure,
		MaxCorrelation:     cfg.Safety.MaxCorrelation,
		MaxSpread:          cfg.Safety.MaxSpread,
		RequireMarginCheck: cfg.Safety.RequireMarginCheck,
		CheckTradingHours:  cfg.Safety.CheckTradingHours,
		CheckNewsEvents:    cfg.Safety.CheckNewsEvents,
		AllowedSessions:    cfg.Safety.AllowedSessions,
	}
	if calendar == nil {
		// Typed nil must not reach the interface field.
		return safety.NewGate(limits, tracker, nil)
	}
	return safety.NewGate(limits, tracker, calendar)
}

// emergencyConfig maps the config section to the kill switch settings.
func emergencyConfig(cfg *store.Config) safety.EmergencyStopConfig {
	ec := safety.DefaultEmergencyStopConfig()
	if cfg.Emergency.LockMinutes > 0 {
		ec.LockDuration = time.Duration(cfg.Emergency.LockMinutes) * time.Minute
	}
	if cfg.Emergency.CriticalLockMinutes > 0 {
		ec.CriticalLockDuration = time.Duration(cfg.Emergency.CriticalLockMinutes) * time.Minute
	}
	ec.MaxConsecutiveLosses = cfg.Emergency.MaxConsecutiveLosses
	ec.MaxErrorRate = cfg.Emergency.MaxErrorRate
	return ec
}

// buildBackup creates the emergency snapshot writer. The gatherer pulls
// live state at snapshot time so the file reflects the moment of the stop.
func buildBackup(cfg *store.Config, transport *terminal.Transport, core **executor.Executor) *backup.Writer {
	gather := func(ctx context.Context) map[string]any {
		extra := map[string]any{
			"terminal": transport.GetStatus(),
		}
		if exec := *core; exec != nil {
			extra["queue"] = exec.QueueStats()
			extra["recentResults"] = exec.RecentResults(20)
		}
		if transport.IsConnected() {
			if positions, err := transport.GetPositions(ctx); err == nil {
				extra["positions"] = positions
			}
		}
		return extra
	}
	return backup.NewWriter(cfg.Backup.Dir, gather)
}

// buildControl connects the redis control channel with handlers routed to
// the executor and kill switch. The handlers dereference late-bound
// pointers because the channel is created before the executor.
func buildControl(ctx context.Context, cfg *store.Config, core **executor.Executor, stop **safety.EmergencyStop, gate *safety.Gate) (*control.Channel, error) {
	handlers := control.Handlers{
		OnCommand: func(ctx context.Context, cmd types.Command) {
			exec := *core
			if exec == nil {
				return
			}
			if _, err := exec.AddCommand(ctx, cmd); err != nil {
				logger.Warn(ctx, "Command rejected", "kind", cmd.Kind, "error", err)
			}
		},
		OnCancel: func(ctx context.Context, commandID string) {
			if exec := *core; exec != nil {
				exec.CancelCommand(ctx, commandID)
			}
		},
		OnEmergencyStop: func(ctx context.Context, reason string) {
			if es := *stop; es != nil {
				es.Activate(ctx, reason, "remote", safety.SeverityHigh)
			}
		},
		OnConfigUpdate: func(ctx context.Context, update safety.LimitsUpdate) {
			limits := gate.ApplyUpdate(update)
			logger.Info(ctx, "Safety limits updated",
				"max_daily_loss", limits.MaxDailyLoss,
				"max_positions", limits.MaxPositions,
				"max_lot_size", limits.MaxLotSize)
		},
	}
	return control.NewChannel(control.Config{
		Addr:       cfg.Control.RedisAddr,
		Password:   cfg.Control.RedisPassword,
		DB:         cfg.Control.RedisDB,
		Channel:    cfg.Control.Channel,
		ExecutorID: cfg.ExecutorID,
	}, handlers)
}

// buildExecutor creates the command executor wrapped with observability.
func buildExecutor(cfg *store.Config, transport *terminal.Transport, gate *safety.Gate, stop *safety.EmergencyStop, channel *control.Channel, bus *events.Bus) (*executor.Executor, interfaces.Executor) {
	core := executor.New(executor.Config{
		QueueCapacity: cfg.Queue.Capacity,
		HistorySize:   cfg.History.Size,
		RateWindow:    cfg.RateWindow(),
		RateMax:       cfg.RateLimit.MaxRequests,
		DryRun:        cfg.Mode == "DRY_RUN",
	}, transport, gate, stop, channel, bus)

	// Wrap with observability middleware
	return core, executorobs.Wrap(core)
}
