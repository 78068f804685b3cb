package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/events"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/executor"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/interfaces"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/report"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/safety"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	must(err)

	if cfg.Mode == "DRY_RUN" {
		log.Println(">> DRY_RUN mode")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	transport := buildTerminal(cfg)
	go func() {
		if err := transport.Connect(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Terminal connection failed", err)
		}
	}()

	tracker := safety.NewDailyTracker()
	calendar := buildCalendar(cfg)
	gate := buildGate(cfg, tracker, calendar)

	bus := events.NewBus(256)
	go bus.Run(ctx)

	// The channel and kill switch cross-reference the executor, which is
	// built last. The closures resolve through these pointers at call time.
	var core *executor.Executor
	var stop *safety.EmergencyStop

	channel, err := buildControl(ctx, cfg, &core, &stop, gate)
	must(err)
	defer channel.Close()

	backupWriter := buildBackup(cfg, transport, &core)

	stop = safety.NewEmergencyStop(emergencyConfig(cfg), transport, backupWriter, channel, bus,
		func(ctx context.Context) error {
			if core != nil {
				core.DrainForKillSwitch(ctx, "emergency stop")
			}
			return nil
		})

	var exec interfaces.Executor
	core, exec = buildExecutor(cfg, transport, gate, stop, channel, bus)

	bus.Subscribe(func(e events.Event) {
		if err := channel.PublishEvent(ctx, e); err != nil {
			logger.Warn(ctx, "Event publish failed", "event", e.EventName(), "error", err)
		}
	})

	go exec.Run(ctx)
	go func() {
		if err := channel.Run(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Control channel stopped", err)
		}
	}()

	heartbeat := time.NewTicker(time.Duration(cfg.HeartbeatSeconds) * time.Second)
	defer heartbeat.Stop()
	watchdog := time.NewTicker(30 * time.Second)
	defer watchdog.Stop()
	reportTick := time.NewTicker(60 * time.Second)
	defer reportTick.Stop()

	logger.Info(ctx, "Executor started",
		"executor_id", cfg.ExecutorID,
		"mode", cfg.Mode,
		"terminal_url", cfg.Terminal.URL)

	for {
		select {
		case <-heartbeat.C:
			_ = bus.TryPublish(events.HeartbeatEvent{
				Connected: transport.IsConnected(),
				QueueSize: core.QueueStats().Pending,
				Timestamp: time.Now().UTC(),
			})
		case <-watchdog.C:
			if transport.IsConnected() {
				if acct, err := transport.GetAccountInfo(ctx); err == nil {
					tracker.UpdatePeakBalance(decimal.NewFromFloat(acct.Equity))
				}
			}
			stop.CheckAutoTriggers(ctx, tracker, gate.Limits())
		case <-reportTick.C:
			if ok, _ := report.ShouldRunNow(); ok {
				if p, err := report.SummarizeDay(time.Now().UTC().AddDate(0, 0, -1)); err == nil && p != "" {
					logger.Info(ctx, "Daily report written", "path", p)
				}
			}
		case <-sigc:
			logger.Info(ctx, "Shutting down")
			if p, err := report.SummarizeToday(); err == nil && p != "" {
				logger.Info(ctx, "Daily report written", "path", p)
			}
			cancel()
			transport.Disconnect()
			bus.Close()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = trace.Shutdown(shutdownCtx)
			shutdownCancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
