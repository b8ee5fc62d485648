package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vwap-engine/config"
	"vwap-engine/internal/anchor"
	"vwap-engine/internal/logger"
	"vwap-engine/internal/model"
	"vwap-engine/internal/vwap"
	"vwap-engine/internal/vwapsvc"
)

func main() {
	cfg := config.Load()
	logger.InitWriter(os.Stdout, "vwapengine", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	settings := vwap.DefaultSettings()
	var insts []model.Instrument
	if cfg.SettingsFile != "" {
		var err error
		settings, insts, err = config.LoadSettingsFile(cfg.SettingsFile, cfg.BarTF)
		if err != nil {
			fatal("settings file", err)
		}
	}
	if len(insts) == 0 {
		var err error
		insts, err = cfg.ParseInstruments()
		if err != nil {
			fatal("instruments", err)
		}
	}
	slog.Info("configuration loaded", "instruments", len(insts), "tf", cfg.BarTF,
		"settings", settings.String(), "snapshot_interval", cfg.SnapshotInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	svc, err := vwapsvc.Open(ctx, cfg, vwapsvc.Options{
		Instruments:      insts,
		Settings:         settings,
		Calendar:         anchor.DefaultCalendar(),
		SnapshotInterval: cfg.SnapshotInterval,
		HTTPAddr:         cfg.HTTPAddr,
		AdminTOTPSecret:  cfg.AdminTOTPSecret,
	})
	if err != nil {
		fatal("init", err)
	}

	if err := svc.Run(ctx); err != nil {
		fatal("run", err)
	}
}

func fatal(stage string, err error) {
	slog.Error("vwapengine failed", "stage", stage, "error", err)
	os.Exit(1)
}
