// cmd/backtest replays historical bars from SQLite through a cold band
// engine to inspect bands for a settings change without live market data.
//
// Usage:
//
//	go run ./cmd/backtest --instruments=NSE:3045:0.05 --tf=60 --settings=vwap.yaml --speed=100 --save
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vwap-engine/config"
	"vwap-engine/internal/anchor"
	"vwap-engine/internal/logger"
	"vwap-engine/internal/model"
	"vwap-engine/internal/replay"
	"vwap-engine/internal/series"
	redisstore "vwap-engine/internal/store/redis"
	sqlitestore "vwap-engine/internal/store/sqlite"
	"vwap-engine/internal/vwap"
)

func main() {
	instFlag := flag.String("instruments", "NSE:99926000:0.05", "Instruments: EXCHANGE:TOKEN:TICK,...")
	tf := flag.Int("tf", 60, "Bar timeframe in seconds")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	settingsFile := flag.String("settings", "", "YAML settings file (default settings when empty)")
	every := flag.Int("every", 100, "Print every Nth band set (0=none)")
	save := flag.Bool("save", false, "Write the computed bands to the vwap_bands table")
	feed := flag.String("feed-redis", "", "Redis address to append replayed bars to, feeding a running vwapengine")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger.InitWriter(os.Stderr, "backtest", logger.ParseLevel(*level), "text")

	insts, err := config.ParseInstruments(*instFlag, *tf)
	if err != nil {
		fatal(err)
	}
	settings := vwap.DefaultSettings()
	if *settingsFile != "" {
		settings, _, err = config.LoadSettingsFile(*settingsFile, *tf)
		if err != nil {
			fatal(err)
		}
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		fatal(fmt.Errorf("sqlite open: %w", err))
	}
	defer reader.Close()

	var writer *sqlitestore.Writer
	if *save {
		writer, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			fatal(err)
		}
		defer writer.Close()
	}

	var feeder *redisstore.Writer
	if *feed != "" {
		feeder, err = redisstore.New(redisstore.WriterConfig{Addr: *feed})
		if err != nil {
			fatal(err)
		}
		defer feeder.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Printf("settings: %s\n", settings)
	runs := make(map[string]*run, len(insts))
	for _, inst := range insts {
		r, err := newRun(inst, settings, *every)
		if err != nil {
			fatal(err)
		}
		runs[inst.Key()] = r
	}

	barCh := make(chan model.Bar, 10000)
	go func() {
		if _, err := replay.New(reader).Run(ctx, insts, *fromTS, *speed, barCh); err != nil && ctx.Err() == nil {
			slog.Error("replay error", "error", err)
		}
		close(barCh)
	}()

	start := time.Now()
	for b := range barCh {
		if r, ok := runs[b.Key()]; ok {
			r.process(b)
		}
		if feeder != nil {
			if err := feeder.WriteBar(ctx, b); err != nil && ctx.Err() == nil {
				slog.Warn("feed failed", "instrument", b.Key(), "error", err)
			}
		}
	}

	totals := summary{took: time.Since(start)}
	for _, inst := range insts {
		r := runs[inst.Key()]
		totals.add(r.sum)
		if writer != nil && r.engine.Len() > 0 {
			if err := writer.WriteBandBatch(context.Background(), r.engine.Outputs(0)); err != nil {
				slog.Error("save bands failed", "instrument", inst.Key(), "error", err)
				continue
			}
			slog.Info("bands saved", "instrument", inst.Key(), "sets", r.engine.Len())
		}
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Bars processed:    %-16d ║\n", totals.bars)
	fmt.Printf("║  Bars skipped:      %-16d ║\n", totals.skipped)
	fmt.Printf("║  Anchor periods:    %-16d ║\n", totals.periods)
	fmt.Printf("║  Line breaks:       %-16d ║\n", totals.breaks)
	fmt.Printf("║  Took:              %-16s ║\n", totals.took.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}

type summary struct {
	bars, skipped, periods, breaks int
	took                           time.Duration
}

func (s *summary) add(o summary) {
	s.bars += o.bars
	s.skipped += o.skipped
	s.periods += o.periods
	s.breaks += o.breaks
}

// run is the engine of one replayed instrument.
type run struct {
	inst   model.Instrument
	src    *series.Series
	engine *vwap.Engine
	every  int
	sum    summary
}

func newRun(inst model.Instrument, settings vwap.Settings, every int) (*run, error) {
	r := &run{inst: inst, src: series.New(inst), every: every}
	engine, err := vwap.New(inst.TickSize, settings, r.src,
		anchor.NewOracle(anchor.DefaultCalendar(), r.src, inst.TF),
		vwap.SinkFuncs{Bar: r.onBar, Break: func(int) { r.sum.breaks++ }})
	if err != nil {
		return nil, err
	}
	r.engine = engine
	return r, nil
}

func (r *run) process(b model.Bar) {
	if vwap.ValidateBar(&b) != nil {
		r.sum.skipped++
		return
	}
	idx, err := r.src.Append(b)
	if err != nil {
		r.sum.skipped++
		return
	}
	if _, err := r.engine.Process(idx); err != nil {
		slog.Error("process failed", "instrument", r.inst.Key(), "index", idx, "error", err)
		return
	}
	r.sum.bars++
}

func (r *run) onBar(set model.BandSet) {
	if set.Reset {
		r.sum.periods++
	}
	if r.every > 0 && (set.Index < 10 || set.Index%r.every == 0) {
		fmt.Printf("  [%s] %s #%d vwap=%s sd=%s bands=%s/%s %s/%s %s/%s\n",
			set.TS.In(anchor.IST).Format("2006-01-02 15:04"), r.inst.Key(), set.Index,
			set.Central.StringFixed(2), set.StdDev.StringFixed(3),
			set.Upper[0].StringFixed(2), set.Lower[0].StringFixed(2),
			set.Upper[1].StringFixed(2), set.Lower[1].StringFixed(2),
			set.Upper[2].StringFixed(2), set.Lower[2].StringFixed(2))
	}
}

func fatal(err error) {
	slog.Error("backtest failed", "error", err)
	os.Exit(1)
}
