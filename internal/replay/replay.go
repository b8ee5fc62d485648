// Package replay reads stored bars and emits them in timestamp order at a
// configurable speed for backtesting.
package replay

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"vwap-engine/internal/model"
)

// maxGap caps the wait between two bars.
const maxGap = 5 * time.Second

// Replayer emits the stored bars of several instruments as one stream.
type Replayer struct {
	reader model.BarReader
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by reader.
func New(reader model.BarReader) *Replayer {
	return &Replayer{reader: reader, sleep: sleepCtx}
}

// Run emits every bar of insts with TS after fromTS into out, ordered by
// timestamp and, within a timestamp, by instrument order. speed controls
// the playback rate: 1 = real time, 10 = 10x, 0 = as fast as possible.
// Returns the number of bars emitted.
func (r *Replayer) Run(ctx context.Context, insts []model.Instrument, fromTS int64, speed float64, out chan<- model.Bar) (int, error) {
	var all []model.Bar
	for _, inst := range insts {
		bars, err := r.reader.ReadBars(inst.Exchange, inst.Token, inst.TF, fromTS)
		if err != nil {
			return 0, err
		}
		all = append(all, bars...)
	}
	if len(all) == 0 {
		slog.Info("no bars to replay", "component", "replay")
		return 0, nil
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	slog.Info("replay loaded", "component", "replay", "bars", len(all), "instruments", len(insts), "speed", speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range all {
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				if err := r.sleep(ctx, scaled); err != nil {
					return emitted, err
				}
			}
		}
		prevTS = b.TS

		select {
		case <-ctx.Done():
			slog.Info("replay cancelled", "component", "replay", "emitted", emitted)
			return emitted, ctx.Err()
		case out <- b:
			emitted++
		}
	}

	slog.Info("replay completed", "component", "replay", "emitted", emitted)
	return emitted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
