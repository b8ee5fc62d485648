package vwapsvc

import (
	"strconv"

	"vwap-engine/internal/anchor"
	"vwap-engine/internal/model"
	"vwap-engine/internal/series"
	"vwap-engine/internal/vwap"
)

// tracker holds the series and engine of one instrument. It is the
// engine's sink and collects output until the service publishes it.
type tracker struct {
	inst   model.Instrument
	series *series.Series
	oracle *anchor.Oracle
	engine *vwap.Engine

	sets   []model.BandSet
	breaks []int
}

func newTracker(inst model.Instrument, cal anchor.Calendar) *tracker {
	s := series.New(inst)
	return &tracker{
		inst:   inst,
		series: s,
		oracle: anchor.NewOracle(cal, s, inst.TF),
	}
}

func (t *tracker) OnBarProcessed(set model.BandSet) {
	t.sets = append(t.sets, set)
}

func (t *tracker) RequestLineBreak(index int) {
	t.breaks = append(t.breaks, index)
}

// drain returns and clears the collected output.
func (t *tracker) drain() ([]model.BandSet, []model.LineBreak) {
	sets := t.sets
	t.sets = nil

	var breaks []model.LineBreak
	for _, idx := range t.breaks {
		lb := model.LineBreak{
			Token:    t.inst.Token,
			Exchange: t.inst.Exchange,
			TF:       t.inst.TF,
			Index:    idx,
		}
		if b, err := t.series.Bar(idx); err == nil {
			lb.TS = b.TS
		}
		breaks = append(breaks, lb)
	}
	t.breaks = nil
	return sets, breaks
}

// snapshotKey names the snapshot of inst: "exchange:token:tf".
func snapshotKey(inst model.Instrument) string {
	return inst.Key() + ":" + strconv.Itoa(inst.TF)
}
