package anchor

import (
	"log/slog"

	"vwap-engine/internal/vwap"
)

// Oracle answers vwap.AnchorOracle queries by comparing the timestamps of
// consecutive bars of a source.
type Oracle struct {
	cal    Calendar
	source vwap.BarSource
	tf     int // native bar timeframe in seconds
}

// NewOracle creates an oracle over source, whose bars have timeframe tf.
func NewOracle(cal Calendar, source vwap.BarSource, tf int) *Oracle {
	return &Oracle{cal: cal, source: source, tf: tf}
}

// IsNewAnchorPeriod reports whether bar index opens a new period. Bar 0 and
// the unbounded anchor never do.
func (o *Oracle) IsNewAnchorPeriod(index int, a vwap.Anchor) bool {
	if index <= 0 || a == vwap.AnchorUnbounded {
		return false
	}
	prev, err := o.source.Bar(index - 1)
	if err != nil {
		slog.Warn("anchor: previous bar unavailable", "component", "anchor", "index", index-1, "error", err)
		return false
	}
	cur, err := o.source.Bar(index)
	if err != nil {
		slog.Warn("anchor: bar unavailable", "component", "anchor", "index", index, "error", err)
		return false
	}

	switch a {
	case vwap.AnchorDaily:
		return o.cal.IsNewSession(prev.TS, cur.TS)
	case vwap.AnchorWeekly:
		return o.cal.IsNewWeek(prev.TS, cur.TS)
	case vwap.AnchorMonthly:
		return o.cal.IsNewMonth(prev.TS, cur.TS)
	}
	return false
}

// GranularityMatches reports whether each bar spans exactly one anchor
// period (daily bars with a daily anchor, and so on).
func (o *Oracle) GranularityMatches(a vwap.Anchor) bool {
	switch a {
	case vwap.AnchorDaily:
		return o.tf == DayTF
	case vwap.AnchorWeekly:
		return o.tf == WeekTF
	case vwap.AnchorMonthly:
		return o.tf == MonthTF
	}
	return false
}
