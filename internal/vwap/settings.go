package vwap

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"vwap-engine/internal/model"
)

// Anchor selects the calendar span over which accumulation runs before it
// is reset.
type Anchor int

const (
	AnchorDaily Anchor = iota
	AnchorWeekly
	AnchorMonthly
	AnchorUnbounded
)

func (a Anchor) String() string {
	switch a {
	case AnchorDaily:
		return "daily"
	case AnchorWeekly:
		return "weekly"
	case AnchorMonthly:
		return "monthly"
	case AnchorUnbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// ParseAnchor parses "daily", "weekly", "monthly" or "unbounded"
// (case-insensitive; "all" is accepted for unbounded).
func ParseAnchor(s string) (Anchor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day", "session":
		return AnchorDaily, nil
	case "weekly", "week":
		return AnchorWeekly, nil
	case "monthly", "month":
		return AnchorMonthly, nil
	case "unbounded", "all":
		return AnchorUnbounded, nil
	}
	return 0, fmt.Errorf("unknown anchor %q", s)
}

// Mode selects how bars are weighted in the central value.
type Mode int

const (
	// Weighted is the volume-weighted average (VWAP).
	Weighted Mode = iota
	// EqualWeight gives every bar weight 1 (TWAP).
	EqualWeight
)

func (m Mode) String() string {
	switch m {
	case Weighted:
		return "vwap"
	case EqualWeight:
		return "twap"
	default:
		return "unknown"
	}
}

// ParseMode parses "vwap"/"weighted" or "twap"/"equal".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vwap", "weighted":
		return Weighted, nil
	case "twap", "equal", "equal-weight":
		return EqualWeight, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// PriceSource selects the price a Weighted bar contributes.
type PriceSource int

const (
	SourceTypical PriceSource = iota // (O+H+L+C)/4
	SourceClose
)

func (p PriceSource) String() string {
	switch p {
	case SourceTypical:
		return "typical"
	case SourceClose:
		return "close"
	default:
		return "unknown"
	}
}

// ParsePriceSource parses "typical" or "close".
func ParsePriceSource(s string) (PriceSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "typical", "ohlc4":
		return SourceTypical, nil
	case "close":
		return SourceClose, nil
	}
	return 0, fmt.Errorf("unknown price source %q", s)
}

// Default settings.
const DefaultPeriod = 300

var defaultMultipliers = [model.Tiers]decimal.Decimal{
	decimal.NewFromInt(1),
	decimal.NewFromInt(2),
	decimal.RequireFromString("2.5"),
}

// Settings is the engine's configuration surface. Fields are unexported so
// every write goes through a setter that validates it; an invalid write is
// ignored and the previous value is kept.
type Settings struct {
	anchor      Anchor
	mode        Mode
	source      PriceSource
	period      int
	multipliers [model.Tiers]decimal.Decimal
}

// DefaultSettings returns daily anchoring, VWAP on typical price, a 300-bar
// window and multipliers 1, 2 and 2.5.
func DefaultSettings() Settings {
	return Settings{
		anchor:      AnchorDaily,
		mode:        Weighted,
		source:      SourceTypical,
		period:      DefaultPeriod,
		multipliers: defaultMultipliers,
	}
}

func (s Settings) Anchor() Anchor           { return s.anchor }
func (s Settings) Mode() Mode               { return s.mode }
func (s Settings) PriceSource() PriceSource { return s.source }
func (s Settings) Period() int              { return s.period }
func (s Settings) Multiplier(tier int) decimal.Decimal {
	if tier < 0 || tier >= model.Tiers {
		return decimal.Zero
	}
	return s.multipliers[tier]
}

// Multipliers returns a copy of all tier multipliers.
func (s Settings) Multipliers() [model.Tiers]decimal.Decimal { return s.multipliers }

// SetAnchor applies a, reporting whether it was a known anchor.
func (s *Settings) SetAnchor(a Anchor) bool {
	if a < AnchorDaily || a > AnchorUnbounded {
		return false
	}
	s.anchor = a
	return true
}

// SetMode applies m, reporting whether it was a known mode.
func (s *Settings) SetMode(m Mode) bool {
	if m != Weighted && m != EqualWeight {
		return false
	}
	s.mode = m
	return true
}

// SetPriceSource applies p, reporting whether it was a known source.
func (s *Settings) SetPriceSource(p PriceSource) bool {
	if p != SourceTypical && p != SourceClose {
		return false
	}
	s.source = p
	return true
}

// SetPeriod applies n when n >= 1.
func (s *Settings) SetPeriod(n int) bool {
	if n < 1 {
		return false
	}
	s.period = n
	return true
}

// SetMultiplier applies v to tier (0..2) when v >= 0.
func (s *Settings) SetMultiplier(tier int, v decimal.Decimal) bool {
	if tier < 0 || tier >= model.Tiers || v.IsNegative() {
		return false
	}
	s.multipliers[tier] = v
	return true
}

// Valid reports whether s satisfies the setter rules. The zero value does
// not: its period is 0.
func (s Settings) Valid() bool {
	if s.period < 1 {
		return false
	}
	for _, m := range s.multipliers {
		if m.IsNegative() {
			return false
		}
	}
	return true
}

// Equal reports whether two settings would produce identical output.
func (s Settings) Equal(o Settings) bool {
	if s.anchor != o.anchor || s.mode != o.mode || s.source != o.source || s.period != o.period {
		return false
	}
	for i := range s.multipliers {
		if !s.multipliers[i].Equal(o.multipliers[i]) {
			return false
		}
	}
	return true
}

func (s Settings) String() string {
	return fmt.Sprintf("anchor=%s mode=%s source=%s period=%d mult=%s/%s/%s",
		s.anchor, s.mode, s.source, s.period,
		s.multipliers[0], s.multipliers[1], s.multipliers[2])
}
