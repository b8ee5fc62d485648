package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Tiers is the number of band tiers around the central line.
const Tiers = 3

// BandSet is the per-bar output of the VWAP band engine: the central value
// and an upper/lower pair for each tier.
type BandSet struct {
	Token    string `json:"token,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	TF       int    `json:"tf,omitempty"`

	Index       int                    `json:"index"`
	TS          time.Time              `json:"ts"`
	Central     decimal.Decimal        `json:"central"`
	Upper       [Tiers]decimal.Decimal `json:"upper"`
	Lower       [Tiers]decimal.Decimal `json:"lower"`
	StdDev      decimal.Decimal        `json:"stddev"`       // in ticks
	AnchorStart int                    `json:"anchor_start"` // first bar of the active anchor period
	Samples     int                    `json:"samples"`      // prior deviations summed by the window walk
	Reset       bool                   `json:"reset"`        // true when this bar started a new anchor period
}

// Key returns "exchange:token".
func (s *BandSet) Key() string {
	return s.Exchange + ":" + s.Token
}

// StreamKey returns the Redis stream key: "vwap:{TF}s:{exchange}:{token}".
func (s *BandSet) StreamKey() string {
	return "vwap:" + strconv.Itoa(s.TF) + "s:" + s.Exchange + ":" + s.Token
}

// LatestKey returns the Redis key holding the most recent band set.
func (s *BandSet) LatestKey() string {
	return "vwap:" + strconv.Itoa(s.TF) + "s:latest:" + s.Exchange + ":" + s.Token
}

// PubSubChannel returns "pub:vwap:{TF}s:{exchange}:{token}".
func (s *BandSet) PubSubChannel() string {
	return "pub:" + s.StreamKey()
}

// JSON returns the JSON-encoded band set.
func (s *BandSet) JSON() []byte {
	data, _ := json.Marshal(s)
	return data
}

// LineBreak asks a renderer to end the drawn line at Index, so the next
// anchor period starts a fresh segment.
type LineBreak struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	Index    int       `json:"index"`
	TS       time.Time `json:"ts"`
}

// PubSubChannel returns "pub:vwap:break:{TF}s:{exchange}:{token}".
func (l *LineBreak) PubSubChannel() string {
	return "pub:vwap:break:" + strconv.Itoa(l.TF) + "s:" + l.Exchange + ":" + l.Token
}

// JSON returns the JSON-encoded line break.
func (l *LineBreak) JSON() []byte {
	data, _ := json.Marshal(l)
	return data
}
