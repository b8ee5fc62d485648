package model

import "github.com/shopspring/decimal"

// Instrument identifies a tradeable series and its price increment.
type Instrument struct {
	Token    string          `json:"token" yaml:"token"`
	Exchange string          `json:"exchange" yaml:"exchange"`
	TF       int             `json:"tf" yaml:"tf"`               // bar timeframe in seconds
	TickSize decimal.Decimal `json:"tick_size" yaml:"tick_size"` // minimum price movement
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}

// StreamKey returns the bar stream this instrument is fed from.
func (i *Instrument) StreamKey() string {
	return BarStreamKey(i.TF, i.Exchange, i.Token)
}
