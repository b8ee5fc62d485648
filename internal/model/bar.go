package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV bar of an instrument's series. Bars are immutable once
// appended to a series; Index is the absolute position in that series.
type Bar struct {
	Token    string          `json:"token"`
	Exchange string          `json:"exchange"`
	TF       int             `json:"tf"`    // bar timeframe in seconds
	Index    int             `json:"index"` // assigned by the owning series
	TS       time.Time       `json:"ts"`    // bar open time (UTC)
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

var four = decimal.NewFromInt(4)

// Typical returns (open + high + low + close) / 4.
func (b *Bar) Typical() decimal.Decimal {
	return b.Open.Add(b.High).Add(b.Low).Add(b.Close).Div(four)
}

// Key returns "exchange:token".
func (b *Bar) Key() string {
	return b.Exchange + ":" + b.Token
}

// StreamKey returns the Redis stream key: "bar:{TF}s:{exchange}:{token}".
func (b *Bar) StreamKey() string {
	return BarStreamKey(b.TF, b.Exchange, b.Token)
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// BarStreamKey builds "bar:{TF}s:{exchange}:{token}".
func BarStreamKey(tf int, exchange, token string) string {
	return "bar:" + strconv.Itoa(tf) + "s:" + exchange + ":" + token
}
