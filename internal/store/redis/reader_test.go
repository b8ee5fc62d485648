package redis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwap-engine/internal/model"
)

func TestDecodeBar(t *testing.T) {
	b := model.Bar{
		Token:    "SBIN",
		Exchange: "NSE",
		TF:       300,
		TS:       time.Date(2026, 3, 4, 3, 45, 0, 0, time.UTC),
		Open:     decimal.RequireFromString("812.35"),
		High:     decimal.RequireFromString("813"),
		Low:      decimal.RequireFromString("811.8"),
		Close:    decimal.RequireFromString("812.9"),
		Volume:   decimal.NewFromInt(15230),
	}

	got, err := decodeBar(map[string]interface{}{"data": string(b.JSON())})
	require.NoError(t, err)
	assert.Equal(t, "NSE:SBIN", got.Key())
	assert.Equal(t, "bar:300s:NSE:SBIN", got.StreamKey())
	assert.True(t, got.TS.Equal(b.TS))
	assert.True(t, got.Close.Equal(b.Close))

	_, err = decodeBar(map[string]interface{}{})
	assert.Error(t, err)
	_, err = decodeBar(map[string]interface{}{"data": "{not json"})
	assert.Error(t, err)
	_, err = decodeBar(map[string]interface{}{"data": `{"token":"SBIN"}`})
	assert.Error(t, err, "bar without timestamp")
}

func TestStreamMaxLen(t *testing.T) {
	assert.Equal(t, int64(10900), streamMaxLen(1))
	assert.Equal(t, int64(280), streamMaxLen(60))
	assert.Equal(t, int64(200), streamMaxLen(86400))
	assert.Equal(t, int64(200), streamMaxLen(0))
}
