package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwap-engine/internal/vwap"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("BAR_TF", "")
	t.Setenv("SNAPSHOT_INTERVAL", "")

	cfg := Load()
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 60, cfg.BarTF)
	assert.Equal(t, time.Minute, cfg.SnapshotInterval)
	assert.Equal(t, "vwapengine", cfg.ConsumerGroup)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("BAR_TF", "300")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("SNAPSHOT_INTERVAL", "30s")
	t.Setenv("ADMIN_TOTP_SECRET", "JBSWY3DPEHPK3PXP")

	cfg := Load()
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, 300, cfg.BarTF)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", cfg.AdminTOTPSecret)
}

func TestParseInstruments(t *testing.T) {
	insts, err := ParseInstruments(" NSE:3045:0.05, BSE:500112:0.01 ,", 60)
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "NSE:3045", insts[0].Key())
	assert.Equal(t, 60, insts[0].TF)
	assert.True(t, insts[0].TickSize.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "bar:60s:BSE:500112", insts[1].StreamKey())
}

func TestParseInstruments_Errors(t *testing.T) {
	cases := map[string]string{
		"missing tick": "NSE:3045",
		"zero tick":    "NSE:3045:0",
		"bad tick":     "NSE:3045:abc",
		"empty token":  "NSE::0.05",
		"duplicate":    "NSE:3045:0.05,NSE:3045:0.1",
		"empty":        " , ",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInstruments(raw, 60)
			assert.Error(t, err)
		})
	}

	_, err := ParseInstruments("NSE:3045:0.05", 0)
	assert.Error(t, err)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vwap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSettingsFile(t *testing.T) {
	path := writeFile(t, `
settings:
  anchor: weekly
  mode: twap
  price_source: close
  period: 50
  multipliers: ["0.5", "1.5", "3"]
instruments:
  - exchange: NSE
    token: "3045"
    tick_size: "0.05"
`)
	s, insts, err := LoadSettingsFile(path, 300)
	require.NoError(t, err)
	assert.Equal(t, vwap.AnchorWeekly, s.Anchor())
	assert.Equal(t, vwap.EqualWeight, s.Mode())
	assert.Equal(t, vwap.SourceClose, s.PriceSource())
	assert.Equal(t, 50, s.Period())
	assert.True(t, s.Multiplier(2).Equal(decimal.NewFromInt(3)))
	require.Len(t, insts, 1)
	assert.Equal(t, 300, insts[0].TF)
}

func TestLoadSettingsFile_InvalidFieldsKeepDefaults(t *testing.T) {
	path := writeFile(t, `
settings:
  anchor: fortnightly
  period: -4
  multipliers: ["-1"]
`)
	s, insts, err := LoadSettingsFile(path, 60)
	require.NoError(t, err)
	assert.True(t, s.Equal(vwap.DefaultSettings()))
	assert.Empty(t, insts)
}

func TestLoadSettingsFile_Errors(t *testing.T) {
	_, _, err := LoadSettingsFile(filepath.Join(t.TempDir(), "missing.yaml"), 60)
	assert.Error(t, err)

	_, _, err = LoadSettingsFile(writeFile(t, "settings: [unclosed"), 60)
	assert.Error(t, err)

	_, _, err = LoadSettingsFile(writeFile(t, "settings:\n  multipliers: [\"x\"]\n"), 60)
	assert.Error(t, err)

	_, _, err = LoadSettingsFile(writeFile(t, "instruments:\n  - exchange: NSE\n    token: \"1\"\n    tick_size: \"0\"\n"), 60)
	assert.Error(t, err)
}
