package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"vwap-engine/internal/model"
	"vwap-engine/internal/vwap"
)

// SettingsFile is the YAML layout of VWAP_SETTINGS_FILE:
//
//	settings:
//	  anchor: weekly
//	  mode: vwap
//	  price_source: typical
//	  period: 300
//	  multipliers: ["1", "2", "2.5"]
//	instruments:
//	  - exchange: NSE
//	    token: "3045"
//	    tick_size: "0.05"
type SettingsFile struct {
	Settings struct {
		vwap.SettingsSpec `yaml:",inline"`
		Multipliers       []string `yaml:"multipliers"`
	} `yaml:"settings"`
	Instruments []struct {
		Exchange string `yaml:"exchange"`
		Token    string `yaml:"token"`
		TickSize string `yaml:"tick_size"`
	} `yaml:"instruments"`
}

// LoadSettingsFile reads engine settings and, when listed, instruments from
// a YAML file. Fields that fail validation keep their default value and are
// logged; malformed YAML is an error.
func LoadSettingsFile(path string, tf int) (vwap.Settings, []model.Instrument, error) {
	settings := vwap.DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, nil, fmt.Errorf("config: read settings file: %w", err)
	}
	var f SettingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return settings, nil, fmt.Errorf("config: parse settings file %s: %w", path, err)
	}

	spec := f.Settings.SettingsSpec
	for i, raw := range f.Settings.Multipliers {
		m, err := decimal.NewFromString(raw)
		if err != nil {
			return settings, nil, fmt.Errorf("config: multiplier %d: %w", i+1, err)
		}
		spec.Multipliers = append(spec.Multipliers, m)
	}
	if rejected := spec.Apply(&settings); rejected > 0 {
		slog.Warn("config: settings fields rejected", "file", path, "rejected", rejected, "settings", settings.String())
	}

	var insts []model.Instrument
	for _, fi := range f.Instruments {
		tick, err := decimal.NewFromString(fi.TickSize)
		if err != nil || !tick.IsPositive() {
			return settings, nil, fmt.Errorf("config: instrument %s:%s: invalid tick size %q", fi.Exchange, fi.Token, fi.TickSize)
		}
		insts = append(insts, model.Instrument{
			Exchange: fi.Exchange,
			Token:    fi.Token,
			TF:       tf,
			TickSize: tick,
		})
	}
	return settings, insts, nil
}
