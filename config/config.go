package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"vwap-engine/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	HTTPAddr      string

	// Consumer group on the bar streams
	ConsumerGroup string
	ConsumerName  string

	// Instruments, e.g. "NSE:3045:0.05,NSE:2885:0.05"
	Instruments string
	BarTF       int // seconds

	// Optional YAML file with engine settings and instruments
	SettingsFile string

	// Guards POST /settings when set
	AdminTOTPSecret string

	SnapshotInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads a .env file if present, then configuration from environment
// variables with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: .env not loaded", "error", err)
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9095"),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "vwapengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", hostname()),

		Instruments: getEnv("VWAP_INSTRUMENTS", "NSE:99926000:0.05"),
		BarTF:       getEnvInt("BAR_TF", 60),

		SettingsFile:    getEnv("VWAP_SETTINGS_FILE", ""),
		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),

		SnapshotInterval: getEnvDuration("SNAPSHOT_INTERVAL", time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// ParseInstruments parses the configured instrument list using BarTF.
func (c *Config) ParseInstruments() ([]model.Instrument, error) {
	return ParseInstruments(c.Instruments, c.BarTF)
}

// ParseInstruments parses "EXCHANGE:TOKEN:TICK" entries separated by commas.
// Duplicate instruments are an error.
func ParseInstruments(raw string, tf int) ([]model.Instrument, error) {
	if tf <= 0 {
		return nil, fmt.Errorf("config: invalid bar timeframe %d", tf)
	}
	var out []model.Instrument
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("config: instrument %q: want EXCHANGE:TOKEN:TICK", entry)
		}
		tick, err := decimal.NewFromString(parts[2])
		if err != nil || !tick.IsPositive() {
			return nil, fmt.Errorf("config: instrument %q: invalid tick size %q", entry, parts[2])
		}
		inst := model.Instrument{Exchange: parts[0], Token: parts[1], TF: tf, TickSize: tick}
		if seen[inst.Key()] {
			return nil, fmt.Errorf("config: duplicate instrument %s", inst.Key())
		}
		seen[inst.Key()] = true
		out = append(out, inst)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: no instruments configured")
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("config: invalid duration, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "vwapengine-1"
	}
	return h
}
