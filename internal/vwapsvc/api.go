package vwapsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pquerna/otp/totp"

	"vwap-engine/internal/model"
	redisstore "vwap-engine/internal/store/redis"
	"vwap-engine/internal/vwap"
)

// TOTPHeader carries the admin one-time code on POST /settings.
const TOTPHeader = "X-Admin-TOTP"

// SettingsUpdate changes the settings of one instrument, or of every
// instrument when Instrument is empty. Omitted fields keep their value.
type SettingsUpdate struct {
	Instrument string `json:"instrument,omitempty"` // "exchange:token"
	vwap.SettingsSpec
}

// SettingsResult reports the outcome of a SettingsUpdate for one instrument.
type SettingsResult struct {
	Instrument string            `json:"instrument"`
	Settings   vwap.SettingsSpec `json:"settings"`
	Rejected   int               `json:"rejected"`
	Changed    bool              `json:"changed"`
	Replayed   int               `json:"replayed"`
}

// ApplySettings applies u through the validated setters. Invalid fields
// are rejected and counted; valid ones still apply. An instrument whose
// settings change is recomputed from its first bar.
func (svc *Service) ApplySettings(ctx context.Context, u SettingsUpdate, source string) ([]SettingsResult, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	keys := svc.order
	if u.Instrument != "" {
		if _, err := svc.tracker(u.Instrument); err != nil {
			return nil, err
		}
		keys = []string{u.Instrument}
	}

	m := svc.deps.Metrics
	results := make([]SettingsResult, 0, len(keys))
	for _, key := range keys {
		tr := svc.trackers[key]
		if tr.engine == nil {
			continue
		}
		next := tr.engine.Settings()
		res := SettingsResult{Instrument: key, Rejected: u.SettingsSpec.Apply(&next)}

		if !next.Equal(tr.engine.Settings()) {
			res.Changed = true
			start := time.Now()
			n, err := tr.engine.ApplySettings(next)
			m.ReplayDur.Observe(time.Since(start).Seconds())
			m.ReplaysTotal.WithLabelValues("settings").Inc()
			m.SettingsApplied.WithLabelValues(source).Inc()
			res.Replayed = n
			svc.publish(ctx, tr, false)
			if err != nil {
				return results, fmt.Errorf("vwapsvc: recompute %s: %w", key, err)
			}
			slog.Info("settings applied", "component", "vwapsvc", "instrument", key,
				"source", source, "settings", next.String(), "replayed", n)
		}
		res.Settings = vwap.SpecOf(tr.engine.Settings())
		results = append(results, res)
	}
	return results, nil
}

// Handler returns the HTTP API: /healthz, /metrics, /ws, /bands and
// /settings.
func (svc *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", svc.deps.Health)
	mux.Handle("/metrics", svc.deps.Metrics.Handler())
	mux.Handle("/ws", svc.deps.Hub)
	mux.HandleFunc("/bands", svc.handleBands)
	mux.HandleFunc("/settings", svc.handleSettings)
	return mux
}

// handleBands serves GET /bands?key=EX:TOKEN&from=N. With source=store the
// sets are read from the band history instead of the engine.
func (svc *Service) handleBands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	key := q.Get("key")
	from := 0
	if v := q.Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = n
	}

	svc.mu.Lock()
	tr, err := svc.tracker(key)
	var sets []model.BandSet
	if err == nil && tr.engine != nil && q.Get("source") != "store" {
		sets = tr.engine.Outputs(from)
	}
	svc.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if q.Get("source") == "store" {
		if svc.deps.BandHistory == nil {
			http.Error(w, "band history not configured", http.StatusServiceUnavailable)
			return
		}
		sets, err = svc.deps.BandHistory.ReadBands(r.Context(), tr.inst.Exchange, tr.inst.Token, tr.inst.TF, from)
		if err != nil {
			svc.deps.Metrics.StoreErrors.WithLabelValues("sqlite", "read_bands").Inc()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if sets == nil {
		sets = []model.BandSet{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sets)
}

// handleSettings serves GET /settings (current settings per instrument)
// and POST /settings (a SettingsUpdate).
func (svc *Service) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		svc.mu.Lock()
		out := make(map[string]vwap.SettingsSpec, len(svc.order))
		for _, key := range svc.order {
			if tr := svc.trackers[key]; tr.engine != nil {
				out[key] = vwap.SpecOf(tr.engine.Settings())
			}
		}
		svc.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)

	case http.MethodPost:
		if secret := svc.opts.AdminTOTPSecret; secret != "" {
			if !totp.Validate(r.Header.Get(TOTPHeader), secret) {
				http.Error(w, "invalid one-time code", http.StatusUnauthorized)
				return
			}
		}
		var u SettingsUpdate
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		results, err := svc.ApplySettings(r.Context(), u, "api")
		if errors.Is(err, ErrUnknownInstrument) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)

	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

// startSettingsSubscriber listens on Redis Pub/Sub for settings updates.
func (svc *Service) startSettingsSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, redisstore.SettingsChannel)
		if pubsub == nil {
			slog.Warn("settings subscriber unavailable", "component", "vwapsvc", "channel", redisstore.SettingsChannel)
			return
		}
		defer pubsub.Close()
		slog.Info("subscribed to settings updates", "component", "vwapsvc", "channel", redisstore.SettingsChannel)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				svc.applySettingsMessage(ctx, msg.Payload)
			}
		}
	}()
}

func (svc *Service) applySettingsMessage(ctx context.Context, payload string) {
	var u SettingsUpdate
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		slog.Warn("settings update undecodable", "component", "vwapsvc", "error", err)
		return
	}
	results, err := svc.ApplySettings(ctx, u, "redis")
	if err != nil {
		slog.Error("settings update failed", "component", "vwapsvc", "error", err)
		return
	}
	for _, res := range results {
		if res.Rejected > 0 {
			slog.Warn("settings fields rejected", "component", "vwapsvc", "instrument", res.Instrument, "rejected", res.Rejected)
		}
	}
}
