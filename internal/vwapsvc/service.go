// Package vwapsvc runs one band engine per instrument: it restores engines
// from snapshots or bar history, feeds them live bars from Redis and fans
// their output out to Redis, SQLite and WebSocket renderers.
package vwapsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vwap-engine/internal/anchor"
	"vwap-engine/internal/gateway"
	"vwap-engine/internal/metrics"
	"vwap-engine/internal/model"
	redisstore "vwap-engine/internal/store/redis"
	sqlitestore "vwap-engine/internal/store/sqlite"
	"vwap-engine/internal/vwap"
)

// ErrUnknownInstrument is returned for an instrument key the service does
// not track.
var ErrUnknownInstrument = errors.New("unknown instrument")

// BandPublisher publishes band sets and line breaks to live consumers.
type BandPublisher interface {
	WriteBandBatch(ctx context.Context, sets []model.BandSet) error
	PublishLineBreak(ctx context.Context, lb model.LineBreak) error
}

// SnapshotTarget is a snapshot saver and the store name it reports under.
type SnapshotTarget struct {
	Name  string
	Saver model.SnapshotSaver
}

// Options configures the service.
type Options struct {
	Instruments      []model.Instrument
	Settings         vwap.Settings
	Calendar         anchor.Calendar
	SnapshotInterval time.Duration
	HTTPAddr         string
	AdminTOTPSecret  string // guards POST /settings when set
}

// Deps are the collaborators of the service. Every field except Metrics,
// Health and Hub may be nil; New fills those three with fresh instances.
type Deps struct {
	// History supplies bar history for cold starts.
	History model.BarReader

	// BarLog receives closed live bars to persist.
	BarLog chan<- model.Bar

	// Bands keeps the durable band history; BandHistory reads it back.
	Bands       model.BandWriter
	BandHistory model.BandHistory

	// Live publishes band sets and line breaks as they are computed.
	Live BandPublisher

	// Loaders are tried in order on startup.
	Savers  []SnapshotTarget
	Loaders []model.SnapshotLoader

	Hub     *gateway.Hub
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
}

// Service is the top-level orchestrator of the band engines.
type Service struct {
	opts Options
	deps Deps

	mu       sync.Mutex // guards every tracker and engine
	trackers map[string]*tracker
	order    []string

	closedCh  chan model.Bar
	formingCh chan model.Bar

	// set by Open
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	barLog      chan model.Bar
	barLogDone  chan struct{}
}

// New creates a service for opts.Instruments. Engines are built by Run.
func New(opts Options, deps Deps) (*Service, error) {
	if len(opts.Instruments) == 0 {
		return nil, fmt.Errorf("vwapsvc: no instruments")
	}
	if opts.Settings.Period() == 0 {
		opts.Settings = vwap.DefaultSettings()
	}
	if !opts.Settings.Valid() {
		return nil, fmt.Errorf("vwapsvc: %w", vwap.ErrInvalidSettings)
	}
	if opts.Calendar.Location == nil {
		opts.Calendar = anchor.DefaultCalendar()
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = time.Minute
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Health == nil {
		deps.Health = metrics.NewHealthStatus(false, false)
	}
	if deps.Hub == nil {
		deps.Hub = gateway.NewHub()
	}
	m := deps.Metrics
	deps.Hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }

	svc := &Service{
		opts:      opts,
		deps:      deps,
		trackers:  make(map[string]*tracker, len(opts.Instruments)),
		closedCh:  make(chan model.Bar, 5000),
		formingCh: make(chan model.Bar, 1000),
	}
	for _, inst := range opts.Instruments {
		if !inst.TickSize.IsPositive() {
			return nil, fmt.Errorf("vwapsvc: %s: %w", inst.Key(), vwap.ErrInvalidTickSize)
		}
		key := inst.Key()
		if _, dup := svc.trackers[key]; dup {
			return nil, fmt.Errorf("vwapsvc: duplicate instrument %s", key)
		}
		svc.trackers[key] = newTracker(inst, opts.Calendar)
		svc.order = append(svc.order, key)
	}
	deps.Health.SetInstruments(len(svc.order))
	return svc, nil
}

// Start restores every engine. Run calls it; tests call it directly.
func (svc *Service) Start(ctx context.Context) error {
	for _, key := range svc.order {
		if err := svc.restore(ctx, svc.trackers[key]); err != nil {
			return fmt.Errorf("vwapsvc: restore %s: %w", key, err)
		}
	}
	return nil
}

// Run restores all engines, starts the subsystems and blocks until ctx is
// cancelled.
func (svc *Service) Run(ctx context.Context) error {
	slog.Info("starting VWAP engine", "component", "vwapsvc",
		"instruments", len(svc.order), "settings", svc.opts.Settings.String())

	if err := svc.Start(ctx); err != nil {
		return err
	}

	if svc.sqlWriter != nil && svc.barLog != nil {
		svc.barLogDone = make(chan struct{})
		go func() {
			defer close(svc.barLogDone)
			svc.sqlWriter.Run(ctx, svc.barLog)
		}()
	}
	go svc.processLoop(ctx)
	if svc.redisReader != nil {
		svc.startConsumers(ctx)
		svc.startSettingsSubscriber(ctx)
	}
	svc.startLivenessChecker(ctx)
	go svc.snapshotLoop(ctx)
	srv := svc.startHTTP()

	slog.Info("all systems running", "component", "vwapsvc", "http", svc.opts.HTTPAddr)
	<-ctx.Done()

	svc.shutdown(srv)
	return nil
}

func (svc *Service) startLivenessChecker(ctx context.Context) {
	h := svc.deps.Health
	if svc.redisWriter != nil {
		h.CheckRedis(ctx, svc.redisWriter.Client())
	}
	if svc.sqlWriter != nil {
		h.CheckSQLite(ctx, svc.sqlWriter.DB())
	}
	switch {
	case svc.redisWriter != nil && svc.sqlWriter != nil:
		h.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.sqlWriter.DB(), 10*time.Second)
	case svc.redisWriter != nil:
		h.StartLivenessChecker(ctx, svc.redisWriter.Client(), nil, 10*time.Second)
	case svc.sqlWriter != nil:
		h.StartLivenessChecker(ctx, nil, svc.sqlWriter.DB(), 10*time.Second)
	}
}

func (svc *Service) startHTTP() *http.Server {
	srv := &http.Server{
		Addr:              svc.opts.HTTPAddr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "component", "vwapsvc", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", "vwapsvc", "error", err)
		}
	}()
	return srv
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown(srv *http.Server) {
	slog.Info("shutdown signal received, saving final snapshot", "component", "vwapsvc")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if srv != nil {
		srv.Shutdown(shutCtx)
	}
	svc.deps.Hub.Close()
	svc.saveSnapshots(shutCtx)

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		if svc.barLogDone != nil {
			select {
			case <-svc.barLogDone:
			case <-shutCtx.Done():
			}
		}
		svc.sqlWriter.Close()
	}
	if svc.redisWriter != nil {
		svc.redisWriter.Close()
	}
	if svc.redisReader != nil {
		svc.redisReader.Close()
	}
	slog.Info("shutdown complete", "component", "vwapsvc")
}

func (svc *Service) tracker(key string) (*tracker, error) {
	tr, ok := svc.trackers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, key)
	}
	return tr, nil
}
