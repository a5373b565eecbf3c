package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"crunch/internal/batch"
	"crunch/internal/config"
	"crunch/internal/encoder"
	"crunch/internal/events"
	"crunch/internal/history"
	"crunch/internal/logging"
	"crunch/internal/notifications"
	"crunch/internal/preset"
	"crunch/internal/telemetry"
)

const (
	defaultHubCapacity = 4096
	idleTimeout        = 30 * time.Second
)

// Options overrides collaborators built from config. Zero values use the
// production implementations.
type Options struct {
	Invoker   encoder.Invoker
	Telemetry telemetry.Source
	Notifier  notifications.Service
	// History is used as-is and not closed by the daemon. When nil and
	// history is enabled the daemon opens and owns its own store.
	History     *history.Store
	Catalog     *preset.Catalog
	LockPath    string
	HubCapacity int
}

// Daemon owns one orchestrator and everything that reacts to its batches.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	orch      *batch.Orchestrator
	hub       *events.Hub
	history   *history.Store
	ownsStore bool
	notifier  notifications.Service
	telemetry telemetry.Source
	catalog   *preset.Catalog
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running     atomic.Bool
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	consumerWG  sync.WaitGroup
	wg          sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	LockFilePath string         `json:"lock_path"`
	HistoryPath  string         `json:"history_path,omitempty"`
	LastSequence uint64         `json:"last_sequence"`
	Batch        batch.Snapshot `json:"batch"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		notifier:  opts.Notifier,
		telemetry: opts.Telemetry,
		catalog:   opts.Catalog,
		history:   opts.History,
		lockPath:  opts.LockPath,
	}
	if d.lockPath == "" {
		d.lockPath = cfg.LockPath()
	}
	d.lock = flock.New(d.lockPath)

	if d.catalog == nil {
		catalog, err := LoadCatalog(cfg)
		if err != nil {
			return nil, fmt.Errorf("load presets: %w", err)
		}
		d.catalog = catalog
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	if d.telemetry == nil && cfg.Admission.Adaptive {
		d.telemetry = telemetry.NewSampler(cfg.Admission.SeriousTempC, cfg.Admission.CriticalTempC)
	}
	if d.history == nil && cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		d.history = store
		d.ownsStore = true
	}

	capacity := opts.HubCapacity
	if capacity <= 0 {
		capacity = defaultHubCapacity
	}
	d.hub = events.NewHub(capacity)

	invoker := opts.Invoker
	if invoker == nil {
		invoker = NewInvoker(cfg, logger)
	}
	d.orch = batch.New(invoker, d.hub, logger, batch.WithPolicy(PolicyFromConfig(cfg)))

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		d.closeStore()
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock and launches the background loops.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another crunch instance holds %s", d.lockPath)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.pruneHistory(d.ctx)

	stream, unsubscribe := d.hub.Subscribe(256)
	d.unsubscribe = unsubscribe
	d.consumerWG.Add(1)
	go func() {
		defer d.consumerWG.Done()
		d.consume(d.ctx, stream)
	}()

	if d.telemetry != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			telemetry.Run(d.ctx, d.telemetry, d.cfg.TelemetryInterval(), d.logger, d.orch.UpdateTelemetry)
		}()
	}

	if err := d.api.start(d.ctx); err != nil {
		logging.WarnWithContext(d.logger, "status api unavailable", "api_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api.bind in config.toml"),
			logging.String(logging.FieldImpact, "HTTP status endpoint disabled; JSON-RPC still available"),
		)
	}

	d.running.Store(true)
	d.logger.Info("crunch daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("ceiling", d.cfg.Admission.MaxConcurrent),
		logging.Bool("adaptive", d.telemetry != nil),
	)
	return nil
}

// Stop tears down any batch, waits for encoder processes to exit and
// releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	_ = d.orch.Teardown()
	idleCtx, cancel := context.WithTimeout(context.Background(), idleTimeout)
	if err := d.orch.WaitIdle(idleCtx); err != nil {
		logging.WarnWithContext(d.logger, "encoders still running at shutdown", "shutdown_timeout",
			logging.Error(err),
			logging.String(logging.FieldImpact, "partial output files may remain beside their targets"),
		)
	}
	cancel()

	d.api.stop()
	// Closing the subscription lets the consumer drain what is buffered,
	// including the final batch event, before the context goes away.
	d.unsubscribe()
	d.consumerWG.Wait()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start fails"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("crunch daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.closeStore()
}

func (d *Daemon) closeStore() error {
	if d.ownsStore && d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// Orchestrator exposes the batch orchestrator for in-process callers.
func (d *Daemon) Orchestrator() *batch.Orchestrator { return d.orch }

// Hub exposes the event hub.
func (d *Daemon) Hub() *events.Hub { return d.hub }

// Config returns the configuration the daemon was built with.
func (d *Daemon) Config() *config.Config { return d.cfg }

// Catalog returns the loaded presets.
func (d *Daemon) Catalog() *preset.Catalog { return d.catalog }

// HistoryStore returns the history store or nil when history is disabled.
func (d *Daemon) HistoryStore() *history.Store { return d.history }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		HistoryPath:  d.history.Path(),
		LastSequence: d.hub.LastSequence(),
		Batch:        d.orch.Snapshot(),
	}
}

// Events long-polls the hub. See events.Hub.Fetch.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool) ([]events.Event, uint64, error) {
	return d.hub.Fetch(ctx, since, limit, wait)
}

// Cancel cancels the active batch.
func (d *Daemon) Cancel() error {
	return d.orch.Cancel()
}

// Teardown clears the current batch.
func (d *Daemon) Teardown() error {
	return d.orch.Teardown()
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	if d.history == nil {
		return
	}
	removed, err := d.history.PruneRetention(ctx, d.cfg.History.RetentionDays, time.Now())
	if err != nil {
		logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old batch history is kept"),
		)
		return
	}
	if removed > 0 {
		d.logger.Info("pruned batch history", logging.Int64("removed", removed))
	}
}
