package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"sceneforge/internal/api"
	"sceneforge/internal/config"
	"sceneforge/internal/events"
	"sceneforge/internal/jobs"
	"sceneforge/internal/logging"
	"sceneforge/internal/notifications"
	"sceneforge/internal/pipeline"
	"sceneforge/internal/provider"
	"sceneforge/internal/store"
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.Store
	bus      *events.Bus
	queue    *jobs.Queue
	orch     *pipeline.Orchestrator
	notifier notifications.Service
	server   *api.Server

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	cancel    context.CancelFunc
	forwardWG sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := events.NewBus(cfg.Events.SubscriberBuffer)
	notifier := notifications.NewService(cfg)

	prov := provider.NewRetrying(
		provider.NewHTTPProvider(cfg),
		cfg.Providers.RetryAttempts,
		time.Duration(cfg.Providers.RetryInitialDelayMS)*time.Millisecond,
	)

	queue := jobs.NewQueue(logger, prov, st, bus, cfg.Jobs.MaxConcurrent)
	orch := pipeline.NewOrchestrator(logger, st, queue, prov, bus, notifier)
	server := api.NewServer(cfg, logger, queue, orch, st, bus)

	lockPath := cfg.LockFilePath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    st,
		bus:      bus,
		queue:    queue,
		orch:     orch,
		notifier: notifier,
		server:   server,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and begins serving the control API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sceneforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.server.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}

	d.forwardWG.Add(1)
	go d.forwardJobNotifications(runCtx)

	d.running.Store(true)
	d.logger.Info("sceneforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()))
	return nil
}

// Stop shuts the services down in dependency order: API first so no new work
// arrives, then the orchestrator, then the queue, then the store.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.Stop()
	d.orch.Close()
	d.queue.Close()
	d.forwardWG.Wait()
	d.bus.Close()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("sceneforge daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the control API listen address, empty before Start.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Running reports whether the daemon has been started and not yet stopped.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// forwardJobNotifications turns terminal job events into push notifications.
// The bus is lossy under pressure, which is acceptable for these pings; the
// workflow notifications that matter go out directly from the orchestrator.
func (d *Daemon) forwardJobNotifications(ctx context.Context) {
	defer d.forwardWG.Done()

	ch, cancel := d.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if evt.Type != events.TypeJobCompleted {
				continue
			}
			job, ok := evt.Data.(*jobs.Job)
			if !ok {
				continue
			}
			succeeded := 0
			for _, item := range job.Items {
				if item.Succeeded() {
					succeeded++
				}
			}
			notifyCtx, cancelNotify := context.WithTimeout(context.Background(), 10*time.Second)
			if err := d.notifier.NotifyJobCompleted(notifyCtx, job.ScriptID, string(job.Type), succeeded, job.Progress.Total); err != nil {
				d.logger.Warn("job notification failed", logging.Error(err))
			}
			cancelNotify()
		}
	}
}
