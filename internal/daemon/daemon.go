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

	"novelverse/internal/api"
	"novelverse/internal/config"
	"novelverse/internal/deps"
	"novelverse/internal/logging"
	"novelverse/internal/stream"
	"novelverse/internal/transcode"
)

// Daemon owns the HTTP surface and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	comps   *Components
	service *stream.Service
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	started atomic.Int64
}

// New constructs a daemon around already built components.
func New(cfg *config.Config, logger *slog.Logger, comps *Components) (*Daemon, error) {
	if cfg == nil || comps == nil {
		return nil, errors.New("daemon requires config and components")
	}
	service, err := stream.NewService(stream.Options{
		Store:      comps.Store,
		Transcoder: comps.Transcoder,
		Tags:       comps.Tags,
		Fallback:   comps.Fallback,
		Profile:    transcode.ProfileFromConfig(cfg.Transcode),
		ChunkBytes: cfg.Stream.ChunkBytes,
		HeadBytes:  int64(cfg.Stream.HeadBytes),
		Extension:  cfg.Store.Extension,
		Logger:     logger,
		Metrics:    comps.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build stream service: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comps:    comps,
		service:  service,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the lock, settles jobs orphaned by a previous run, and
// begins serving.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another novelverse daemon instance is already running")
	}

	d.settleLedger(ctx)

	if err := d.api.start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.started.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("novelverse daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.addr()),
		logging.String("fallback_mode", d.cfg.Fallback.Mode),
	)
	return nil
}

// settleLedger cancels jobs a crashed run left queued or running and prunes
// terminal rows past the retention window.
func (d *Daemon) settleLedger(ctx context.Context) {
	ledger := d.comps.Ledger
	if ledger == nil {
		return
	}
	count, errs := ledger.CancelOrphans(ctx, d.comps.CancelRemote)
	for _, err := range errs {
		logging.WarnWithContext(d.logger, "orphaned job cleanup incomplete", "orphan_cancel_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check fallback worker reachability"),
			logging.String(logging.FieldImpact, "a remote job may keep running until the worker times it out"),
		)
	}
	if count > 0 {
		d.logger.Info("orphaned jobs cancelled",
			logging.Int("count", count),
			logging.String(logging.FieldEventType, "orphans_cancelled"),
		)
	}

	if days := d.cfg.Logging.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		if pruned, err := ledger.Prune(ctx, cutoff); err != nil {
			logging.WarnWithContext(d.logger, "job ledger prune failed", "ledger_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old job rows remain in the ledger"),
			)
		} else if pruned > 0 {
			d.logger.Info("job ledger pruned", logging.Int64("rows", pruned))
		}
	}
}

// Stop stops serving and releases the lock. In-flight streams get the
// configured shutdown timeout to finish.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("novelverse daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases its components.
func (d *Daemon) Close() error {
	d.Stop()
	return d.comps.Close()
}

// Addr returns the bound listener address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StoreBackend: d.cfg.Store.Backend,
		FallbackMode: d.cfg.Fallback.Mode,
		JobsDBPath:   d.cfg.JobsDBPath(),
		LockFilePath: d.lockPath,
		JobStats:     map[string]int{},
		Dependencies: api.FromDependencies(deps.Check(ctx, deps.Requirements(d.cfg))),
	}
	if status.Running {
		started := time.Unix(0, d.started.Load())
		status.StartedAt = started.UTC().Format(time.RFC3339)
		status.UptimeSeconds = time.Since(started).Seconds()
	}
	if d.comps.Transcoder != nil {
		status.Transcode = api.FromPoolStats(d.comps.Transcoder.Pool().Stats())
	}
	if d.comps.Ledger != nil {
		stats, err := d.comps.Ledger.Stats(ctx)
		if err != nil {
			d.logger.Debug("job stats unavailable", logging.Error(err))
		} else {
			status.JobStats = api.FromJobStats(stats)
		}
	}
	return status
}
