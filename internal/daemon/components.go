package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"novelverse/internal/config"
	"novelverse/internal/fallback"
	"novelverse/internal/jobs"
	"novelverse/internal/media/audiotags"
	"novelverse/internal/metrics"
	"novelverse/internal/objectstore"
	"novelverse/internal/objectstore/fsstore"
	"novelverse/internal/objectstore/s3store"
	"novelverse/internal/stream"
	"novelverse/internal/transcode"
)

// Components are the long-lived collaborators a daemon serves with.
type Components struct {
	Store      objectstore.Gateway
	Transcoder *transcode.Transcoder
	Tags       stream.TagReader
	Fallback   fallback.Source
	Ledger     *jobs.Store
	Metrics    *metrics.Metrics

	// CancelRemote stops a worker job left behind by a previous run. Nil
	// when the fallback source has no remote jobs.
	CancelRemote jobs.RemoteCanceler

	closers []io.Closer
}

// Close releases the ledger and any store handles.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// BuildComponents wires the object store, transcoder, fallback source and
// job ledger described by cfg.
func BuildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	c := &Components{Metrics: metrics.New()}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := store.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}
	c.Store = objectstore.Instrument(store, c.Metrics)

	pool := transcode.NewPool(cfg.Transcode.MaxConcurrent, cfg.Transcode.QueueTimeoutDuration(), c.Metrics)
	c.Transcoder = transcode.New(cfg.Transcode.FFmpegBinary, pool, logger, c.Metrics)
	c.Tags = audiotags.Extractor{FFprobeBinary: cfg.Transcode.FFprobeBinary}

	ledger, err := jobs.Open(cfg)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open job ledger: %w", err)
	}
	c.Ledger = ledger
	c.closers = append(c.closers, ledger)

	source, err := fallback.NewFromConfig(cfg,
		fallback.WithLogger(logger),
		fallback.WithMetrics(c.Metrics),
		fallback.WithLedger(ledger),
	)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Fallback = source
	if jq, ok := source.(*fallback.JobQueueClient); ok {
		c.CancelRemote = jq.Cancel
	}
	return c, nil
}

func openStore(ctx context.Context, cfg *config.Config) (objectstore.Gateway, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFS:
		store, err := fsstore.Open(cfg.Store.Dir)
		if err != nil {
			return nil, fmt.Errorf("open fs store: %w", err)
		}
		return store, nil
	case config.StoreBackendS3, "":
		store, err := s3store.New(ctx, s3store.Options{
			Bucket:         cfg.Store.Bucket,
			Region:         cfg.Store.Region,
			Endpoint:       cfg.Store.Endpoint,
			UsePathStyle:   cfg.Store.UsePathStyle,
			RequestTimeout: cfg.Store.RequestTimeoutDuration(),
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
