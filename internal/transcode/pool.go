package transcode

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"novelverse/internal/metrics"
	"novelverse/internal/services"
)

// Pool caps the number of concurrent ffmpeg processes.
type Pool struct {
	size         int64
	queueTimeout time.Duration
	sem          *semaphore.Weighted
	inUse        atomic.Int64
	rejected     atomic.Int64
	metrics      *metrics.Metrics
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Capacity int   `json:"capacity"`
	InUse    int   `json:"in_use"`
	Rejected int64 `json:"rejected"`
}

// NewPool builds a pool of size slots. Acquire waits up to queueTimeout for a
// slot; zero means fail immediately when the pool is full.
func NewPool(size int, queueTimeout time.Duration, m *metrics.Metrics) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size:         int64(size),
		queueTimeout: queueTimeout,
		sem:          semaphore.NewWeighted(int64(size)),
		metrics:      m,
	}
}

// Acquire reserves a slot. The returned release function is safe to call
// more than once. A full pool yields an error marked services.ErrBusy; a
// cancelled ctx yields ctx.Err().
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if p.queueTimeout <= 0 {
		if !p.sem.TryAcquire(1) {
			return nil, p.reject(ctx)
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, p.queueTimeout)
		err := p.sem.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, p.reject(ctx)
		}
	}

	p.metrics.SetTranscodesActive(int(p.inUse.Add(1)))
	var once sync.Once
	return func() {
		once.Do(func() {
			p.metrics.SetTranscodesActive(int(p.inUse.Add(-1)))
			p.sem.Release(1)
		})
	}, nil
}

func (p *Pool) reject(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.rejected.Add(1)
	p.metrics.RecordTranscodeRejected()
	return services.Wrap(services.ErrBusy, "transcode", "acquire slot", "all transcode slots busy", errors.New("pool exhausted"))
}

// Stats reports current usage.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Capacity: int(p.size),
		InUse:    int(p.inUse.Load()),
		Rejected: p.rejected.Load(),
	}
}
