package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"novelverse/internal/logging"
)

// SpeedPresets are the selectable playback rates.
var SpeedPresets = []float64{0.5, 0.75, 1, 1.25, 1.5, 1.75, 2, 2.5, 3}

// ErrNoChapter is returned when navigation leaves the book.
var ErrNoChapter = errors.New("no such chapter")

// Source opens the frame stream of a chapter.
type Source interface {
	OpenChapter(ctx context.Context, chapter int) (FrameReader, error)
}

// PlayerOptions configure a Player.
type PlayerOptions struct {
	Chapters      int
	Settings      Settings
	MaxReconnects int
	Logger        *slog.Logger

	// NewMedia builds the buffer for each opened chapter.
	NewMedia func() MediaBuffer
}

// Player plays one chapter at a time.
type Player struct {
	source        Source
	chapters      int
	settings      Settings
	maxReconnects int
	newMedia      func() MediaBuffer
	base          *slog.Logger
	logger        *slog.Logger

	mu      sync.Mutex
	chapter int
	engine  *Engine
	cancel  context.CancelFunc
	done    chan struct{}
	result  error
	rate    float64
	volume  float64
	muted   bool
}

// NewPlayer builds a player over source.
func NewPlayer(source Source, opts PlayerOptions) (*Player, error) {
	if source == nil {
		return nil, errors.New("player: source is required")
	}
	if opts.Chapters <= 0 {
		return nil, fmt.Errorf("player: chapter count must be positive, got %d", opts.Chapters)
	}
	newMedia := opts.NewMedia
	if newMedia == nil {
		newMedia = func() MediaBuffer { return NewTimelineBuffer(128) }
	}
	return &Player{
		source:        source,
		chapters:      opts.Chapters,
		settings:      opts.Settings.withDefaults(),
		maxReconnects: max(opts.MaxReconnects, 0),
		newMedia:      newMedia,
		base:          opts.Logger,
		logger:        logging.NewComponentLogger(opts.Logger, "player"),
		rate:          1,
		volume:        1,
	}, nil
}

// Open tears down the current chapter and starts streaming chapter into a
// fresh engine. The returned engine is already running.
func (p *Player) Open(ctx context.Context, chapter int) (*Engine, error) {
	if chapter < 1 || chapter > p.chapters {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoChapter, chapter, p.chapters)
	}
	p.teardown()

	runCtx, cancel := context.WithCancel(ctx)
	engine := NewEngine(p.newMedia(), p.settings, nil, p.base)
	done := make(chan struct{})

	p.mu.Lock()
	p.chapter = chapter
	p.engine = engine
	p.cancel = cancel
	p.done = done
	p.result = nil
	rate, volume, muted := p.rate, p.volume, p.muted
	p.mu.Unlock()

	go func() { _ = engine.Run(runCtx) }()
	_ = engine.SetRate(rate)
	engine.SetVolume(volume)
	if muted {
		engine.Mute(true)
	}

	go func() {
		defer close(done)
		err := p.stream(runCtx, chapter, engine)
		p.mu.Lock()
		if p.engine == engine {
			p.result = err
		}
		p.mu.Unlock()
	}()
	return engine, nil
}

// stream feeds chapter into engine, reopening the source after transport
// failures and error frames until the reconnect budget is spent.
func (p *Player) stream(ctx context.Context, chapter int, engine *Engine) error {
	f := &feeder{engine: engine}
	logger := p.logger.With(logging.Int("chapter", chapter))
	attempts := 0
	for {
		err := p.streamOnce(ctx, chapter, f)
		if err == nil || ctx.Err() != nil || errors.Is(err, ErrEngineClosed) {
			return f.settle(ctx, err)
		}
		if attempts >= p.maxReconnects || !retryable(err) {
			logging.WarnWithContext(logger, "chapter stream failed", "stream_failed",
				logging.Error(err),
				logging.Int("reconnects", attempts),
			)
			return f.settle(ctx, err)
		}
		attempts++
		logger.Info("reconnecting chapter stream",
			logging.Int("attempt", attempts),
			logging.Int64("resume_bytes", f.delivered),
			logging.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.settings.RetryDelay):
		}
	}
}

func (p *Player) streamOnce(ctx context.Context, chapter int, f *feeder) error {
	r, err := p.source.OpenChapter(ctx, chapter)
	if err != nil {
		return fmt.Errorf("open chapter %d: %w", chapter, err)
	}
	defer r.Close()
	return f.run(ctx, r)
}

// retryable reports whether reopening may help. Errors that expose
// Temporary() false, such as a 4xx response, are final.
func retryable(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// Wait blocks until the current chapter's stream has finished and returns
// its outcome.
func (p *Player) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Next opens the following chapter.
func (p *Player) Next(ctx context.Context) (*Engine, error) {
	return p.Open(ctx, p.Chapter()+1)
}

// Previous opens the preceding chapter.
func (p *Player) Previous(ctx context.Context) (*Engine, error) {
	return p.Open(ctx, p.Chapter()-1)
}

// HasNext reports whether a following chapter exists.
func (p *Player) HasNext() bool { return p.Chapter() < p.chapters }

// HasPrevious reports whether a preceding chapter exists.
func (p *Player) HasPrevious() bool { return p.Chapter() > 1 }

// Chapter returns the open chapter, zero before the first Open.
func (p *Player) Chapter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chapter
}

// Engine returns the engine of the open chapter.
func (p *Player) Engine() *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine
}

// SetSpeed applies a rate between the slowest and fastest preset. The rate
// carries over to later chapters.
func (p *Player) SetSpeed(rate float64) error {
	if rate < SpeedPresets[0] || rate > SpeedPresets[len(SpeedPresets)-1] {
		return fmt.Errorf("%w: %v outside %v-%v", ErrInvalidRate, rate, SpeedPresets[0], SpeedPresets[len(SpeedPresets)-1])
	}
	p.mu.Lock()
	p.rate = rate
	engine := p.engine
	p.mu.Unlock()
	if engine != nil {
		return engine.SetRate(rate)
	}
	return nil
}

// CycleSpeed moves to the next preset, wrapping to the slowest.
func (p *Player) CycleSpeed() float64 {
	p.mu.Lock()
	current := p.rate
	p.mu.Unlock()
	next := SpeedPresets[0]
	if i := slices.IndexFunc(SpeedPresets, func(r float64) bool { return r > current }); i >= 0 {
		next = SpeedPresets[i]
	}
	_ = p.SetSpeed(next)
	return next
}

// Speed returns the selected rate.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// SetVolume sets the volume for this and later chapters.
func (p *Player) SetVolume(volume float64) {
	p.mu.Lock()
	p.volume = volume
	engine := p.engine
	p.mu.Unlock()
	if engine != nil {
		engine.SetVolume(volume)
	}
}

// Mute toggles output for this and later chapters.
func (p *Player) Mute(muted bool) {
	p.mu.Lock()
	p.muted = muted
	engine := p.engine
	p.mu.Unlock()
	if engine != nil {
		engine.Mute(muted)
	}
}

// Close stops the current chapter.
func (p *Player) Close() {
	p.teardown()
}

func (p *Player) teardown() {
	p.mu.Lock()
	engine, cancel, done := p.engine, p.cancel, p.done
	p.engine, p.cancel = nil, nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if engine != nil {
		engine.Close()
		<-engine.Stopped()
	}
	if done != nil {
		<-done
	}
}
