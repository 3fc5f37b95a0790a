package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"novelverse/internal/config"
	"novelverse/internal/frame"
	"novelverse/internal/logging"
)

var (
	// ErrStreamTruncated is recorded when a stream ends without a complete or
	// error frame.
	ErrStreamTruncated = errors.New("stream ended without a terminal frame")
	// ErrInvalidRate rejects non-positive or out-of-range playback rates.
	ErrInvalidRate = errors.New("invalid playback rate")
	// ErrEngineClosed is returned when feeding an engine that has stopped.
	ErrEngineClosed = errors.New("playback engine closed")
)

// StreamError carries the message of an error frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// Settings tune buffering and transport.
type Settings struct {
	LowWater     float64
	Target       float64
	MaxQueued    int
	Skip         float64
	PollInterval time.Duration
	RetryDelay   time.Duration
}

// DefaultSettings returns the stock thresholds.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default().Playback)
}

// SettingsFromConfig maps the [playback] section.
func SettingsFromConfig(cfg config.Playback) Settings {
	return Settings{
		LowWater:     cfg.LowWaterSeconds,
		Target:       cfg.TargetSeconds,
		MaxQueued:    cfg.MaxQueuedChunks,
		Skip:         cfg.SkipSeconds,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		RetryDelay:   time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	}
}

func (s Settings) withDefaults() Settings {
	d := SettingsFromConfig(config.Default().Playback)
	if s.LowWater <= 0 {
		s.LowWater = d.LowWater
	}
	if s.Target <= 0 {
		s.Target = d.Target
	}
	if s.MaxQueued <= 0 {
		s.MaxQueued = d.MaxQueued
	}
	if s.Skip <= 0 {
		s.Skip = d.Skip
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = d.RetryDelay
	}
	return s
}

// Requester is told whenever the engine wants more data. It runs on the
// engine loop and must not block.
type Requester func()

// Info is the chapter metadata from the audio-info frame.
type Info struct {
	Duration float64
	WPM      *float64
	Text     string
}

// Status is a point-in-time snapshot of an engine.
type Status struct {
	Info           Info
	CurrentTime    float64
	BufferedEnd    float64
	BufferedAhead  float64
	Duration       float64
	Queued         int
	Committing     bool
	Outstanding    bool
	Requests       int
	ChunksQueued   int
	BytesReceived  int64
	BytesCommitted int64
	Playing        bool
	Rate           float64
	Volume         float64
	Muted          bool
	Ended          bool
	Err            error
}

// Engine buffers one chapter. Create it with NewEngine and start its loop with
// Run; every other method is safe to call from any goroutine.
type Engine struct {
	settings  Settings
	media     MediaBuffer
	requester Requester
	logger    *slog.Logger

	cmds     chan func()
	demand   chan struct{}
	closing  chan struct{}
	stopped  chan struct{}
	finished chan struct{}
	started  atomic.Bool
	once     sync.Once
	final    Status

	// Owned by the loop goroutine.
	ctx          context.Context
	queue        [][]byte
	committing   bool
	outstanding  bool
	requests     int
	chunks       int
	received     int64
	committed    int64
	info         Info
	ended        bool
	err          error
	playing      bool
	rate         float64
	volume       float64
	muted        bool
	retry        *time.Timer
	finishedDone bool
}

// NewEngine builds an engine committing to media. requester may be nil; the
// Demand channel is signalled either way.
func NewEngine(media MediaBuffer, settings Settings, requester Requester, logger *slog.Logger) *Engine {
	return &Engine{
		settings:  settings.withDefaults(),
		media:     media,
		requester: requester,
		logger:    logging.NewComponentLogger(logger, "playback"),
		cmds:      make(chan func(), 64),
		demand:    make(chan struct{}, 1),
		closing:   make(chan struct{}),
		stopped:   make(chan struct{}),
		finished:  make(chan struct{}),
		rate:      1,
		volume:    1,
	}
}

// Run executes the event loop until ctx is cancelled or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("playback engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.ctx = ctx
	defer func() {
		cancel()
		if e.retry != nil {
			e.retry.Stop()
		}
		e.final = e.snapshot()
		close(e.stopped)
	}()

	ticker := time.NewTicker(e.settings.PollInterval)
	defer ticker.Stop()

	e.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.closing:
			return nil
		case fn := <-e.cmds:
			fn()
		case <-ticker.C:
			e.poll()
		}
	}
}

// Close stops the loop. In-flight commits are cancelled.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.closing) })
}

// Stopped is closed once the loop has exited.
func (e *Engine) Stopped() <-chan struct{} { return e.stopped }

// Done is closed when the stream has ended and every queued chunk has been
// committed, or when the engine failed.
func (e *Engine) Done() <-chan struct{} { return e.finished }

// Demand receives a token each time the engine requests more data.
func (e *Engine) Demand() <-chan struct{} { return e.demand }

// HandleFrame applies one frame from the stream.
func (e *Engine) HandleFrame(f frame.Frame) {
	e.post(func() { e.handleFrame(f) })
}

// EndOfStream marks the transport closed. Without a prior terminal frame
// the engine records ErrStreamTruncated.
func (e *Engine) EndOfStream() {
	e.post(func() {
		if !e.ended {
			e.logger.Warn("stream ended without terminal frame",
				logging.String(logging.FieldEventType, "stream_truncated"),
				logging.Int("chunks", e.chunks),
			)
			e.end(ErrStreamTruncated)
		}
	})
}

// Enqueue appends raw audio to the commit queue.
func (e *Engine) Enqueue(chunk []byte) {
	e.HandleFrame(frame.Chunk{Audio: chunk})
}

// Poll re-evaluates the request throttle. Repeated calls without new data
// are no-ops.
func (e *Engine) Poll() {
	e.post(e.poll)
}

func (e *Engine) Play() {
	e.post(func() {
		e.playing = true
		e.media.Play()
	})
}

func (e *Engine) Pause() {
	e.post(func() {
		e.playing = false
		e.media.Pause()
	})
}

// Seek moves the playback position, clamped to [0, duration]. Positions that
// are already buffered never trigger a request.
func (e *Engine) Seek(t float64) {
	e.post(func() { e.seek(t) })
}

// SkipForward moves the position forward by the skip offset.
func (e *Engine) SkipForward() {
	e.post(func() { e.seek(e.media.CurrentTime() + e.settings.Skip) })
}

// SkipBack moves the position back by the skip offset.
func (e *Engine) SkipBack() {
	e.post(func() { e.seek(e.media.CurrentTime() - e.settings.Skip) })
}

// SetRate changes playback speed without resampling.
func (e *Engine) SetRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	e.post(func() {
		e.rate = rate
		e.media.SetRate(rate)
	})
	return nil
}

// SetVolume sets the volume in [0, 1]. A muted engine remembers the value.
func (e *Engine) SetVolume(volume float64) {
	volume = math.Max(0, math.Min(1, volume))
	e.post(func() {
		e.volume = volume
		if !e.muted {
			e.media.SetVolume(volume)
		}
	})
}

// Mute silences or restores output.
func (e *Engine) Mute(muted bool) {
	e.post(func() {
		e.muted = muted
		if muted {
			e.media.SetVolume(0)
			return
		}
		e.media.SetVolume(e.volume)
	})
}

// Status returns a snapshot. After the loop stops it returns the final state.
func (e *Engine) Status() Status {
	var st Status
	if e.call(func() { st = e.snapshot() }) {
		return st
	}
	<-e.stopped
	return e.final
}

func (e *Engine) post(fn func()) bool {
	select {
	case <-e.stopped:
		return false
	default:
	}
	select {
	case e.cmds <- fn:
		return true
	case <-e.stopped:
		return false
	}
}

func (e *Engine) call(fn func()) bool {
	done := make(chan struct{})
	if !e.post(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-e.stopped:
		return false
	}
}

func (e *Engine) handleFrame(f frame.Frame) {
	if e.ended {
		e.logger.Debug("frame after end of stream ignored", logging.String("kind", string(f.Kind())))
		return
	}
	switch v := f.(type) {
	case frame.AudioInfo:
		e.info = Info{Duration: v.Duration, WPM: v.WPM, Text: v.Text}
	case frame.Chunk:
		e.outstanding = false
		if len(v.Audio) == 0 {
			e.checkFinished()
			return
		}
		e.queue = append(e.queue, v.Audio)
		e.chunks++
		e.received += int64(len(v.Audio))
		e.tryCommit()
	case frame.Complete:
		e.end(nil)
	case frame.Error:
		e.logger.Warn("stream reported error",
			logging.String(logging.FieldEventType, "stream_error_frame"),
			logging.String("message", v.Message),
		)
		e.end(&StreamError{Message: v.Message})
	}
}

func (e *Engine) end(err error) {
	e.ended = true
	e.err = err
	e.checkFinished()
}

func (e *Engine) tryCommit() {
	if e.committing || len(e.queue) == 0 {
		return
	}
	chunk := e.queue[0]
	e.queue = e.queue[1:]
	e.committing = true
	ctx := e.ctx
	go func() {
		err := e.media.Append(ctx, chunk)
		e.post(func() { e.commitDone(chunk, err) })
	}()
}

func (e *Engine) commitDone(chunk []byte, err error) {
	e.committing = false
	switch {
	case err == nil:
		e.committed += int64(len(chunk))
		e.maybeRequest("commit")
		e.tryCommit()
	case errors.Is(err, ErrBufferFull):
		e.queue = append([][]byte{chunk}, e.queue...)
		e.logger.Debug("media buffer full; retrying commit",
			logging.Duration("retry_delay", e.settings.RetryDelay),
			logging.Int("queued", len(e.queue)),
		)
		e.retry = time.AfterFunc(e.settings.RetryDelay, func() { e.post(e.tryCommit) })
	default:
		if e.ctx.Err() != nil {
			return
		}
		logging.ErrorWithContext(e.logger, "commit chunk failed", "commit_failed",
			logging.Error(err),
			logging.Int("queued", len(e.queue)),
			logging.String(logging.FieldErrorHint, "media buffer rejected audio"),
		)
		e.queue = nil
		e.ended = true
		e.err = fmt.Errorf("commit chunk: %w", err)
	}
	e.checkFinished()
}

func (e *Engine) poll() {
	if e.committing {
		return
	}
	e.maybeRequest("poll")
}

func (e *Engine) seek(t float64) {
	t = math.Max(0, t)
	if d := e.duration(); d > 0 {
		t = math.Min(t, d)
	}
	e.media.SetCurrentTime(t)
	if t <= e.media.BufferedEnd() {
		return
	}
	e.maybeRequest("seek")
}

// wantsMore is the request throttle: below the low-water mark always, below
// the target only while the queue is short.
func (e *Engine) wantsMore() bool {
	ahead := e.media.BufferedEnd() - e.media.CurrentTime()
	return ahead < e.settings.LowWater ||
		(ahead < e.settings.Target && len(e.queue) < e.settings.MaxQueued)
}

func (e *Engine) maybeRequest(trigger string) {
	if e.ended || e.outstanding || !e.wantsMore() {
		return
	}
	e.outstanding = true
	e.requests++
	e.logger.Debug("requesting more data",
		logging.String("trigger", trigger),
		logging.Float64("buffered_ahead", e.media.BufferedEnd()-e.media.CurrentTime()),
		logging.Int("queued", len(e.queue)),
	)
	select {
	case e.demand <- struct{}{}:
	default:
	}
	if e.requester != nil {
		e.requester()
	}
}

// checkFinished closes Done once the stream has ended and nothing is left to
// commit. Chunks received before an error frame are still committed.
func (e *Engine) checkFinished() {
	if e.finishedDone || !e.ended || e.committing || len(e.queue) > 0 {
		return
	}
	e.finishedDone = true
	close(e.finished)
}

func (e *Engine) duration() float64 {
	if e.info.Duration > 0 {
		return e.info.Duration
	}
	return e.media.Duration()
}

func (e *Engine) snapshot() Status {
	current := e.media.CurrentTime()
	end := e.media.BufferedEnd()
	return Status{
		Info:           e.info,
		CurrentTime:    current,
		BufferedEnd:    end,
		BufferedAhead:  end - current,
		Duration:       e.duration(),
		Queued:         len(e.queue),
		Committing:     e.committing,
		Outstanding:    e.outstanding,
		Requests:       e.requests,
		ChunksQueued:   e.chunks,
		BytesReceived:  e.received,
		BytesCommitted: e.committed,
		Playing:        e.playing,
		Rate:           e.rate,
		Volume:         e.volume,
		Muted:          e.muted,
		Ended:          e.ended,
		Err:            e.err,
	}
}
