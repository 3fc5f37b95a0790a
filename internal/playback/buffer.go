package playback

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"
)

// ErrBufferFull reports a transient overflow. The engine retries the commit
// after its retry delay.
var ErrBufferFull = errors.New("media buffer full")

// MediaBuffer is the playable timeline chunks are committed to. Append may
// block; implementations must be safe for concurrent use because the engine
// commits from a background goroutine.
type MediaBuffer interface {
	Append(ctx context.Context, data []byte) error
	BufferedEnd() float64
	CurrentTime() float64
	SetCurrentTime(t float64)
	Play()
	Pause()
	SetRate(rate float64)
	SetVolume(volume float64)
	Duration() float64
}

// TimelineBuffer keeps appended audio in memory and advances the playback
// position with a clock while playing. Byte counts map to seconds at a fixed
// bitrate.
type TimelineBuffer struct {
	mu             sync.Mutex
	now            func() time.Time
	bytesPerSecond float64
	capacity       float64

	data     []byte
	position float64
	anchor   time.Time
	playing  bool
	rate     float64
	volume   float64
}

// TimelineOption customizes a TimelineBuffer.
type TimelineOption func(*TimelineBuffer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TimelineOption {
	return func(b *TimelineBuffer) {
		if now != nil {
			b.now = now
		}
	}
}

// WithCapacity limits how many seconds may be buffered ahead of the playback
// position. Appends beyond the limit fail with ErrBufferFull.
func WithCapacity(seconds float64) TimelineOption {
	return func(b *TimelineBuffer) {
		b.capacity = seconds
	}
}

// NewTimelineBuffer returns an empty buffer for audio at bitrateKbps.
func NewTimelineBuffer(bitrateKbps int, opts ...TimelineOption) *TimelineBuffer {
	if bitrateKbps <= 0 {
		bitrateKbps = 128
	}
	b := &TimelineBuffer{
		now:            time.Now,
		bytesPerSecond: float64(bitrateKbps) * 1000 / 8,
		rate:           1,
		volume:         1,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.anchor = b.now()
	return b
}

func (b *TimelineBuffer) Append(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacity > 0 {
		ahead := b.endLocked() - b.positionLocked()
		if ahead+float64(len(data))/b.bytesPerSecond > b.capacity {
			return ErrBufferFull
		}
	}
	b.settleLocked()
	b.data = append(b.data, data...)
	return nil
}

func (b *TimelineBuffer) BufferedEnd() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endLocked()
}

func (b *TimelineBuffer) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionLocked()
}

func (b *TimelineBuffer) SetCurrentTime(t float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = math.Max(0, t)
	b.anchor = b.now()
}

func (b *TimelineBuffer) Play() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked()
	b.playing = true
}

func (b *TimelineBuffer) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked()
	b.playing = false
}

func (b *TimelineBuffer) SetRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked()
	b.rate = rate
}

func (b *TimelineBuffer) SetVolume(volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = volume
}

// Duration is the length of the buffered timeline.
func (b *TimelineBuffer) Duration() float64 {
	return b.BufferedEnd()
}

// Playing reports whether the clock is advancing the position.
func (b *TimelineBuffer) Playing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

func (b *TimelineBuffer) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

func (b *TimelineBuffer) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

// Bytes returns a copy of everything appended so far.
func (b *TimelineBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *TimelineBuffer) endLocked() float64 {
	return float64(len(b.data)) / b.bytesPerSecond
}

// positionLocked stalls at the buffered end; a position already past the end
// (a seek into unbuffered audio) holds until data arrives.
func (b *TimelineBuffer) positionLocked() float64 {
	if !b.playing {
		return b.position
	}
	end := b.endLocked()
	if b.position >= end {
		return b.position
	}
	advanced := b.position + b.now().Sub(b.anchor).Seconds()*b.rate
	return math.Min(advanced, end)
}

func (b *TimelineBuffer) settleLocked() {
	b.position = b.positionLocked()
	b.anchor = b.now()
}

// WriterBuffer commits chunks to an io.Writer. Audio counts as played as soon
// as it is written, so an engine backed by it keeps requesting data until the
// stream ends.
type WriterBuffer struct {
	mu             sync.Mutex
	w              io.Writer
	bytesPerSecond float64
	written        int64
}

// NewWriterBuffer writes to w; bitrateKbps converts byte counts to seconds.
func NewWriterBuffer(w io.Writer, bitrateKbps int) *WriterBuffer {
	if bitrateKbps <= 0 {
		bitrateKbps = 128
	}
	return &WriterBuffer{w: w, bytesPerSecond: float64(bitrateKbps) * 1000 / 8}
}

func (b *WriterBuffer) Append(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.w.Write(data)
	b.written += int64(n)
	return err
}

func (b *WriterBuffer) BufferedEnd() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.written) / b.bytesPerSecond
}

func (b *WriterBuffer) CurrentTime() float64 { return b.BufferedEnd() }
func (b *WriterBuffer) Duration() float64    { return b.BufferedEnd() }
func (b *WriterBuffer) SetCurrentTime(float64) {}
func (b *WriterBuffer) Play()                  {}
func (b *WriterBuffer) Pause()                 {}
func (b *WriterBuffer) SetRate(float64)        {}
func (b *WriterBuffer) SetVolume(float64)      {}

// Written returns the number of bytes written.
func (b *WriterBuffer) Written() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}
