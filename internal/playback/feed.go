package playback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"novelverse/internal/frame"
)

// FrameReader yields the frames of one stream.
type FrameReader interface {
	Next() (frame.Frame, error)
	Close() error
}

// Feed relays frames from r into e until a terminal frame, the end of the
// transport, or cancellation. After each chunk it waits for the engine to
// ask for more, so a full buffer applies backpressure to the transport. A
// stream that ends without a terminal frame is reported to the engine as
// truncated and returned as ErrStreamTruncated.
func Feed(ctx context.Context, r FrameReader, e *Engine) error {
	f := &feeder{engine: e}
	err := f.run(ctx, r)
	return f.settle(ctx, err)
}

// feeder forwards frames and remembers how many audio bytes it delivered so
// a reopened stream can resume without duplicating audio.
type feeder struct {
	engine    *Engine
	delivered int64
	sawInfo   bool
}

// run returns nil after Complete, a *StreamError for an error frame (not
// forwarded, so the caller may retry), or the transport error.
func (f *feeder) run(ctx context.Context, r FrameReader) error {
	var offset int64
	for {
		next, err := r.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrStreamTruncated
			}
			return fmt.Errorf("read stream: %w", err)
		}
		switch v := next.(type) {
		case frame.AudioInfo:
			if f.sawInfo {
				continue
			}
			f.sawInfo = true
			f.engine.HandleFrame(v)
		case frame.Chunk:
			start := offset
			offset += int64(len(v.Audio))
			if offset <= f.delivered && len(v.Audio) > 0 {
				continue
			}
			if start < f.delivered {
				v.Audio = v.Audio[f.delivered-start:]
			}
			f.delivered = offset
			f.engine.HandleFrame(v)
			if err := f.waitDemand(ctx); err != nil {
				return err
			}
		case frame.Complete:
			f.engine.HandleFrame(v)
			return nil
		case frame.Error:
			return &StreamError{Message: v.Message}
		}
	}
}

func (f *feeder) waitDemand(ctx context.Context) error {
	select {
	case <-f.engine.Demand():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.engine.Stopped():
		return ErrEngineClosed
	}
}

// settle reports a final failure to the engine.
func (f *feeder) settle(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil || errors.Is(err, ErrEngineClosed) {
		return err
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		f.engine.HandleFrame(frame.Error{Message: streamErr.Message})
		return err
	}
	f.engine.EndOfStream()
	return err
}
