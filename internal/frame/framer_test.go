package frame_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"novelverse/internal/frame"
)

func collect(t *testing.T, f frame.Framer, input io.Reader) ([]frame.Frame, error) {
	t.Helper()
	var frames []frame.Frame
	err := f.Run(context.Background(), input, func(fr frame.Frame) error {
		frames = append(frames, fr)
		return nil
	})
	return frames, err
}

func TestFramerReconstructsStream(t *testing.T) {
	input := bytes.Repeat([]byte("0123456789"), 1000)
	cases := []struct {
		name       string
		chunkBytes int
		wantChunks int
	}{
		{"exact multiple", 1000, 11},
		{"remainder", 3000, 4},
		{"larger than input", 20000, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frames, err := collect(t, frame.Framer{ChunkBytes: tc.chunkBytes}, iotest.HalfReader(bytes.NewReader(input)))
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if len(frames) != tc.wantChunks+1 {
				t.Fatalf("expected %d frames, got %d", tc.wantChunks+1, len(frames))
			}
			if _, ok := frames[len(frames)-1].(frame.Complete); !ok {
				t.Fatalf("expected last frame to be complete, got %T", frames[len(frames)-1])
			}
			var rebuilt []byte
			for i, fr := range frames[:len(frames)-1] {
				chunk, ok := fr.(frame.Chunk)
				if !ok {
					t.Fatalf("frame %d: expected chunk, got %T", i, fr)
				}
				if i < len(frames)-2 && len(chunk.Audio) != tc.chunkBytes {
					t.Fatalf("frame %d: expected %d bytes, got %d", i, tc.chunkBytes, len(chunk.Audio))
				}
				rebuilt = append(rebuilt, chunk.Audio...)
			}
			if !bytes.Equal(rebuilt, input) {
				t.Fatal("concatenated chunks do not reproduce the input")
			}
		})
	}
}

func TestFramerEmptyInputStillFlushes(t *testing.T) {
	frames, err := collect(t, frame.Framer{ChunkBytes: 16}, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected flush chunk and complete, got %d frames", len(frames))
	}
	chunk, ok := frames[0].(frame.Chunk)
	if !ok || len(chunk.Audio) != 0 {
		t.Fatalf("expected empty flush chunk, got %#v", frames[0])
	}
	if _, ok := frames[1].(frame.Complete); !ok {
		t.Fatalf("expected complete, got %T", frames[1])
	}
}

func TestFramerReadErrorSkipsComplete(t *testing.T) {
	boom := errors.New("ffmpeg died")
	r := io.MultiReader(bytes.NewReader(make([]byte, 40)), iotest.ErrReader(boom))
	frames, err := collect(t, frame.Framer{ChunkBytes: 16}, r)
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	for _, fr := range frames {
		if frame.IsTerminal(fr) {
			t.Fatalf("unexpected terminal frame %T after read error", fr)
		}
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 full chunks before the error, got %d", len(frames))
	}
}

func TestFramerStopsOnEmitError(t *testing.T) {
	stop := errors.New("client gone")
	calls := 0
	err := frame.Framer{ChunkBytes: 4}.Run(context.Background(), bytes.NewReader(make([]byte, 64)), func(frame.Frame) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected emit error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected framing to stop after failing emit, got %d calls", calls)
	}
}

func TestFramerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := frame.Framer{ChunkBytes: 4}.Run(ctx, bytes.NewReader(make([]byte, 64)), func(frame.Frame) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChunkBytesFor(t *testing.T) {
	if got := frame.ChunkBytesFor(128, 8); got != 128000 {
		t.Fatalf("expected 128000 bytes for 8s at 128kbps, got %d", got)
	}
	if got := frame.ChunkBytesFor(0, 8); got != frame.DefaultChunkBytes {
		t.Fatalf("expected default for invalid bitrate, got %d", got)
	}
}
