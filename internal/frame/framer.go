package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultChunkBytes is roughly eight seconds of 128 kbit/s audio.
const DefaultChunkBytes = 128 * 1024

// ChunkBytesFor converts a time budget into a byte threshold at a constant bitrate.
func ChunkBytesFor(bitrateKbps int, seconds float64) int {
	if bitrateKbps <= 0 || seconds <= 0 {
		return DefaultChunkBytes
	}
	return int(math.Ceil(float64(bitrateKbps) * 1000 / 8 * seconds))
}

// Framer slices a byte stream into fixed-size chunk frames.
type Framer struct {
	ChunkBytes int
}

// Run reads r until EOF and emits one Chunk per ChunkBytes of input. At EOF it
// emits exactly one final Chunk holding the remainder (which may be empty) and
// then Complete. A read error from r is returned without emitting Complete.
// Chunk payloads are freshly allocated, so emit may retain them.
func (f Framer) Run(ctx context.Context, r io.Reader, emit func(Frame) error) error {
	size := f.ChunkBytes
	if size <= 0 {
		size = DefaultChunkBytes
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		switch {
		case err == nil:
			if emitErr := emit(Chunk{Audio: buf}); emitErr != nil {
				return emitErr
			}
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if emitErr := emit(Chunk{Audio: buf[:n:n]}); emitErr != nil {
				return emitErr
			}
			return emit(Complete{})
		default:
			return fmt.Errorf("read transcoded stream: %w", err)
		}
	}
}
