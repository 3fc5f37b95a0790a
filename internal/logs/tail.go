package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 1024 * 1024

// DefaultPollInterval is how often Follow checks for new lines.
const DefaultPollInterval = 250 * time.Millisecond

// Last returns up to n trailing lines of path and the offset of the end of
// the file. A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	if n <= 0 {
		return nil, info.Size(), nil
	}

	ring := make([]string, 0, n)
	var offset int64
	err = scanLines(file, func(line string, next int64) error {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
		offset = next
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return ring, offset, nil
}

// Follow emits every complete line appended to path after offset until ctx
// is done. When the file shrinks or is replaced, reading restarts at the
// beginning of the new file. A partial trailing line is held back until its
// newline arrives.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, emit func(string) error) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var identity os.FileInfo
	for {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			if (identity != nil && !os.SameFile(identity, info)) || info.Size() < offset {
				offset = 0
			}
			identity = info
			next, err := readFrom(path, offset, emit)
			if err != nil {
				return err
			}
			offset = next
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("stat log file: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, emit func(string) error) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return offset, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	next := offset
	err = scanLines(file, func(line string, end int64) error {
		next = offset + end
		return emit(line)
	})
	return next, err
}

// scanLines calls fn for each newline-terminated line in r with the offset,
// relative to the start of r, just past its newline.
func scanLines(r io.Reader, fn func(line string, next int64) error) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadSlice('\n')
		switch {
		case err == nil:
			consumed += int64(len(line))
			if err := fn(trimEOL(line), consumed); err != nil {
				return err
			}
		case errors.Is(err, bufio.ErrBufferFull):
			rest, size, err := readLong(reader, line)
			if err != nil {
				return err
			}
			if rest == nil {
				return nil
			}
			consumed += size
			if err := fn(trimEOL(rest), consumed); err != nil {
				return err
			}
		case errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("read log file: %w", err)
		}
	}
}

// readLong finishes a line longer than the reader's buffer, keeping at most
// maxLineBytes of it, and reports the bytes consumed. It returns a nil line
// when the file ends before the newline.
func readLong(reader *bufio.Reader, head []byte) ([]byte, int64, error) {
	line := append([]byte(nil), head...)
	size := int64(len(head))
	for {
		chunk, err := reader.ReadSlice('\n')
		size += int64(len(chunk))
		if len(line)+len(chunk) <= maxLineBytes {
			line = append(line, chunk...)
		}
		switch {
		case err == nil:
			if line[len(line)-1] != '\n' {
				line = append(line, '\n')
			}
			return line, size, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return nil, 0, nil
		default:
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
	}
}

func trimEOL(line []byte) string {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return string(line[:n])
}
