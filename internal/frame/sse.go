package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxEventBytes = 16 << 20

// Encoder writes frames as server-sent events and flushes after each one.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps w. When w is an http.Flusher every event is flushed.
func NewEncoder(w io.Writer) *Encoder {
	flusher, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: flusher}
}

// Encode writes one "data: <json>\n\n" event.
func (e *Encoder) Encode(f Frame) error {
	payload, err := Marshal(f)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return e.write(buf)
}

// Comment writes an SSE comment line, used as a keep-alive.
func (e *Encoder) Comment(text string) error {
	return e.write([]byte(": " + text + "\n\n"))
}

func (e *Encoder) write(buf []byte) error {
	if _, err := e.w.Write(buf); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Decoder reads server-sent events and parses their data as frames.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder reads events from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// NextRecord returns the next event as a Record. Multi-line data fields are
// joined with newlines; comments and other fields are ignored. It returns
// io.EOF when the stream ends cleanly between events.
func (d *Decoder) NextRecord() (Record, error) {
	var data []byte
	hasData := false
	for {
		line, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && hasData {
				return ParseOutput(data)
			}
			return Record{}, err
		}
		if len(line) == 0 {
			if hasData {
				return ParseOutput(data)
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if hasData {
			data = append(data, '\n')
		}
		data = append(data, value...)
		hasData = true
		if len(data) > maxEventBytes {
			return Record{}, fmt.Errorf("%w: event exceeds %d bytes", ErrMalformedFrame, maxEventBytes)
		}
	}
}

// Next returns the next frame, skipping progress markers.
func (d *Decoder) Next() (Frame, error) {
	for {
		rec, err := d.NextRecord()
		if err != nil {
			return nil, err
		}
		if rec.Frame != nil {
			return rec.Frame, nil
		}
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxEventBytes {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedFrame, maxEventBytes)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			break
		}
		return nil, err
	}
	line = bytes.TrimRight(line, "\r\n")
	return line, nil
}
