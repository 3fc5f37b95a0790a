package frame

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"novelverse/internal/services"
)

// Kind is the wire status of a frame.
type Kind string

const (
	KindAudioInfo Kind = "audio-info"
	KindChunk     Kind = "chunk"
	KindComplete  Kind = "complete"
	KindError     Kind = "error"

	// KindStarted is the worker progress marker. It never reaches clients.
	KindStarted Kind = "started"
)

// ErrMalformedFrame is returned for payloads that are not one of the known variants.
var ErrMalformedFrame = services.ErrMalformedFrame

// Frame is one of AudioInfo, Chunk, Complete, or Error.
type Frame interface {
	Kind() Kind
	isFrame()
}

// AudioInfo describes the chapter before any audio arrives.
type AudioInfo struct {
	Duration float64
	WPM      *float64
	Text     string
}

// Chunk carries one slice of the encoded audio stream.
type Chunk struct {
	Audio []byte
}

// Complete marks successful end of stream.
type Complete struct{}

// Error marks failed end of stream.
type Error struct {
	Message string
}

func (AudioInfo) Kind() Kind { return KindAudioInfo }
func (Chunk) Kind() Kind     { return KindChunk }
func (Complete) Kind() Kind  { return KindComplete }
func (Error) Kind() Kind     { return KindError }

func (AudioInfo) isFrame() {}
func (Chunk) isFrame()     {}
func (Complete) isFrame()  {}
func (Error) isFrame()     {}

// IsTerminal reports whether f ends a stream.
func IsTerminal(f Frame) bool {
	switch f.(type) {
	case Complete, Error, *Complete, *Error:
		return true
	default:
		return false
	}
}

// Started is the worker's progress marker. It only proves liveness.
type Started struct {
	Chapter string
}

// Record is one parsed worker output: either a frame or a started marker.
type Record struct {
	Frame   Frame
	Started *Started
}

type audioInfoWire struct {
	Status   Kind     `json:"status"`
	Duration float64  `json:"duration"`
	WPM      *float64 `json:"WPM"`
	Text     string   `json:"text"`
}

type chunkWire struct {
	Status     Kind   `json:"status"`
	AudioBytes []byte `json:"audio_bytes"`
}

type statusWire struct {
	Status Kind `json:"status"`
}

type errorWire struct {
	Status  Kind   `json:"status"`
	Message string `json:"message"`
}

// Marshal encodes f as a single-line JSON payload.
func Marshal(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case AudioInfo:
		return json.Marshal(audioInfoWire{Status: KindAudioInfo, Duration: v.Duration, WPM: v.WPM, Text: v.Text})
	case Chunk:
		audio := v.Audio
		if audio == nil {
			audio = []byte{}
		}
		return json.Marshal(chunkWire{Status: KindChunk, AudioBytes: audio})
	case Complete:
		return json.Marshal(statusWire{Status: KindComplete})
	case Error:
		return json.Marshal(errorWire{Status: KindError, Message: v.Message})
	case nil:
		return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: unsupported frame type %T", ErrMalformedFrame, f)
	}
}

type inboundWire struct {
	Status     string          `json:"status"`
	Duration   json.RawMessage `json:"duration"`
	WPMUpper   json.RawMessage `json:"WPM"`
	WPMLower   json.RawMessage `json:"wpm"`
	Text       *string         `json:"text"`
	AudioBytes *string         `json:"audio_bytes"`
	Message    *string         `json:"message"`
	Chapter    json.RawMessage `json:"chapter"`
}

// Parse decodes one frame payload. Started markers are rejected because they
// are not frames; use ParseOutput for worker output.
func Parse(data []byte) (Frame, error) {
	rec, err := ParseOutput(data)
	if err != nil {
		return nil, err
	}
	if rec.Frame == nil {
		return nil, fmt.Errorf("%w: progress marker is not a frame", ErrMalformedFrame)
	}
	return rec.Frame, nil
}

// ParseOutput decodes one worker output record. The payload may carry an SSE
// "data:" prefix, be a JSON string wrapping the frame, and have trailing
// whitespace.
func ParseOutput(data []byte) (Record, error) {
	payload := bytes.TrimSpace(data)
	payload = bytes.TrimSpace(bytes.TrimPrefix(payload, []byte("data:")))
	if len(payload) == 0 {
		return Record{}, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return ParseOutput([]byte(inner))
	}

	var wire inboundWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch Kind(strings.ToLower(strings.TrimSpace(wire.Status))) {
	case KindStarted:
		return Record{Started: &Started{Chapter: rawScalar(wire.Chapter)}}, nil
	case KindAudioInfo:
		info, err := wire.audioInfo()
		if err != nil {
			return Record{}, err
		}
		return Record{Frame: info}, nil
	case KindChunk:
		if wire.AudioBytes == nil {
			return Record{}, fmt.Errorf("%w: chunk without audio_bytes", ErrMalformedFrame)
		}
		audio, err := base64.StdEncoding.DecodeString(*wire.AudioBytes)
		if err != nil {
			return Record{}, fmt.Errorf("%w: chunk audio_bytes: %v", ErrMalformedFrame, err)
		}
		return Record{Frame: Chunk{Audio: audio}}, nil
	case KindComplete:
		return Record{Frame: Complete{}}, nil
	case KindError:
		msg := ""
		if wire.Message != nil {
			msg = strings.TrimSpace(*wire.Message)
		}
		if msg == "" {
			msg = "upstream reported an error"
		}
		return Record{Frame: Error{Message: msg}}, nil
	case "":
		return Record{}, fmt.Errorf("%w: missing status", ErrMalformedFrame)
	default:
		return Record{}, fmt.Errorf("%w: unknown status %q", ErrMalformedFrame, wire.Status)
	}
}

func (w inboundWire) audioInfo() (AudioInfo, error) {
	var info AudioInfo
	if w.Text != nil {
		info.Text = *w.Text
	}
	duration, ok, err := rawNumber(w.Duration)
	if err != nil {
		return AudioInfo{}, fmt.Errorf("%w: audio-info duration: %v", ErrMalformedFrame, err)
	}
	if ok {
		if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
			return AudioInfo{}, fmt.Errorf("%w: audio-info duration %v out of range", ErrMalformedFrame, duration)
		}
		info.Duration = duration
	}
	raw := w.WPMUpper
	if len(raw) == 0 {
		raw = w.WPMLower
	}
	wpm, ok, err := rawNumber(raw)
	if err != nil {
		return AudioInfo{}, fmt.Errorf("%w: audio-info WPM: %v", ErrMalformedFrame, err)
	}
	if ok {
		info.WPM = &wpm
	}
	return info, nil
}

// rawNumber accepts a JSON number, a numeric string, or null.
func rawNumber(raw json.RawMessage) (float64, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, false, nil
	}
	var number json.Number
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
		number = json.Number(s)
	} else if err := json.Unmarshal(trimmed, &number); err != nil {
		return 0, false, err
	}
	value, err := number.Float64()
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func rawScalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}
