package audiotags

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"novelverse/internal/frame"
	"novelverse/internal/media/ffprobe"
)

// Tag names written by the generation worker.
const (
	TagDuration = "DURATION"
	TagLyrics   = "LYRICS"
	TagWPM      = "WPM"
)

// Tags holds the chapter metadata embedded in cached audio.
type Tags struct {
	Duration float64
	Lyrics   string
	WPM      *float64
}

// AudioInfo converts the tags into the frame sent ahead of the audio.
func (t Tags) AudioInfo() frame.AudioInfo {
	return frame.AudioInfo{Duration: t.Duration, WPM: t.WPM, Text: t.Lyrics}
}

// ErrHeadTruncated reports a tag block that runs past the end of the head
// range. A longer head may hold the complete block.
var ErrHeadTruncated = errors.New("tag block extends past head range")

// Extractor reads tags from the first bytes of a cached chapter. Vorbis
// comments (Ogg Vorbis, Opus, FLAC) and ID3v2 user text frames are read in
// process; other containers are handed to ffprobe when a binary is
// configured.
type Extractor struct {
	FFprobeBinary string
}

// Extract returns the tags found in head. Missing tags leave zero values.
func (e Extractor) Extract(ctx context.Context, head []byte) (Tags, error) {
	fields, err := readFields(head)
	if err == nil {
		return FromFields(fields), nil
	}
	if errors.Is(err, ErrHeadTruncated) {
		return Tags{}, err
	}
	if strings.TrimSpace(e.FFprobeBinary) == "" {
		return Tags{}, fmt.Errorf("read tags: %w", err)
	}
	result, probeErr := ffprobe.InspectReader(ctx, e.FFprobeBinary, bytes.NewReader(head))
	if probeErr != nil {
		return Tags{}, errors.Join(fmt.Errorf("read tags: %w", err), probeErr)
	}
	return FromFields(result.Tags()), nil
}

func readFields(head []byte) (map[string]string, error) {
	m, err := tag.ReadFrom(bytes.NewReader(head))
	if err != nil {
		if taggedContainer(head) && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			return nil, fmt.Errorf("%w: %d bytes: %w", ErrHeadTruncated, len(head), err)
		}
		return nil, err
	}

	fields := make(map[string]string)
	switch m.Format() {
	case tag.VORBIS:
		for key, value := range m.Raw() {
			if text, ok := value.(string); ok {
				fields[key] = text
			}
		}
	case tag.ID3v2_2, tag.ID3v2_3, tag.ID3v2_4:
		var unsynced string
		for key, value := range m.Raw() {
			comm, ok := value.(*tag.Comm)
			if !ok {
				continue
			}
			switch {
			case strings.HasPrefix(key, "TXX"):
				fields[strings.ToUpper(comm.Description)] = comm.Text
			case strings.HasPrefix(key, "USLT"), strings.HasPrefix(key, "ULT"):
				unsynced = comm.Text
			}
		}
		// A LYRICS user frame wins over the unsynchronised lyrics frame.
		if _, ok := fields[TagLyrics]; !ok && unsynced != "" {
			fields[TagLyrics] = unsynced
		}
	default:
		return nil, fmt.Errorf("unsupported tag format %q", m.Format())
	}
	return fields, nil
}

// taggedContainer reports whether head opens a container whose tag block
// sits at the front of the file.
func taggedContainer(head []byte) bool {
	for _, magic := range []string{"OggS", "fLaC", "ID3"} {
		if bytes.HasPrefix(head, []byte(magic)) {
			return true
		}
	}
	return false
}

// FromFields maps raw comment fields to Tags. Keys match case-insensitively;
// unparseable numbers are treated as absent.
func FromFields(fields map[string]string) Tags {
	var tags Tags
	for key, value := range fields {
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case TagDuration:
			if d, ok := parseNumber(value); ok && d >= 0 {
				tags.Duration = d
			}
		case TagLyrics:
			tags.Lyrics = value
		case TagWPM:
			if w, ok := parseNumber(value); ok && w > 0 {
				tags.WPM = &w
			}
		}
	}
	return tags
}

func parseNumber(value string) (float64, bool) {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}
