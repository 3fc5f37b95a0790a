package transcode

import (
	"fmt"
	"strings"

	"novelverse/internal/config"
)

// Profile describes the delivery encoding.
type Profile struct {
	InputFormat string
	Codec       string
	Format      string
	BitrateKbps int
	SampleRate  int
	Channels    int
	BufferSize  string
}

// DefaultProfile is mono 128 kbit/s MP3 at 48 kHz from Ogg input.
func DefaultProfile() Profile {
	return Profile{
		InputFormat: "ogg",
		Codec:       "libmp3lame",
		Format:      "mp3",
		BitrateKbps: 128,
		SampleRate:  48000,
		Channels:    1,
		BufferSize:  "256k",
	}
}

// ProfileFromConfig builds a profile from the [transcode] section.
func ProfileFromConfig(cfg config.Transcode) Profile {
	return Profile{
		InputFormat: cfg.InputFormat,
		Codec:       cfg.Codec,
		Format:      cfg.Format,
		BitrateKbps: cfg.BitrateKbps,
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		BufferSize:  cfg.BufferSize,
	}
}

// CommandBuilder assembles ffmpeg arguments for streaming stdin to stdout.
type CommandBuilder struct{}

// Args returns the ffmpeg argument list for p.
func (CommandBuilder) Args(p Profile) []string {
	args := []string{
		"-nostats", "-hide_banner", "-loglevel", "warning",
	}
	if in := strings.TrimSpace(p.InputFormat); in != "" {
		args = append(args, "-f", in)
	}
	args = append(args, "-i", "pipe:0", "-vn", "-map_metadata", "-1")

	if p.Codec != "" {
		args = append(args, "-acodec", p.Codec)
	}
	if p.BitrateKbps > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", p.BitrateKbps))
	}
	if p.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", p.SampleRate))
	}
	if p.Channels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", p.Channels))
	}
	if p.BufferSize != "" {
		args = append(args, "-bufsize", p.BufferSize)
	}
	args = append(args, "-flush_packets", "1")

	format := p.Format
	if format == "" {
		format = "mp3"
	}
	args = append(args, "-f", format, "pipe:1")
	return args
}
