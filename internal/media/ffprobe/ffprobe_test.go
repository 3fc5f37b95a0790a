package ffprobe

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "audio", Tags: map[string]string{"lyrics": "stream text", "WPM": "150"}},
		},
		Format: Format{
			Duration: "123.45",
			BitRate:  "32000",
			Tags:     map[string]string{"Lyrics": "container text"},
		},
	}
	if result.AudioStreamCount() != 1 {
		t.Fatalf("expected 1 audio stream, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.BitRate() != 32000 {
		t.Fatalf("unexpected bitrate: %d", result.BitRate())
	}
	tags := result.Tags()
	if tags["LYRICS"] != "container text" || tags["WPM"] != "150" {
		t.Fatalf("unexpected merged tags: %v", tags)
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", BitRate: "nope"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
}

func TestInspectReaderPipesStdin(t *testing.T) {
	restore := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
	t.Cleanup(func() { commandContext = restore })

	result, err := InspectReader(context.Background(), "ffprobe", strings.NewReader("OggS-fake-header"))
	if err != nil {
		t.Fatalf("InspectReader returned error: %v", err)
	}
	if result.AudioStreamCount() != 1 {
		t.Fatalf("expected 1 audio stream, got %d", result.AudioStreamCount())
	}
	if result.Tags()["DURATION"] != "16" {
		t.Fatalf("expected helper to echo stdin length as DURATION, got %v", result.Tags())
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	input, _ := io.ReadAll(os.Stdin)
	fmt.Fprintf(os.Stdout, `{"streams":[{"index":0,"codec_name":"opus","codec_type":"audio","tags":{"DURATION":"%d"}}],"format":{"format_name":"ogg"}}`, len(input))
	os.Exit(0)
}
