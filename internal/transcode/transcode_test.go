package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"

	"novelverse/internal/services"
)

func stubCommand(t *testing.T, mode string) {
	t.Helper()
	restore := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "TRANSCODE_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = restore })
}

func TestCommandBuilderArgs(t *testing.T) {
	args := CommandBuilder{}.Args(DefaultProfile())
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f ogg -i pipe:0", "-acodec libmp3lame", "-b:a 128k", "-ar 48000", "-ac 1", "-flush_packets 1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got %q", want, joined)
		}
	}
	if args[len(args)-1] != "pipe:1" || args[len(args)-2] != "mp3" {
		t.Fatalf("expected output to pipe:1 as mp3, got %q", joined)
	}
}

func TestCommandBuilderOmitsEmptyInputFormat(t *testing.T) {
	profile := DefaultProfile()
	profile.InputFormat = ""
	args := CommandBuilder{}.Args(profile)
	idx := slices.Index(args, "-i")
	if idx < 0 || args[idx-1] == "ogg" {
		t.Fatalf("expected no input format before -i, got %v", args)
	}
}

func TestTranscodeStreamsOutput(t *testing.T) {
	stubCommand(t, "echo")
	pool := NewPool(1, 0, nil)
	tr := New("ffmpeg", pool, nil, nil)

	proc, err := tr.Transcode(context.Background(), strings.NewReader("opus-bytes"), DefaultProfile())
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}
	out, err := io.ReadAll(proc)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(out) != "mp3:opus-bytes" {
		t.Fatalf("unexpected output %q", out)
	}
	if err := proc.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if proc.State() != StateDone {
		t.Fatalf("expected state done, got %s", proc.State())
	}
	if pool.Stats().InUse != 0 {
		t.Fatalf("expected slot released, got %+v", pool.Stats())
	}
}

func TestTranscodeFailureSurfacesOnRead(t *testing.T) {
	stubCommand(t, "fail")
	tr := New("ffmpeg", NewPool(1, 0, nil), nil, nil)

	proc, err := tr.Transcode(context.Background(), strings.NewReader("garbage"), DefaultProfile())
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}
	defer proc.Close()
	_, err = io.ReadAll(proc)
	if !errors.Is(err, services.ErrTranscode) {
		t.Fatalf("expected ErrTranscode, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	if proc.State() != StateError {
		t.Fatalf("expected state error, got %s", proc.State())
	}
}

func TestKillStopsProcess(t *testing.T) {
	stubCommand(t, "hang")
	pool := NewPool(1, 0, nil)
	tr := New("ffmpeg", pool, nil, nil)

	proc, err := tr.Transcode(context.Background(), strings.NewReader("x"), DefaultProfile())
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}
	if proc.PID() == 0 {
		t.Fatal("expected a running pid")
	}
	proc.Kill()

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error after kill, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after kill")
	}
	if proc.State() != StateKilled {
		t.Fatalf("expected state killed, got %s", proc.State())
	}
	if pool.Stats().InUse != 0 {
		t.Fatalf("expected slot released after kill, got %+v", pool.Stats())
	}
}

func TestTranscodeRejectsWhenPoolFull(t *testing.T) {
	stubCommand(t, "echo")
	pool := NewPool(1, 0, nil)
	release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	defer release()

	tr := New("ffmpeg", pool, nil, nil)
	if _, err := tr.Transcode(context.Background(), strings.NewReader(""), DefaultProfile()); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if pool.Stats().Rejected != 1 {
		t.Fatalf("expected 1 rejection, got %+v", pool.Stats())
	}
}

func TestPoolWaitsForSlot(t *testing.T) {
	pool := NewPool(1, time.Second, nil)
	release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
		release()
	}()
	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected queued acquire to succeed, got %v", err)
	}
	second()
	if stats := pool.Stats(); stats.InUse != 0 || stats.Capacity != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPoolAcquireHonoursCancel(t *testing.T) {
	pool := NewPool(1, time.Second, nil)
	release, _ := pool.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pool.Stats().Rejected != 0 {
		t.Fatalf("cancellation should not count as rejection, got %+v", pool.Stats())
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("TRANSCODE_HELPER_MODE") {
	case "echo":
		data, _ := io.ReadAll(os.Stdin)
		fmt.Fprintf(os.Stdout, "mp3:%s", data)
		os.Exit(0)
	case "fail":
		_, _ = io.ReadAll(os.Stdin)
		fmt.Fprintln(os.Stderr, "pipe:0: Invalid data found when processing input")
		os.Exit(1)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}
