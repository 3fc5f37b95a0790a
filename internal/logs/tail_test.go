package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"novelverse/internal/logs"
)

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novelverse.log")
	if err := os.WriteFile(path, []byte("a\nb\r\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	lines, offset, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != 7 {
		t.Fatalf("offset = %d, want 7", offset)
	}
}

func TestLastHoldsBackPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novelverse.log")
	if err := os.WriteFile(path, []byte("done\npart"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	lines, offset, err := logs.Last(path, 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 1 || lines[0] != "done" || offset != 5 {
		t.Fatalf("lines=%#v offset=%d", lines, offset)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("lines=%#v offset=%d err=%v", lines, offset, err)
	}
}

func TestLastLongLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novelverse.log")
	long := strings.Repeat("x", 100*1024)
	if err := os.WriteFile(path, []byte(long+"\nshort\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	lines, offset, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 2 || lines[0] != long || lines[1] != "short" {
		t.Fatalf("unexpected lines (%d)", len(lines))
	}
	if offset != int64(len(long)+len("\nshort\n")) {
		t.Fatalf("offset = %d", offset)
	}
}

func TestFollowStreamsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novelverse.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, offset, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, 10*time.Millisecond, func(line string) error {
			mu.Lock()
			got = append(got, line)
			n := len(got)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
			return nil
		})
	}()

	appendTo(t, path, "later\nhalf")
	time.Sleep(50 * time.Millisecond)
	appendTo(t, path, "-line\n")

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Follow returned %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "later" || got[1] != "half-line" {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestFollowRestartsAfterRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "novelverse.log")
	if err := os.WriteFile(path, []byte("old run line\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, offset, _ := logs.Last(path, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines := make(chan string, 4)
	go func() {
		_ = logs.Follow(ctx, path, offset, 10*time.Millisecond, func(line string) error {
			lines <- line
			return nil
		})
	}()

	time.Sleep(30 * time.Millisecond)
	next := filepath.Join(dir, "novelverse-next.log")
	if err := os.WriteFile(next, []byte("new\n"), 0o644); err != nil {
		t.Fatalf("write next log: %v", err)
	}
	if err := os.Rename(next, path); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	select {
	case line := <-lines:
		if line != "new" {
			t.Fatalf("first line after rotation = %q", line)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for rotated line")
	}
}

func TestFollowStopsOnEmitError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novelverse.log")
	if err := os.WriteFile(path, []byte("one\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	sentinel := errors.New("closed pipe")
	err := logs.Follow(context.Background(), path, 0, time.Millisecond, func(string) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected emit error, got %v", err)
	}
}

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatalf("append: %v", err)
	}
}
