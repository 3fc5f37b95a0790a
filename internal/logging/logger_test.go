package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"novelverse/internal/config"
	"novelverse/internal/logging"
	"novelverse/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello file")

	content, err := os.ReadFile(cfg.LogFilePath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello file") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "stream").Info("message without caller", logging.String("cache_key", "audio/x"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
	if !strings.Contains(line, "INFO stream: message without caller") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "cache_key=audio/x") {
		t.Fatalf("expected key=value attr, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := context.Background()
	ctx = services.WithSessionID(ctx, "sess-9")
	ctx = services.WithStage(ctx, "cache_hit")
	ctx = services.WithCacheKey(ctx, "audio/abc/chapter_2-v1.opus")
	ctx = services.WithRequestID(ctx, "req-xyz")
	ctx = services.WithUserID(ctx, "reader-3")

	logging.WithContext(ctx, logger).Info("contextual log")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	want := map[string]string{
		logging.FieldSessionID:     "sess-9",
		logging.FieldStage:         "cache_hit",
		logging.FieldCacheKey:      "audio/abc/chapter_2-v1.opus",
		logging.FieldCorrelationID: "req-xyz",
		logging.FieldUserID:        "reader-3",
		"msg":                      "contextual log",
		"level":                    "info",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("field %s = %v, want %q", key, record[key], value)
		}
	}
}

func TestCleanupOldLogsRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.log")
	freshPath := filepath.Join(dir, "fresh.log")
	for _, path := range []string{oldPath, freshPath} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	pointer := filepath.Join(dir, "current.log")
	if err := os.Symlink(oldPath, pointer); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 5, logging.RetentionTarget{Dir: dir, Pattern: "*.log"})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Lstat(pointer); err != nil {
		t.Fatalf("expected symlink kept: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Fatalf("expected fresh log kept: %v", err)
	}
}

func TestCleanupOldLogsHonoursExclude(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "novelverse-run.log")
	if err := os.WriteFile(current, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(current, past, past); err != nil {
		t.Fatal(err)
	}
	target := logging.RetentionTarget{Dir: dir, Pattern: "novelverse-*.log", Exclude: []string{current}}
	if removed := logging.CleanupOldLogs(nil, 1, target); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
	if removed := logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir}); removed != 0 {
		t.Fatal("expected zero retention to disable pruning")
	}
}

func TestSecretsAreRedacted(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		t.Run(format, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), "redact.log")
			logger, err := logging.New(logging.Options{Format: format, Level: "info", OutputPaths: []string{logPath}})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			logger.WithGroup("fallback").Info("submitting job",
				logging.String("api_key", "rp_live_123"),
				logging.String("url", "https://user:pw@worker.example/run?token=abc&book=1"),
			)
			content, err := os.ReadFile(logPath)
			if err != nil {
				t.Fatal(err)
			}
			line := string(content)
			for _, leaked := range []string{"rp_live_123", "user:pw", "token=abc"} {
				if strings.Contains(line, leaked) {
					t.Fatalf("%q leaked into %q", leaked, line)
				}
			}
			if !strings.Contains(line, "book=1") || !strings.Contains(line, "[redacted]") {
				t.Fatalf("expected redacted but readable line, got %q", line)
			}
		})
	}
}

func TestConsoleLeadingKeysOrder(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "order.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("frame", logging.Int("seq", 3), logging.String(logging.FieldStage, "streaming"), logging.String(logging.FieldSessionID, "s1"))
	content, _ := os.ReadFile(logPath)
	line := string(content)
	if !strings.Contains(line, "frame session_id=s1 stage=streaming seq=3") {
		t.Fatalf("unexpected field order: %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "bogus": "INFO"}
	for in, want := range cases {
		if got := logging.ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "required binaries missing", "dependency_missing",
		logging.Strings("missing", []string{"FFmpeg", "FFprobe"}),
		logging.String(logging.FieldImpact, "cache hits fail"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	want := map[string]string{
		logging.FieldEventType: "dependency_missing",
		logging.FieldErrorHint: "check logs for details",
		logging.FieldImpact:    "cache hits fail",
		"missing":              "FFmpeg,FFprobe",
		"level":                "warn",
	}
	for key, value := range want {
		if record[key] != value {
			t.Errorf("%s = %v, want %q", key, record[key], value)
		}
	}
}
