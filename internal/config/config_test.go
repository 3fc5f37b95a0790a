package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"novelverse/internal/config"
)

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	t.Setenv("BUCKET", "audio-bucket")
	t.Setenv("SPOT_API_BASE", "https://worker.example.com/v2/abc/")
	t.Setenv("RUNPOD_API_KEY", "rp-key")
	t.Setenv("AWS_REGION", "eu-west-2")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "novelverse")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Store.Bucket != "audio-bucket" {
		t.Fatalf("expected bucket from env, got %q", cfg.Store.Bucket)
	}
	if cfg.Store.Region != "eu-west-2" {
		t.Fatalf("expected region from env, got %q", cfg.Store.Region)
	}
	if cfg.Fallback.BaseURL != "https://worker.example.com/v2/abc" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Fallback.BaseURL)
	}
	if cfg.Fallback.APIKey != "rp-key" {
		t.Fatalf("expected api key from env, got %q", cfg.Fallback.APIKey)
	}
	if cfg.Fallback.Mode != config.FallbackModeJobQueue {
		t.Fatalf("expected jobqueue mode by default, got %q", cfg.Fallback.Mode)
	}
	if cfg.Transcode.MaxConcurrent != runtime.NumCPU() {
		t.Fatalf("expected max_concurrent to default to NumCPU, got %d", cfg.Transcode.MaxConcurrent)
	}
	if cfg.Stream.ChunkBytes != 128*1024 {
		t.Fatalf("unexpected chunk bytes: %d", cfg.Stream.ChunkBytes)
	}
	if cfg.Fallback.PollInterval().Milliseconds() != 800 {
		t.Fatalf("unexpected poll interval: %s", cfg.Fallback.PollInterval())
	}
	if cfg.LogFilePath() != filepath.Join(tempHome, ".local", "share", "novelverse", "logs", "novelverse.log") {
		t.Fatalf("unexpected log file path: %q", cfg.LogFilePath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
state_dir = "~/state"

[store]
backend = "fs"
dir = "~/audio"

[fallback]
mode = "proxy"
base_url = "http://127.0.0.1:5000"

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Store.Dir != filepath.Join(tempHome, "audio") {
		t.Fatalf("unexpected store dir: %q", cfg.Store.Dir)
	}
	if cfg.Fallback.Mode != config.FallbackModeProxy {
		t.Fatalf("unexpected fallback mode: %q", cfg.Fallback.Mode)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging normalized, got %q/%q", cfg.Logging.Format, cfg.Logging.Level)
	}
}

func TestLoadAppliesDotEnvNextToConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[fallback]\nmode = \"disabled\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BUCKET=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("BUCKET", "")
	os.Unsetenv("BUCKET")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.Bucket != "from-dotenv" {
		t.Fatalf("expected bucket from .env, got %q", cfg.Store.Bucket)
	}
}

func TestValidateRejectsMissingBucket(t *testing.T) {
	cfg := config.Default()
	cfg.Fallback.Mode = config.FallbackModeDisabled
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "store.bucket") {
		t.Fatalf("expected bucket validation error, got %v", err)
	}
}

func TestValidateRejectsFallbackWithoutBaseURL(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Bucket = "bucket"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "fallback.base_url") {
		t.Fatalf("expected base_url validation error, got %v", err)
	}
	cfg.Fallback.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid URL to be rejected")
	}
	cfg.Fallback.BaseURL = "https://api.example.com/v2/endpoint"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsInvertedBufferThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Bucket = "bucket"
	cfg.Fallback.Mode = config.FallbackModeDisabled
	cfg.Playback.LowWaterSeconds = 6
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "low_water") {
		t.Fatalf("expected threshold validation error, got %v", err)
	}
}

func TestSampleConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Stream.ChunkBytes != config.Default().Stream.ChunkBytes {
		t.Fatalf("sample chunk_bytes drifted from default: %d", cfg.Stream.ChunkBytes)
	}
	if cfg.Fallback.PollIntervalMS != config.Default().Fallback.PollIntervalMS {
		t.Fatalf("sample poll_interval_ms drifted from default: %d", cfg.Fallback.PollIntervalMS)
	}
}

func TestEnsureDirectoriesCreatesStoreDirForFS(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Store.Backend = config.StoreBackendFS
	cfg.Store.Dir = filepath.Join(base, "store")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Store.Dir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
}
