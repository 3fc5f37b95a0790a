package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"novelverse/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The object store is a local directory and the fallback worker is disabled
// unless options say otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Store.Backend = config.StoreBackendFS
	cfgVal.Store.Dir = filepath.Join(base, "store")
	cfgVal.Fallback.Mode = config.FallbackModeDisabled
	cfgVal.Transcode.MaxConcurrent = 2

	if err := os.MkdirAll(cfgVal.Store.Dir, 0o755); err != nil {
		t.Fatalf("mkdir store dir: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIToken sets the bearer token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.APIToken = token
	}
}

// WithFallback points the fallback worker at baseURL using mode.
func WithFallback(mode, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fallback.Mode = mode
		b.cfg.Fallback.BaseURL = baseURL
	}
}

// WithChunkBytes overrides the framer chunk size.
func WithChunkBytes(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stream.ChunkBytes = n
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// WithPassthroughFFmpeg points the transcoder at a shell stub that copies
// stdin to stdout, so delivered audio equals the stored bytes. The ffprobe
// fallback is disabled.
func WithPassthroughFFmpeg() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "ffmpeg-passthrough")
		if err := os.WriteFile(target, []byte("#!/bin/sh\nexec cat\n"), 0o755); err != nil {
			b.t.Fatalf("write ffmpeg stub: %v", err)
		}
		b.cfg.Transcode.FFmpegBinary = target
		b.cfg.Transcode.FFprobeBinary = ""
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
