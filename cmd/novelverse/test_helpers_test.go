package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"novelverse/internal/config"
	"novelverse/internal/daemon"
	"novelverse/internal/logging"
	"novelverse/internal/testsupport"
)

const (
	testBook  = "https://novels.example/Book/"
	testToken = "cli-secret"
)

type cliTestEnv struct {
	cfg        *config.Config
	comps      *daemon.Components
	daemon     *daemon.Daemon
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg(), testsupport.WithAPIToken(testToken))

	comps, err := daemon.BuildComponents(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("BuildComponents: %v", err)
	}
	d, err := daemon.New(cfg, logging.NewNop(), comps)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	return &cliTestEnv{
		cfg:        cfg,
		comps:      comps,
		daemon:     d,
		configPath: writeTestConfig(t, cfg),
	}
}

// args prefixes the flags that point the CLI at the test daemon.
func (e *cliTestEnv) args(extra ...string) []string {
	return append([]string{"--config", e.configPath, "--server", e.daemon.Addr(), "--token", testToken}, extra...)
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// closedAddress returns a loopback address nothing listens on.
func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
