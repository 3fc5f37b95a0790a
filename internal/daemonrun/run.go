package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"novelverse/internal/config"
	"novelverse/internal/daemon"
	"novelverse/internal/deps"
	"novelverse/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the novelverse daemon and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("novelverse-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.LogFilePath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update novelverse.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "novelverse-*.log", Exclude: []string{logPath}},
	)
	pidPath := filepath.Join(cfg.Paths.StateDir, "novelverse.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	comps, err := daemon.BuildComponents(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("build components", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, logger, comps)
	if err != nil {
		_ = comps.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the bind address, lock file, and ledger access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("novelverse daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running daemon, or 0 when none is.
func ReadPID(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, "novelverse.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_backend", cfg.Store.Backend),
		logging.String("fallback_mode", cfg.Fallback.Mode),
		logging.Bool("fallback_key_present", strings.TrimSpace(cfg.Fallback.APIKey) != ""),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.Server.APIToken) != ""),
	}
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	for _, status := range statuses {
		attrs = append(attrs,
			logging.Bool(strings.ToLower(status.Name)+"_available", status.Available),
			logging.String(strings.ToLower(status.Name)+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "required binaries missing", "dependency_missing",
			logging.Strings("missing", missing),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set transcode.ffmpeg_binary"),
			logging.String(logging.FieldImpact, "cache hits fail with a transcode error"),
		)
	}
}
