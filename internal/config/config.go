package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"novelverse/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Server contains HTTP listener configuration.
type Server struct {
	Bind                   string   `toml:"bind"`
	APIToken               string   `toml:"api_token"`
	ReadHeaderTimeout      int      `toml:"read_header_timeout"`
	ShutdownTimeout        int      `toml:"shutdown_timeout"`
	EnableWebSocket        bool     `toml:"enable_websocket"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	TrustUserIDHeader      bool     `toml:"trust_user_id_header"`
	StreamHeartbeatSeconds int      `toml:"stream_heartbeat_seconds"`
}

// Store contains object store configuration.
type Store struct {
	Backend        string `toml:"backend"`
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	UsePathStyle   bool   `toml:"use_path_style"`
	Dir            string `toml:"dir"`
	Extension      string `toml:"extension"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Transcode contains ffmpeg settings for the delivery codec.
type Transcode struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	InputFormat   string `toml:"input_format"`
	Codec         string `toml:"codec"`
	Format        string `toml:"format"`
	BitrateKbps   int    `toml:"bitrate_kbps"`
	SampleRate    int    `toml:"sample_rate"`
	Channels      int    `toml:"channels"`
	BufferSize    string `toml:"buffer_size"`
	MaxConcurrent int    `toml:"max_concurrent"`
	QueueTimeout  int    `toml:"queue_timeout"`
}

// Stream contains per-session framing settings.
type Stream struct {
	ChunkBytes int `toml:"chunk_bytes"`
	HeadBytes  int `toml:"head_bytes"`
}

// Fallback contains configuration for the generation worker used on cache misses.
type Fallback struct {
	Mode             string `toml:"mode"`
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	PollIntervalMS   int    `toml:"poll_interval_ms"`
	ProgressTimeout  int    `toml:"progress_timeout"`
	MaxRetries       int    `toml:"max_retries"`
	DefaultPreload   int    `toml:"default_preload"`
	RequestTimeout   int    `toml:"request_timeout"`
	CumulativeStream bool   `toml:"cumulative_stream"`
}

// Playback contains client buffering thresholds.
type Playback struct {
	LowWaterSeconds float64 `toml:"low_water_seconds"`
	TargetSeconds   float64 `toml:"target_seconds"`
	MaxQueuedChunks int     `toml:"max_queued_chunks"`
	SkipSeconds     float64 `toml:"skip_seconds"`
	PollIntervalMS  int     `toml:"poll_interval_ms"`
	RetryDelayMS    int     `toml:"retry_delay_ms"`
	MaxReconnects   int     `toml:"max_reconnects"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for novelverse.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Server: HTTP bind address, bearer token, websocket toggle
//   - Store: S3 bucket or local directory holding cached chapters
//   - Transcode: ffmpeg delivery profile and concurrency cap
//   - Stream: chunk sizing and metadata head range
//   - Fallback: generation worker endpoint, polling and retry budget
//   - Playback: client buffering thresholds
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Server    Server    `toml:"server"`
	Store     Store     `toml:"store"`
	Transcode Transcode `toml:"transcode"`
	Stream    Stream    `toml:"stream"`
	Fallback  Fallback  `toml:"fallback"`
	Playback  Playback  `toml:"playback"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/novelverse/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config file or in the
// working directory is applied to the environment first without overriding set variables.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env")}
	if cwd, err := filepath.Abs(".env"); err == nil && cwd != candidates[0] {
		candidates = append(candidates, cwd)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("novelverse.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir}
	if c.Store.Backend == StoreBackendFS {
		dirs = append(dirs, c.Store.Dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JobsDBPath returns the sqlite path used by the generation job ledger.
func (c *Config) JobsDBPath() string {
	return filepath.Join(c.Paths.StateDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "novelversed.lock")
}

// LogFilePath returns the daemon log file path.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "novelverse.log")
}

// QueueTimeoutDuration returns how long a session waits for a transcode slot.
func (t Transcode) QueueTimeoutDuration() time.Duration {
	return time.Duration(t.QueueTimeout) * time.Second
}

// RequestTimeoutDuration bounds a single object store call.
func (s Store) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// HeartbeatInterval returns the SSE keep-alive cadence; zero disables it.
func (s Server) HeartbeatInterval() time.Duration {
	return time.Duration(s.StreamHeartbeatSeconds) * time.Second
}

// PollInterval returns the job status polling cadence.
func (f Fallback) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMS) * time.Millisecond
}

// ProgressTimeoutDuration returns the no-progress watchdog window.
func (f Fallback) ProgressTimeoutDuration() time.Duration {
	return time.Duration(f.ProgressTimeout) * time.Second
}

// RequestTimeoutDuration bounds individual control-plane HTTP calls.
func (f Fallback) RequestTimeoutDuration() time.Duration {
	return time.Duration(f.RequestTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if err := fileutil.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
