package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeTranscode()
	c.normalizeStream()
	c.normalizeFallback()
	c.normalizePlayback()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("NOVELVERSE_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		c.Server.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Server.StreamHeartbeatSeconds < 0 {
		c.Server.StreamHeartbeatSeconds = 0
	}
	origins := make([]string, 0, len(c.Server.AllowedOrigins))
	for _, origin := range c.Server.AllowedOrigins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Server.AllowedOrigins = origins
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendS3
	}
	c.Store.Bucket = strings.TrimSpace(c.Store.Bucket)
	if c.Store.Bucket == "" {
		if value, ok := os.LookupEnv("BUCKET"); ok {
			c.Store.Bucket = strings.TrimSpace(value)
		}
	}
	c.Store.Region = strings.TrimSpace(c.Store.Region)
	if c.Store.Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Store.Region = strings.TrimSpace(value)
		}
	}
	if c.Store.Region == "" {
		c.Store.Region = defaultStoreRegion
	}
	c.Store.Endpoint = strings.TrimRight(strings.TrimSpace(c.Store.Endpoint), "/")
	c.Store.Extension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Store.Extension)), ".")
	if c.Store.Extension == "" {
		c.Store.Extension = defaultStoreExtension
	}
	if c.Store.RequestTimeout <= 0 {
		c.Store.RequestTimeout = defaultStoreRequestTimeout
	}
	if strings.TrimSpace(c.Store.Dir) != "" {
		dir, err := expandPath(c.Store.Dir)
		if err != nil {
			return fmt.Errorf("store.dir: %w", err)
		}
		c.Store.Dir = dir
	}
	return nil
}

func (c *Config) normalizeTranscode() {
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	if c.Transcode.FFmpegBinary == "" {
		c.Transcode.FFmpegBinary = defaultFFmpegBinary
	}
	c.Transcode.FFprobeBinary = strings.TrimSpace(c.Transcode.FFprobeBinary)
	if c.Transcode.FFprobeBinary == "" {
		c.Transcode.FFprobeBinary = defaultFFprobeBinary
	}
	c.Transcode.InputFormat = strings.TrimSpace(c.Transcode.InputFormat)
	if c.Transcode.InputFormat == "" {
		c.Transcode.InputFormat = defaultInputFormat
	}
	c.Transcode.Codec = strings.TrimSpace(c.Transcode.Codec)
	if c.Transcode.Codec == "" {
		c.Transcode.Codec = defaultCodec
	}
	c.Transcode.Format = strings.TrimSpace(c.Transcode.Format)
	if c.Transcode.Format == "" {
		c.Transcode.Format = defaultContainerFormat
	}
	if c.Transcode.BitrateKbps <= 0 {
		c.Transcode.BitrateKbps = defaultBitrateKbps
	}
	if c.Transcode.SampleRate <= 0 {
		c.Transcode.SampleRate = defaultSampleRate
	}
	if c.Transcode.Channels <= 0 {
		c.Transcode.Channels = defaultChannels
	}
	c.Transcode.BufferSize = strings.TrimSpace(c.Transcode.BufferSize)
	if c.Transcode.MaxConcurrent <= 0 {
		c.Transcode.MaxConcurrent = runtime.NumCPU()
	}
	if c.Transcode.QueueTimeout < 0 {
		c.Transcode.QueueTimeout = 0
	}
}

func (c *Config) normalizeStream() {
	if c.Stream.ChunkBytes <= 0 {
		c.Stream.ChunkBytes = defaultChunkBytes
	}
	if c.Stream.HeadBytes <= 0 {
		c.Stream.HeadBytes = defaultHeadBytes
	}
}

func (c *Config) normalizeFallback() {
	c.Fallback.Mode = strings.ToLower(strings.TrimSpace(c.Fallback.Mode))
	switch c.Fallback.Mode {
	case "", "runpod", "job_queue":
		c.Fallback.Mode = FallbackModeJobQueue
	case "flask", "sse":
		c.Fallback.Mode = FallbackModeProxy
	}
	c.Fallback.BaseURL = strings.TrimSpace(c.Fallback.BaseURL)
	if c.Fallback.BaseURL == "" {
		if value, ok := os.LookupEnv("SPOT_API_BASE"); ok {
			c.Fallback.BaseURL = strings.TrimSpace(value)
		}
	}
	c.Fallback.BaseURL = strings.TrimRight(c.Fallback.BaseURL, "/")
	c.Fallback.APIKey = strings.TrimSpace(c.Fallback.APIKey)
	if c.Fallback.APIKey == "" {
		if value, ok := os.LookupEnv("RUNPOD_API_KEY"); ok {
			c.Fallback.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Fallback.PollIntervalMS <= 0 {
		c.Fallback.PollIntervalMS = defaultFallbackPollMS
	}
	if c.Fallback.ProgressTimeout <= 0 {
		c.Fallback.ProgressTimeout = defaultProgressTimeout
	}
	if c.Fallback.MaxRetries <= 0 {
		c.Fallback.MaxRetries = defaultFallbackMaxRetries
	}
	if c.Fallback.DefaultPreload < 0 {
		c.Fallback.DefaultPreload = 0
	}
	if c.Fallback.RequestTimeout <= 0 {
		c.Fallback.RequestTimeout = defaultFallbackRequestTimeout
	}
}

func (c *Config) normalizePlayback() {
	if c.Playback.LowWaterSeconds <= 0 {
		c.Playback.LowWaterSeconds = defaultLowWaterSeconds
	}
	if c.Playback.TargetSeconds <= 0 {
		c.Playback.TargetSeconds = defaultTargetSeconds
	}
	if c.Playback.MaxQueuedChunks <= 0 {
		c.Playback.MaxQueuedChunks = defaultMaxQueuedChunks
	}
	if c.Playback.SkipSeconds <= 0 {
		c.Playback.SkipSeconds = defaultSkipSeconds
	}
	if c.Playback.PollIntervalMS <= 0 {
		c.Playback.PollIntervalMS = defaultPlaybackPollMS
	}
	if c.Playback.RetryDelayMS <= 0 {
		c.Playback.RetryDelayMS = defaultRetryDelayMS
	}
	if c.Playback.MaxReconnects < 0 {
		c.Playback.MaxReconnects = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
