package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateStream(); err != nil {
		return err
	}
	if err := c.validateFallback(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case StoreBackendS3:
		if c.Store.Bucket == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/novelverse/config.toml"
			}
			return fmt.Errorf("store.bucket is required for the s3 backend. Set BUCKET env var or edit %s (create with 'novelverse config init')", defaultPath)
		}
		if c.Store.Endpoint != "" {
			if _, err := url.ParseRequestURI(c.Store.Endpoint); err != nil {
				return fmt.Errorf("store.endpoint: %w", err)
			}
		}
	case StoreBackendFS:
		if strings.TrimSpace(c.Store.Dir) == "" {
			return errors.New("store.dir must be set when store.backend is fs")
		}
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want s3 or fs)", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateTranscode() error {
	return ensurePositiveMap(map[string]int{
		"transcode.bitrate_kbps":   c.Transcode.BitrateKbps,
		"transcode.sample_rate":    c.Transcode.SampleRate,
		"transcode.channels":       c.Transcode.Channels,
		"transcode.max_concurrent": c.Transcode.MaxConcurrent,
	})
}

func (c *Config) validateStream() error {
	if c.Stream.ChunkBytes < 1024 {
		return errors.New("stream.chunk_bytes must be at least 1024")
	}
	if c.Stream.HeadBytes < 512 {
		return errors.New("stream.head_bytes must be at least 512")
	}
	return nil
}

func (c *Config) validateFallback() error {
	switch c.Fallback.Mode {
	case FallbackModeDisabled:
		return nil
	case FallbackModeJobQueue, FallbackModeProxy:
	default:
		return fmt.Errorf("fallback.mode: unsupported value %q (want jobqueue, proxy, or disabled)", c.Fallback.Mode)
	}
	if c.Fallback.BaseURL == "" {
		return fmt.Errorf("fallback.base_url must be set when fallback.mode is %s (or set SPOT_API_BASE)", c.Fallback.Mode)
	}
	parsed, err := url.Parse(c.Fallback.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("fallback.base_url: invalid URL %q", c.Fallback.BaseURL)
	}
	return nil
}

func (c *Config) validatePlayback() error {
	if c.Playback.LowWaterSeconds >= c.Playback.TargetSeconds {
		return errors.New("playback.low_water_seconds must be less than playback.target_seconds")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
