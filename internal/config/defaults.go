package config

import "runtime"

const (
	defaultStateDir               = "~/.local/share/novelverse"
	defaultLogDir                 = "~/.local/share/novelverse/logs"
	defaultLogRetentionDays       = 30
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultBind                   = "127.0.0.1:8787"
	defaultReadHeaderTimeout      = 10
	defaultShutdownTimeout        = 5
	defaultStreamHeartbeatSeconds = 15
	defaultStoreRegion            = "us-east-1"
	defaultStoreExtension         = "opus"
	defaultStoreRequestTimeout    = 30
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultInputFormat            = "ogg"
	defaultCodec                  = "libmp3lame"
	defaultContainerFormat        = "mp3"
	defaultBitrateKbps            = 128
	defaultSampleRate             = 48000
	defaultChannels               = 1
	defaultBufferSize             = "256k"
	defaultQueueTimeout           = 5
	defaultChunkBytes             = 128 * 1024
	defaultHeadBytes              = 64 * 1024
	defaultFallbackPollMS         = 800
	defaultProgressTimeout        = 20
	defaultFallbackMaxRetries     = 2
	defaultPreload                = 2
	defaultFallbackRequestTimeout = 30
	defaultLowWaterSeconds        = 2
	defaultTargetSeconds          = 5
	defaultMaxQueuedChunks        = 3
	defaultSkipSeconds            = 10
	defaultPlaybackPollMS         = 100
	defaultRetryDelayMS           = 250
	defaultMaxReconnects          = 2
)

const (
	StoreBackendS3 = "s3"
	StoreBackendFS = "fs"

	FallbackModeJobQueue = "jobqueue"
	FallbackModeProxy    = "proxy"
	FallbackModeDisabled = "disabled"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Server: Server{
			Bind:                   defaultBind,
			ReadHeaderTimeout:      defaultReadHeaderTimeout,
			ShutdownTimeout:        defaultShutdownTimeout,
			EnableWebSocket:        true,
			StreamHeartbeatSeconds: defaultStreamHeartbeatSeconds,
		},
		Store: Store{
			Backend:        StoreBackendS3,
			Extension:      defaultStoreExtension,
			RequestTimeout: defaultStoreRequestTimeout,
		},
		Transcode: Transcode{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			InputFormat:   defaultInputFormat,
			Codec:         defaultCodec,
			Format:        defaultContainerFormat,
			BitrateKbps:   defaultBitrateKbps,
			SampleRate:    defaultSampleRate,
			Channels:      defaultChannels,
			BufferSize:    defaultBufferSize,
			MaxConcurrent: runtime.NumCPU(),
			QueueTimeout:  defaultQueueTimeout,
		},
		Stream: Stream{
			ChunkBytes: defaultChunkBytes,
			HeadBytes:  defaultHeadBytes,
		},
		Fallback: Fallback{
			Mode:            FallbackModeJobQueue,
			PollIntervalMS:  defaultFallbackPollMS,
			ProgressTimeout: defaultProgressTimeout,
			MaxRetries:      defaultFallbackMaxRetries,
			DefaultPreload:  defaultPreload,
			RequestTimeout:  defaultFallbackRequestTimeout,
		},
		Playback: Playback{
			LowWaterSeconds: defaultLowWaterSeconds,
			TargetSeconds:   defaultTargetSeconds,
			MaxQueuedChunks: defaultMaxQueuedChunks,
			SkipSeconds:     defaultSkipSeconds,
			PollIntervalMS:  defaultPlaybackPollMS,
			RetryDelayMS:    defaultRetryDelayMS,
			MaxReconnects:   defaultMaxReconnects,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
