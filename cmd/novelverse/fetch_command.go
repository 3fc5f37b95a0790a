package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"novelverse/internal/cachekey"
	"novelverse/internal/config"
	"novelverse/internal/fileutil"
	"novelverse/internal/logging"
	"novelverse/internal/playback"
	"novelverse/internal/streamclient"
)

type fetchOptions struct {
	output    string
	preload   int
	websocket bool
	userID    string
	verbose   bool
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch <book-url> <chapter>",
		Short: "Stream a chapter from the daemon into a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			chapter, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil || chapter < 1 {
				return fmt.Errorf("chapter must be a positive integer, got %q", args[1])
			}
			logger := logging.NewNop()
			if opts.verbose {
				if logger, err = logging.New(logging.Options{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}}); err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
			}

			target := opts.output
			if target == "" {
				target = defaultFetchTarget(chapter, cfg.Store.Extension)
			}
			var w io.Writer = cmd.OutOrStdout()
			var pending *fileutil.PendingFile
			if target != "-" {
				if pending, err = fileutil.CreateAtomic(target, 0o644); err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer pending.Abort()
				w = pending
			}

			result, err := fetchChapter(cmd.Context(), cfg, fetchRequest{
				baseURL: baseURL(ctx.serverAddress()),
				token:   ctx.token(),
				bookURL: args[0],
				chapter: chapter,
				opts:    opts,
				logger:  logger,
				output:  w,
			})
			if err != nil {
				return err
			}
			if pending != nil {
				if err := pending.Commit(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes (%.1fs reported) to %s\n", result.Bytes, result.Duration, target)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file, or - for stdout")
	cmd.Flags().IntVar(&opts.preload, "preload", 0, "Chapters the generation worker should prepare ahead")
	cmd.Flags().BoolVar(&opts.websocket, "ws", false, "Use the websocket transport instead of SSE")
	cmd.Flags().StringVar(&opts.userID, "user", "", "User id sent with the request")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log stream progress to stderr")
	return cmd
}

type fetchRequest struct {
	baseURL string
	token   string
	bookURL string
	chapter int
	opts    fetchOptions
	logger  *slog.Logger
	output  io.Writer
}

type fetchResult struct {
	Bytes    int64
	Duration float64
}

// fetchChapter drives a playback engine backed by a WriterBuffer, so the
// download goes through the same buffering and reconnect path as playback.
func fetchChapter(ctx context.Context, cfg *config.Config, req fetchRequest) (fetchResult, error) {
	clientOpts := []streamclient.Option{
		streamclient.WithToken(req.token),
		streamclient.WithLogger(req.logger),
	}
	if req.opts.userID != "" {
		clientOpts = append(clientOpts, streamclient.WithUserID(req.opts.userID))
	}
	client, err := streamclient.New(req.baseURL, clientOpts...)
	if err != nil {
		return fetchResult{}, err
	}

	buffer := playback.NewWriterBuffer(req.output, cfg.Transcode.BitrateKbps)
	player, err := playback.NewPlayer(streamclient.ChapterSource{
		Client:    client,
		BookURL:   req.bookURL,
		Preload:   req.opts.preload,
		WebSocket: req.opts.websocket,
	}, playback.PlayerOptions{
		Chapters:      req.chapter,
		Settings:      playback.SettingsFromConfig(cfg.Playback),
		MaxReconnects: cfg.Playback.MaxReconnects,
		Logger:        req.logger,
		NewMedia:      func() playback.MediaBuffer { return buffer },
	})
	if err != nil {
		return fetchResult{}, err
	}
	defer player.Close()

	engine, err := player.Open(ctx, req.chapter)
	if err != nil {
		return fetchResult{}, err
	}
	engine.Play()
	if err := player.Wait(); err != nil {
		return fetchResult{}, fmt.Errorf("fetch chapter %d: %w", req.chapter, err)
	}

	select {
	case <-engine.Done():
	case <-ctx.Done():
		return fetchResult{}, ctx.Err()
	}
	status := engine.Status()
	if status.Err != nil && !errors.Is(status.Err, context.Canceled) {
		return fetchResult{}, fmt.Errorf("fetch chapter %d: %w", req.chapter, status.Err)
	}
	return fetchResult{Bytes: buffer.Written(), Duration: status.Info.Duration}, nil
}

func baseURL(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return "http://" + address
}

func defaultFetchTarget(chapter int, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = cachekey.DefaultExtension
	}
	return fmt.Sprintf("chapter_%d.%s", chapter, ext)
}
