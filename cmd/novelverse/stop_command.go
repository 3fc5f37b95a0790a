package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"novelverse/internal/daemonctl"
	"novelverse/internal/daemonrun"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon recorded in the state directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := ctx.apiClient()
			if err != nil {
				return fmt.Errorf("daemon address: %w", err)
			}
			if timeout <= 0 {
				timeout = time.Duration(cfg.Server.ShutdownTimeout+5) * time.Second
			}

			result, err := daemonctl.Stop(cmd.Context(), daemonctl.StopOptions{
				PID:     daemonrun.ReadPID(cfg),
				Client:  client,
				Timeout: timeout,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StopStateStopped:
				fmt.Fprintf(out, "Daemon %d stopped\n", result.PID)
			case daemonctl.StopStateStale:
				fmt.Fprintf(out, "Daemon %d was not running (stale pid file)\n", result.PID)
			default:
				fmt.Fprintln(out, "Daemon is not running")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for shutdown (defaults to server.shutdown_timeout + 5s)")
	return cmd
}
