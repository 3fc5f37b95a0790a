package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"novelverse/internal/api"
	"novelverse/internal/daemonrun"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, transcode slots and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return fmt.Errorf("daemon address: %w", err)
			}
			status, err := client.Status(cmd.Context())
			if err != nil && !api.IsAPIUnavailable(err) {
				return err
			}
			running := err == nil

			if jsonOutput {
				if !running {
					return writeJSON(cmd, api.DaemonStatus{JobStats: map[string]int{}})
				}
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if !running {
				message := "Not running"
				if pid := daemonrun.ReadPID(ctx.config); pid > 0 {
					message = fmt.Sprintf("Not reachable at %s (pid file names %d)", ctx.serverAddress(), pid)
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", statusError, message, colorize))
				return nil
			}
			writeDaemonStatus(out, status, colorize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status payload")
	return cmd
}

func writeDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	uptime := (time.Duration(status.UptimeSeconds) * time.Second).String()
	fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d, up %s)", status.PID, uptime), colorize))
	fmt.Fprintln(out, renderStatusLine("Store", statusInfo, status.StoreBackend, colorize))
	fmt.Fprintln(out, renderStatusLine("Fallback", statusInfo, status.FallbackMode, colorize))

	slots := status.Transcode
	slotKind := statusOK
	if slots.Capacity > 0 && slots.InUse >= slots.Capacity {
		slotKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Transcodes",
		slotKind, fmt.Sprintf("%d/%d in use, %d rejected", slots.InUse, slots.Capacity, slots.Rejected), colorize))

	if len(status.JobStats) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Jobs", colorize) {
			fmt.Fprintln(out, line)
		}
		names := make([]string, 0, len(status.JobStats))
		for name := range status.JobStats {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintln(out, renderStatusLine(jobStatusLabel(name), jobStatusKind(name),
				fmt.Sprintf("%d", status.JobStats[name]), colorize))
		}
	}

	if len(status.Dependencies) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Dependencies", colorize) {
			fmt.Fprintln(out, line)
		}
		var missing []string
		for _, dep := range status.Dependencies {
			kind, message := statusOK, "Ready"
			switch {
			case dep.Available && dep.Version != "":
				message = fmt.Sprintf("Ready (%s)", dep.Version)
			case !dep.Available && dep.Optional:
				kind, message = statusWarn, firstNonEmpty(dep.Detail, "not available (optional)")
			case !dep.Available:
				kind, message = statusError, firstNonEmpty(dep.Detail, "not available")
				missing = append(missing, dep.Name)
			}
			fmt.Fprintln(out, renderStatusLine(dep.Name, kind, message, colorize))
		}
		if len(missing) > 0 {
			fmt.Fprintf(out, "Missing dependencies: %s\n", strings.Join(missing, ", "))
		}
	}
}
