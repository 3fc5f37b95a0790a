package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"novelverse/internal/api"
	"novelverse/internal/jobaccess"
	"novelverse/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the generation job ledger",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generation jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := jobaccess.ParseStatuses(statuses); err != nil {
				return err
			}
			session, err := ctx.openJobAccess(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			list, err := session.Access.List(cmd.Context(), statuses, limit)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, api.JobListResponse{Jobs: list})
			}

			out := cmd.OutOrStdout()
			if session.Direct {
				fmt.Fprintln(out, "Daemon not reachable; reading the job ledger directly")
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			fmt.Fprintln(out, renderJobTable(list))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum jobs to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print jobs as JSON")
	return cmd
}

func (c *commandContext) openJobAccess(ctx context.Context) (jobaccess.Session, error) {
	client, err := c.apiClient()
	if err != nil {
		return jobaccess.Session{}, fmt.Errorf("daemon address: %w", err)
	}
	probe := func(client *api.Client) error {
		_, err := client.Status(ctx)
		return err
	}
	return jobaccess.OpenWithFallback(client, probe, func() (*jobs.Store, error) {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		return jobs.Open(cfg)
	})
}

func renderJobTable(list []api.Job) string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			jobStatusLabel(job.Status),
			job.Mode,
			job.Chapter,
			strconv.Itoa(job.Attempt),
			strconv.Itoa(job.FramesRelayed),
			shortKey(job.CacheKey),
			job.UpdatedAt,
			truncate(job.ErrorMessage, 40),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Mode", "Chapter", "Attempt", "Frames", "Book", "Updated", "Error"},
		rows, 0, 4, 5,
	)
}

// shortKey reduces "audio/<hash>/chapter_3-v1.opus" to the book hash.
func shortKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return key
}

func truncate(value string, width int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= width {
		return string(runes)
	}
	return string(runes[:width-1]) + "…"
}

