package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"handoverphotos/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the background job pipeline",
	}
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show job counts and backlog health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.QueueStatsResponse
			if err := ctx.client().get(cmd.Context(), "/api/v2/queue/stats", &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string { return renderQueueStats(resp) })
		},
	})
	return jobsCmd
}

func renderQueueStats(resp api.QueueStatsResponse) string {
	health := "healthy"
	if !resp.Healthy {
		health = "backlogged"
	}
	rows := [][]string{
		{"Waiting", humanize.Comma(resp.Counts.Waiting)},
		{"Active", humanize.Comma(resp.Counts.Active)},
		{"Completed", humanize.Comma(resp.Counts.Completed)},
		{"Failed", humanize.Comma(resp.Counts.Failed)},
	}
	return renderTableSpec(tableSpec{
		Title:   fmt.Sprintf("%s broker, %s (threshold %d)", resp.Broker, health, resp.Threshold),
		Headers: []string{"State", "Jobs"},
		Rows:    rows,
		Aligns:  []columnAlignment{alignLeft, alignRight},
	})
}
