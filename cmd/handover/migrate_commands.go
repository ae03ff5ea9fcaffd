package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"handoverphotos/internal/api"
)

var migrationPollInterval = 2 * time.Second

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy protocols onto the photo service",
	}
	migrateCmd.AddCommand(newMigrateStartCommand(ctx))
	migrateCmd.AddCommand(newMigrateProgressCommand(ctx))
	migrateCmd.AddCommand(newMigrateRollbackCommand(ctx))
	migrateCmd.AddCommand(newMigrateValidateCommand(ctx))
	return migrateCmd
}

func newMigrateStartCommand(ctx *commandContext) *cobra.Command {
	var req api.MigrationStartRequest
	var wait bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a migration run on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.MigrationProgressResponse
			if err := ctx.client().send(cmd.Context(), "POST", "/api/v2/migration/start", req, &resp); err != nil {
				return err
			}
			if !wait {
				return emit(ctx, cmd, resp, func() string { return renderMigrationProgress(resp.Progress, time.Now()) })
			}
			final, err := waitForMigration(cmd.Context(), ctx.client(), migrationPollInterval, func(p api.MigrationProgress) {
				if !ctx.jsonOutput() {
					fmt.Fprintln(cmd.ErrOrStderr(), migrationProgressLine(p))
				}
			})
			if err != nil {
				return err
			}
			if err := emit(ctx, cmd, api.MigrationProgressResponse{Success: true, Progress: final}, func() string {
				return renderMigrationProgress(final, time.Now())
			}); err != nil {
				return err
			}
			if final.Failed > 0 {
				return fmt.Errorf("migration %s finished with %d failed protocols", final.BatchID, final.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Walk the legacy source without writing anything")
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "Protocols per batch (defaults to migration.batch_size)")
	cmd.Flags().StringSliceVar(&req.ProtocolIDs, "protocol", nil, "Only migrate these protocol ids")
	cmd.Flags().StringVar(&req.StartDate, "start", "", "Only protocols created on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.EndDate, "end", "", "Only protocols created on or before this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&req.SkipPhotos, "skip-photos", false, "Do not carry photos over")
	cmd.Flags().BoolVar(&req.SkipPDFs, "skip-pdfs", false, "Do not carry PDF attachments over")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the run finishes")
	return cmd
}

// waitForMigration polls progress until the run stops or ctx ends.
func waitForMigration(ctx context.Context, client *apiClient, interval time.Duration, onTick func(api.MigrationProgress)) (api.MigrationProgress, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var resp api.MigrationProgressResponse
		if err := client.get(ctx, "/api/v2/migration/progress", &resp); err != nil {
			return api.MigrationProgress{}, err
		}
		if onTick != nil {
			onTick(resp.Progress)
		}
		if !resp.Progress.Running {
			return resp.Progress, nil
		}
		select {
		case <-ctx.Done():
			return resp.Progress, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newMigrateProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show the current or last migration run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.MigrationProgressResponse
			if err := ctx.client().get(cmd.Context(), "/api/v2/migration/progress", &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string { return renderMigrationProgress(resp.Progress, time.Now()) })
		},
	}
}

func newMigrateRollbackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <batchId>",
		Short: "Remove every protocol a migration batch created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.RollbackResponse
			path := "/api/v2/migration/rollback/" + url.PathEscape(args[0])
			if err := ctx.client().send(cmd.Context(), "POST", path, nil, &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string {
				return fmt.Sprintf("Rolled back batch %s: %d protocols removed", resp.BatchID, resp.Removed)
			})
		},
	}
}

func newMigrateValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <protocolId>",
		Short: "Compare a legacy protocol with its migrated copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.ValidationResponse
			path := "/api/v2/migration/validate/" + url.PathEscape(args[0])
			if err := ctx.client().get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if err := emit(ctx, cmd, resp, func() string { return renderValidation(resp) }); err != nil {
				return err
			}
			if !resp.Valid {
				return fmt.Errorf("protocol %s failed validation", resp.ProtocolID)
			}
			return nil
		},
	}
}

func migrationProgressLine(p api.MigrationProgress) string {
	state := "finished"
	if p.Running {
		state = "running"
	}
	return fmt.Sprintf("%s %d/%d processed, %d failed (%s)", state, p.Processed, p.Total, p.Failed, humanizeETA(p.EstimatedCompletion))
}

func renderMigrationProgress(p api.MigrationProgress, now time.Time) string {
	if p.BatchID == "" && !p.Running {
		return "No migration has run"
	}
	rows := [][]string{
		{"Batch", p.BatchID},
		{"Running", yesNo(p.Running)},
		{"Dry run", yesNo(p.DryRun)},
		{"Processed", fmt.Sprintf("%d / %d", p.Processed, p.Total)},
		{"Failed", fmt.Sprintf("%d", p.Failed)},
		{"Success rate", fmt.Sprintf("%.1f%%", p.SuccessRate)},
	}
	if started, err := time.Parse(time.RFC3339, p.StartTime); err == nil {
		rows = append(rows, []string{"Started", humanize.RelTime(started, now, "ago", "from now")})
	}
	if p.Running {
		rows = append(rows, []string{"ETA", humanizeETA(p.EstimatedCompletion)})
	}
	var b strings.Builder
	b.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))
	if len(p.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		writeBullets(&b, p.Errors)
	}
	return strings.TrimRight(b.String(), "\n")
}

func humanizeETA(value string) string {
	eta, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return "eta unknown"
	}
	return "done " + humanize.Time(eta)
}

func renderValidation(v api.ValidationResponse) string {
	var b strings.Builder
	verdict := "valid"
	if !v.Valid {
		verdict = "INVALID"
	}
	fmt.Fprintf(&b, "Protocol %s: %s\n", v.ProtocolID, verdict)
	fmt.Fprintf(&b, "Migrated: %s\n", yesNo(v.Migrated))
	fmt.Fprintf(&b, "Photos: %d legacy, %d migrated\n", v.LegacyPhotos, v.MigratedPhotos)
	if len(v.Issues) > 0 {
		b.WriteString("Issues:\n")
		writeBullets(&b, v.Issues)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeBullets(w io.Writer, items []string) {
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}
