package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"handoverphotos/internal/api"
	"handoverphotos/internal/preflight"
	"handoverphotos/internal/storage"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var daemonStatus *api.DaemonStatus
			var status api.DaemonStatus
			daemonErr := ctx.client().get(cmd.Context(), "/api/status", &status)
			if daemonErr == nil {
				daemonStatus = &status
			}

			var checks []preflight.Result
			backend, storageErr := storage.New(cmd.Context(), cfg)
			if storageErr != nil {
				checks = append(checks, preflight.Result{Name: "Object storage", Detail: storageErr.Error()})
				backend = nil
			}
			checks = append(checks, preflight.RunAll(cmd.Context(), cfg, backend)...)

			if ctx.jsonOutput() {
				return writeJSON(cmd, statusReport{Daemon: daemonStatus, Checks: checks})
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range statusLines(daemonStatus, daemonErr, checks, colorize) {
				fmt.Fprintln(out, line)
			}
			if failed := preflight.Failures(checks); len(failed) > 0 {
				return fmt.Errorf("%d preflight checks failed", len(failed))
			}
			return nil
		},
	}
}

type statusReport struct {
	Daemon *api.DaemonStatus  `json:"daemon,omitempty"`
	Checks []preflight.Result `json:"checks"`
}

func statusLines(status *api.DaemonStatus, daemonErr error, checks []preflight.Result, colorize bool) []string {
	lines := renderSectionHeader("Daemon", colorize)
	if status == nil {
		msg := "Not reachable"
		if daemonErr != nil {
			msg = daemonErr.Error()
		}
		lines = append(lines, renderStatusLine("handoverd", statusError, msg, colorize))
	} else {
		lines = append(lines,
			renderStatusLine("handoverd", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
			renderStatusLine("Storage", statusInfo, status.Storage, colorize),
			renderStatusLine("Broker", statusInfo, status.Broker, colorize),
			renderStatusLine("Jobs", statusInfo, fmt.Sprintf("%d waiting, %d active, %d failed",
				status.Counts.Waiting, status.Counts.Active, status.Counts.Failed), colorize),
			renderStatusLine("Flags", statusInfo, fmt.Sprintf("%d defined", status.Flags), colorize),
		)
		for _, h := range status.Handlers {
			kind, msg := statusOK, "Ready"
			if !h.Ready {
				kind, msg = statusWarn, strings.TrimSpace("Not ready "+h.Detail)
			}
			lines = append(lines, renderStatusLine("Handler "+h.Name, kind, msg, colorize))
		}
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Preflight", colorize)...)
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}
