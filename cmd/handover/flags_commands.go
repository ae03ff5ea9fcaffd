package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"handoverphotos/internal/api"
)

func newFlagsCommand(ctx *commandContext) *cobra.Command {
	flagsCmd := &cobra.Command{
		Use:   "flags",
		Short: "Inspect and change rollout flags",
	}
	flagsCmd.AddCommand(newFlagsListCommand(ctx))
	flagsCmd.AddCommand(newFlagsSetCommand(ctx))
	flagsCmd.AddCommand(newFlagsCheckCommand(ctx))
	return flagsCmd
}

func newFlagsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every rollout flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.FlagListResponse
			if err := ctx.client().get(cmd.Context(), "/api/v2/flags", &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string {
				if len(resp.Flags) == 0 {
					return "No flags defined"
				}
				return renderFlagTable(resp.Flags)
			})
		},
	}
}

type flagSetOptions struct {
	enable      bool
	disable     bool
	percentage  int
	allow       []string
	windowStart string
	windowEnd   string
	clearWindow bool
}

func newFlagsSetCommand(ctx *commandContext) *cobra.Command {
	var opts flagSetOptions
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Update a rollout flag; omitted options keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildFlagPatch(cmd, opts)
			if err != nil {
				return err
			}
			var resp api.FlagResponse
			path := "/api/v2/flags/" + url.PathEscape(args[0])
			if err := ctx.client().send(cmd.Context(), "PATCH", path, patch, &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string {
				return renderFlagTable([]api.Flag{resp.Flag})
			})
		},
	}
	cmd.Flags().BoolVar(&opts.enable, "enable", false, "Turn the flag on")
	cmd.Flags().BoolVar(&opts.disable, "disable", false, "Turn the flag off")
	cmd.Flags().IntVar(&opts.percentage, "percentage", 0, "Share of subjects (0-100) admitted by hash bucket")
	cmd.Flags().StringSliceVar(&opts.allow, "allow", nil, "Subjects always admitted while enabled (replaces the list)")
	cmd.Flags().StringVar(&opts.windowStart, "window-start", "", "RFC 3339 time the flag becomes active")
	cmd.Flags().StringVar(&opts.windowEnd, "window-end", "", "RFC 3339 time the flag stops being active")
	cmd.Flags().BoolVar(&opts.clearWindow, "clear-window", false, "Remove any activation window")
	return cmd
}

// buildFlagPatch only carries the options the user actually passed.
func buildFlagPatch(cmd *cobra.Command, opts flagSetOptions) (api.FlagPatch, error) {
	changed := cmd.Flags().Changed
	var patch api.FlagPatch
	if opts.enable && opts.disable {
		return patch, errors.New("--enable and --disable are mutually exclusive")
	}
	if opts.clearWindow && (changed("window-start") || changed("window-end")) {
		return patch, errors.New("--clear-window cannot be combined with --window-start or --window-end")
	}
	if changed("enable") || changed("disable") {
		enabled := opts.enable && !opts.disable
		patch.Enabled = &enabled
	}
	if changed("percentage") {
		if opts.percentage < 0 || opts.percentage > 100 {
			return patch, fmt.Errorf("--percentage must be between 0 and 100, got %d", opts.percentage)
		}
		value := opts.percentage
		patch.Percentage = &value
	}
	if changed("allow") {
		allow := make([]string, 0, len(opts.allow))
		for _, subject := range opts.allow {
			if subject = strings.TrimSpace(subject); subject != "" {
				allow = append(allow, subject)
			}
		}
		patch.AllowList = &allow
	}
	if changed("window-start") {
		value := strings.TrimSpace(opts.windowStart)
		patch.WindowStart = &value
	}
	if changed("window-end") {
		value := strings.TrimSpace(opts.windowEnd)
		patch.WindowEnd = &value
	}
	patch.ClearWindow = opts.clearWindow
	if patch == (api.FlagPatch{}) {
		return patch, errors.New("nothing to change; pass at least one option")
	}
	return patch, nil
}

func newFlagsCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <key> <subject>",
		Short: "Explain whether a flag admits a subject",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.FlagEvaluation
			path := fmt.Sprintf("/api/v2/flags/%s/evaluate?subject=%s", url.PathEscape(args[0]), url.QueryEscape(args[1]))
			if err := ctx.client().get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string {
				verdict := "denied"
				if resp.Enabled {
					verdict = "allowed"
				}
				return fmt.Sprintf("%s for %s: %s (%s, bucket %d)", resp.Key, resp.Subject, verdict, resp.Reason, resp.Bucket)
			})
		},
	}
}

func renderFlagTable(flags []api.Flag) string {
	rows := make([][]string, 0, len(flags))
	for _, flag := range flags {
		window := "-"
		if flag.WindowStart != "" || flag.WindowEnd != "" {
			window = fmt.Sprintf("%s .. %s", orDash(flag.WindowStart), orDash(flag.WindowEnd))
		}
		allow := "-"
		if len(flag.AllowList) > 0 {
			allow = strings.Join(flag.AllowList, ", ")
		}
		rows = append(rows, []string{
			flag.Key,
			yesNo(flag.Enabled),
			fmt.Sprintf("%d%%", flag.Percentage),
			allow,
			window,
		})
	}
	return renderTable(
		[]string{"Key", "Enabled", "Rollout", "Allow list", "Window"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
