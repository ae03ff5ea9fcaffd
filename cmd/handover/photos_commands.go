package main

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"handoverphotos/internal/api"
)

func newPhotosCommand(ctx *commandContext) *cobra.Command {
	photosCmd := &cobra.Command{
		Use:   "photos",
		Short: "Inspect and manage uploaded photos",
	}
	photosCmd.AddCommand(newPhotosStatusCommand(ctx))
	photosCmd.AddCommand(newPhotosListCommand(ctx))
	photosCmd.AddCommand(newPhotosDeleteCommand(ctx))
	photosCmd.AddCommand(newPhotosManifestCommand(ctx))
	return photosCmd
}

func newPhotosStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <photoId>",
		Short: "Show the processing state of a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.PhotoStatusResponse
			path := fmt.Sprintf("/api/v2/protocols/photos/%s/status", url.PathEscape(args[0]))
			if err := ctx.client().get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string {
				if resp.Photo == nil {
					return "no photo returned"
				}
				return renderPhotoDetail(*resp.Photo)
			})
		},
	}
}

func newPhotosListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <protocolId>",
		Short: "List the photos of a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.PhotoListResponse
			path := fmt.Sprintf("/api/v2/protocols/%s/photos", url.PathEscape(args[0]))
			if err := ctx.client().get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string {
				if len(resp.Photos) == 0 {
					return fmt.Sprintf("No photos for protocol %s", resp.ProtocolID)
				}
				return renderPhotoTable(resp.Photos)
			})
		},
	}
}

func newPhotosDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <photoId>",
		Short: "Delete a photo and its renditions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.DeleteResponse
			path := "/api/v2/protocols/photos/" + url.PathEscape(args[0])
			if err := ctx.client().send(cmd.Context(), "DELETE", path, nil, &resp); err != nil {
				return err
			}
			return emit(ctx, cmd, resp, func() string {
				return fmt.Sprintf("Deleted photo %s", resp.PhotoID)
			})
		},
	}
}

func newPhotosManifestCommand(ctx *commandContext) *cobra.Command {
	var protocol bool
	var generate bool
	cmd := &cobra.Command{
		Use:   "manifest <photoId|protocolId>",
		Short: "Print the latest integrity manifest of a photo or protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := url.PathEscape(args[0])
			if generate {
				var accepted api.JobAccepted
				path := fmt.Sprintf("/api/v2/protocols/%s/generate-manifest", id)
				if err := ctx.client().send(cmd.Context(), "POST", path, api.GenerateManifestRequest{}, &accepted); err != nil {
					return err
				}
				return emit(ctx, cmd, accepted, func() string {
					return fmt.Sprintf("Manifest job %s queued for protocol %s", accepted.JobID, accepted.ProtocolID)
				})
			}
			path := fmt.Sprintf("/api/v2/protocols/photos/%s/manifest", id)
			if protocol {
				path = fmt.Sprintf("/api/v2/protocols/%s/manifest", id)
			}
			var resp api.ManifestResponse
			if err := ctx.client().get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return writeJSON(cmd, resp)
		},
	}
	cmd.Flags().BoolVarP(&protocol, "protocol", "p", false, "Treat the argument as a protocol id")
	cmd.Flags().BoolVar(&generate, "generate", false, "Queue a new protocol manifest instead of printing one")
	return cmd
}

func renderPhotoDetail(p api.PhotoStatus) string {
	rows := [][]string{
		{"Photo", p.PhotoID},
		{"Protocol", p.ProtocolID},
		{"File", p.FileName},
		{"Status", fmt.Sprintf("%s (%d%%)", p.Status, p.Progress)},
		{"Size", humanize.Bytes(uint64(p.Size))},
		{"Hash", p.Hash},
		{"Job", p.JobID},
		{"Created", p.CreatedAt},
		{"Processed", p.ProcessedAt},
	}
	if p.Error != "" {
		rows = append(rows, []string{"Error", p.Error})
	}
	urls := p.URLs.Map()
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{"URL " + name, urls[name]})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func renderPhotoTable(list []api.PhotoStatus) string {
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		detail := p.Error
		if detail == "" {
			detail = p.URLs.Thumb
		}
		rows = append(rows, []string{
			p.PhotoID,
			p.FileName,
			p.Status,
			fmt.Sprintf("%d%%", p.Progress),
			humanize.Bytes(uint64(p.Size)),
			strings.TrimSpace(detail),
		})
	}
	return renderTable(
		[]string{"Photo ID", "File", "Status", "Progress", "Size", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
