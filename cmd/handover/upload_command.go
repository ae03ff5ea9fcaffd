package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"handoverphotos/internal/api"
	"handoverphotos/internal/featuregate"
	"handoverphotos/internal/services"
	"handoverphotos/internal/uploadqueue"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var skipGate bool

	cmd := &cobra.Command{
		Use:   "upload <protocolId> <file>...",
		Short: "Upload photos for a protocol and wait for processing",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			protocolID := strings.TrimSpace(args[0])
			opts := uploadqueue.OptionsFromConfig(cfg, protocolID, strings.TrimSpace(userID))
			if !skipGate {
				gate, err := fetchGate(cmd, ctx, opts.FeatureKey)
				if err != nil {
					return err
				}
				opts.Gate = gate
			}

			var files []uploadqueue.File
			for _, path := range args[1:] {
				file, err := uploadqueue.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, file)
			}

			channel := uploadqueue.NewHTTPChannel(ctx.baseURL())
			queue := uploadqueue.New(channel, channel, opts)
			defer queue.Close()
			if !queue.Enabled() {
				return fmt.Errorf("%w: %s is off for this user; use the legacy upload path", services.ErrDisabled, opts.FeatureKey)
			}

			out := cmd.OutOrStdout()
			progress := newProgressPrinter(out, shouldColorize(out))
			unsubscribe := queue.Subscribe(progress.update)
			defer unsubscribe()

			captured, err := queue.Capture(files)
			if err != nil {
				return err
			}
			for _, skipped := range captured.Skipped {
				fmt.Fprintln(out, renderStatusLine(skipped.Name, statusWarn, "skipped: "+skipped.Err.Error(), progress.colorize))
			}
			if len(captured.Accepted) == 0 {
				return errors.New("no photos were accepted for upload")
			}

			waitErr := queue.Wait(cmd.Context())
			unsubscribe()
			progress.finish()

			items := queue.Items()
			if ctx.jsonOutput() {
				return writeJSON(cmd, items)
			}
			fmt.Fprintln(out, renderUploadTable(items))
			if waitErr != nil {
				return waitErr
			}
			if failed := uploadqueue.CountItems(items).Failed; failed > 0 {
				return fmt.Errorf("%d of %d photos failed", failed, len(items))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User identifier used for rollout decisions")
	cmd.Flags().BoolVar(&skipGate, "skip-gate", false, "Do not check the rollout flag before capturing")
	return cmd
}

// fetchGate loads the upload flag from the daemon into a local gate. A flag
// the daemon does not know leaves the gate empty, which disables the queue.
func fetchGate(cmd *cobra.Command, ctx *commandContext, key string) (*featuregate.Gate, error) {
	gate := featuregate.New()
	var resp api.FlagResponse
	err := ctx.client().get(cmd.Context(), "/api/v2/flags/"+url.PathEscape(key), &resp)
	if errors.Is(err, services.ErrNotFound) {
		return gate, nil
	}
	if err != nil {
		return nil, err
	}
	flag, err := resp.Flag.ToFlag()
	if err != nil {
		return nil, err
	}
	gate.Load([]featuregate.Flag{flag})
	return gate, nil
}

// progressPrinter renders queue snapshots. On a terminal it redraws one
// summary line; otherwise it prints each item transition once.
type progressPrinter struct {
	out      io.Writer
	colorize bool

	mu    sync.Mutex
	seen  map[string]uploadqueue.Status
	drawn bool
}

func newProgressPrinter(out io.Writer, colorize bool) *progressPrinter {
	return &progressPrinter{out: out, colorize: colorize, seen: make(map[string]uploadqueue.Status)}
}

func (p *progressPrinter) update(items []uploadqueue.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.colorize {
		fmt.Fprintf(p.out, "\r\x1b[K%s", progressSummary(items))
		p.drawn = true
		return
	}
	for _, it := range items {
		if p.seen[it.ID] == it.Status {
			continue
		}
		p.seen[it.ID] = it.Status
		fmt.Fprintln(p.out, renderStatusLine(it.Name, itemStatusKind(it.Status), itemStatusText(it), false))
	}
}

func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.out)
		p.drawn = false
	}
}

func progressSummary(items []uploadqueue.Item) string {
	c := uploadqueue.CountItems(items)
	total, percent := 0, 0
	for _, it := range items {
		total += it.Progress
	}
	if len(items) > 0 {
		percent = total / len(items)
	}
	return fmt.Sprintf("%3d%%  %d pending  %d uploading  %d processing  %d done  %d failed",
		percent, c.Pending, c.Uploading, c.Processing, c.Completed, c.Failed)
}

func itemStatusKind(status uploadqueue.Status) statusKind {
	switch status {
	case uploadqueue.StatusCompleted:
		return statusOK
	case uploadqueue.StatusFailed:
		return statusError
	default:
		return statusInfo
	}
}

func itemStatusText(it uploadqueue.Item) string {
	text := fmt.Sprintf("%s %d%%", it.Status, it.Progress)
	if it.Retries > 0 {
		text += fmt.Sprintf(" (retry %d)", it.Retries)
	}
	if it.Error != "" {
		text += ": " + it.Error
	}
	return text
}

func renderUploadTable(items []uploadqueue.Item) string {
	rows := make([][]string, 0, len(items))
	var size uint64
	for _, it := range items {
		detail := it.Error
		if detail == "" {
			detail = it.DerivedURLs["thumb"]
		}
		size += uint64(it.Size)
		rows = append(rows, []string{
			it.Name,
			humanize.Bytes(uint64(it.Size)),
			string(it.Status),
			fmt.Sprintf("%d", it.Retries),
			it.RemoteID,
			detail,
		})
	}
	c := uploadqueue.CountItems(items)
	return renderTableSpec(tableSpec{
		Headers: []string{"File", "Size", "Status", "Retries", "Photo ID", "Detail"},
		Rows:    rows,
		Aligns:  []columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
		Footer:  []string{fmt.Sprintf("%d photos", len(items)), humanize.Bytes(size), fmt.Sprintf("%d done", c.Completed), "", "", fmt.Sprintf("%d failed", c.Failed)},
	})
}
