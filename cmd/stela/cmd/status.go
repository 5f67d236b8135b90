package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/steladb/stela/internal/client"
	"github.com/steladb/stela/internal/ui"
)

// statusTimeout bounds the whole status collection, not one request.
const statusTimeout = 5 * time.Second

// statusOptions holds CLI flags for status.
type statusOptions struct {
	addr       string
	jsonOutput bool
	noColor    bool
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running server",
		Long: `Show a one-shot summary of a stela server: version, index count,
document totals, queued updates, and a per-index breakdown.

An unreachable server is reported, not treated as a command failure,
so scripts can probe with --json and inspect the "available" field.`,
		Example: `  # Status of the local server
  stela status

  # Machine-readable status of a remote server
  stela status --addr search-1.internal:7700 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:7700", "Server address")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, opts statusOptions) error {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	info := collectStatus(ctx, client.New(opts.addr), opts.addr)

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), opts.noColor || ui.DetectNoColor())
	if opts.jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

// collectStatus gathers everything status reports. Partial data is
// fine: a row whose stats call failed still appears with zero counts.
func collectStatus(ctx context.Context, c *client.Client, addr string) ui.StatusInfo {
	info := ui.StatusInfo{Addr: addr}

	if err := c.Health(ctx); err != nil {
		return info
	}
	info.Available = true

	if v, err := c.Version(ctx); err == nil {
		info.Version = v.Version
		info.Commit = v.Commit
	}

	indexes, err := c.ListIndexes(ctx)
	if err != nil {
		return info
	}
	info.Indexes = len(indexes)

	for _, idx := range indexes {
		row := ui.IndexRow{UID: idx.UID}
		if stats, statsErr := c.GetStats(ctx, idx.UID); statsErr == nil {
			row.Documents = stats.NumberOfDocuments
			row.Indexing = stats.IsIndexing
		}
		if tasks, tasksErr := c.Tasks(ctx, idx.UID); tasksErr == nil {
			for _, task := range tasks {
				if !task.State.Terminal() {
					row.Pending++
				}
				if task.ProcessedAt != nil && task.ProcessedAt.After(info.LastUpdate) {
					info.LastUpdate = *task.ProcessedAt
				}
			}
		}
		info.Documents += row.Documents
		info.Pending += row.Pending
		info.Rows = append(info.Rows, row)
	}

	return info
}
