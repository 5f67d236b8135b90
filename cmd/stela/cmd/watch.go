package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/steladb/stela/internal/client"
	"github.com/steladb/stela/internal/ui"
)

// watchOptions holds CLI flags for watch.
type watchOptions struct {
	addr     string
	interval time.Duration
	plain    bool
	noColor  bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch indexing activity on a running server",
		Long: `Watch a running stela server: per-index document counts, queued
updates, and indexing state, refreshed on an interval.

On an interactive terminal this is a live dashboard. When output is a
pipe or a CI environment, each poll prints one plain text block
instead.`,
		Example: `  # Watch the local server
  stela watch

  # Watch a remote server, refreshing every 5s
  stela watch --addr search-1.internal:7700 --interval 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:7700", "Server address to watch")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Poll interval")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text output instead of the TUI")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts watchOptions) error {
	c := client.New(opts.addr)

	cfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithServerAddr(opts.addr),
		ui.WithInterval(opts.interval),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
	)

	return ui.NewRenderer(cfg, fetchSnapshot(c)).Run(ctx)
}

// fetchSnapshot builds the dashboard poll function: list the indexes,
// then collect stats and queue depth for each one. Any failure puts the
// error in the snapshot so the dashboard can keep the last good rows.
func fetchSnapshot(c *client.Client) ui.Fetch {
	return func(ctx context.Context) ui.Snapshot {
		began := time.Now()
		snap := ui.Snapshot{At: began}

		indexes, err := c.ListIndexes(ctx)
		if err != nil {
			snap.Err = err
			return snap
		}

		for _, idx := range indexes {
			row := ui.IndexRow{UID: idx.UID}

			stats, err := c.GetStats(ctx, idx.UID)
			if err != nil {
				snap.Err = err
				return snap
			}
			row.Documents = stats.NumberOfDocuments
			row.Indexing = stats.IsIndexing

			tasks, err := c.Tasks(ctx, idx.UID)
			if err != nil {
				snap.Err = err
				return snap
			}
			for _, task := range tasks {
				if !task.State.Terminal() {
					row.Pending++
				}
			}
			// Tasks arrive in update id order, so the last one is newest.
			if len(tasks) > 0 {
				row.LastState = string(tasks[len(tasks)-1].State)
			}

			snap.Indexes = append(snap.Indexes, row)
		}

		snap.Took = time.Since(began)
		return snap
	}
}
