package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steladb/stela/internal/client"
	"github.com/steladb/stela/internal/engine"
	"github.com/steladb/stela/internal/output"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	addr       string
	limit      int
	offset     int
	facets     []string
	jsonOutput bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <index> [query...]",
		Short: "Search an index on a running server",
		Long: `Run a search against one index and print the hits.

An empty query is a placeholder search: it returns documents in index
order, which is handy for eyeballing what an index contains.`,
		Example: `  stela search movies "naruto"
  stela search movies shazam --limit 5
  stela search movies --facets genre --json
  stela search movies`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := args[0]
			query := strings.Join(args[1:], " ")
			return runSearch(cmd.Context(), cmd, uid, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:7700", "Server address")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum number of hits")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of hits to skip")
	cmd.Flags().StringSliceVar(&opts.facets, "facets", nil, "Facet distributions to return (repeatable)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the raw JSON response")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, uid, query string, opts searchOptions) error {
	c := client.New(opts.addr)

	result, err := c.Search(ctx, uid, engine.SearchQuery{
		Query:              query,
		Offset:             opts.offset,
		Limit:              opts.limit,
		FacetsDistribution: opts.facets,
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	return formatSearchResult(cmd, query, result)
}

// formatSearchResult prints hits in human-readable form.
func formatSearchResult(cmd *cobra.Command, query string, result engine.SearchResult) error {
	out := output.New(cmd.OutOrStdout())

	if len(result.Hits) == 0 {
		if query == "" {
			out.Status("", "Index is empty")
		} else {
			out.Statusf("", "No results found for %q", query)
		}
		return nil
	}

	if query == "" {
		out.Statusf("🔍", "Showing %d of %d documents (%d ms):", len(result.Hits), result.NbHits, result.ProcessingTimeMs)
	} else {
		out.Statusf("🔍", "Found %d results for %q (%d ms):", result.NbHits, query, result.ProcessingTimeMs)
	}
	out.Newline()

	for i, hit := range result.Hits {
		line, err := json.Marshal(hit)
		if err != nil {
			return fmt.Errorf("failed to render hit: %w", err)
		}
		out.Statusf("", "%d. %s", result.Offset+i+1, line)
	}
	out.Newline()

	if len(result.FacetsDistribution) > 0 {
		out.Status("📊", "Facets:")
		printFacets(out, result.FacetsDistribution)
		out.Newline()
	}

	return nil
}

// printFacets renders facet counts with stable ordering, largest count
// first within each attribute.
func printFacets(out *output.Writer, facets map[string]map[string]int) {
	attrs := make([]string, 0, len(facets))
	for attr := range facets {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	for _, attr := range attrs {
		out.Statusf("", "  %s:", attr)

		type valueCount struct {
			value string
			count int
		}
		counts := make([]valueCount, 0, len(facets[attr]))
		for value, count := range facets[attr] {
			counts = append(counts, valueCount{value, count})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].count != counts[j].count {
				return counts[i].count > counts[j].count
			}
			return counts[i].value < counts[j].value
		})

		for _, vc := range counts {
			out.Statusf("", "    %-20s %d", vc.value, vc.count)
		}
	}
}
