package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes a stela server as seen from the CLI.
type StatusInfo struct {
	// Server identity
	Addr      string `json:"addr"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`

	// Aggregate counts across all indexes
	Indexes   int `json:"indexes"`
	Documents int `json:"documents"`
	Pending   int `json:"pending"`

	// LastUpdate is when the most recent update finished, zero if none.
	LastUpdate time.Time `json:"last_update"`

	// Rows is the per-index breakdown.
	Rows []IndexRow `json:"rows,omitempty"`
}

// StatusRenderer displays server status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Server Status: "+info.Addr))

	if !info.Available {
		_, _ = fmt.Fprintf(r.out, "  Status: %s\n", r.renderState("unreachable"))
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  Status:  %s\n", r.renderState("available"))
	if info.Version != "" {
		ver := info.Version
		if info.Commit != "" && info.Commit != "unknown" {
			ver += " (" + info.Commit + ")"
		}
		_, _ = fmt.Fprintf(r.out, "  Version: %s\n", ver)
	}
	_, _ = fmt.Fprintln(r.out)

	// Aggregate counts
	_, _ = fmt.Fprintf(r.out, "  Indexes:     %d\n", info.Indexes)
	_, _ = fmt.Fprintf(r.out, "  Documents:   %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Pending:     %d\n", info.Pending)
	if !info.LastUpdate.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last update: %s\n", formatTime(info.LastUpdate))
	}

	// Per-index breakdown
	if len(info.Rows) > 0 {
		_, _ = fmt.Fprintln(r.out)
		for _, row := range info.Rows {
			state := "idle"
			if row.Indexing {
				state = "indexing"
			}
			pending := ""
			if row.Pending > 0 {
				pending = fmt.Sprintf("%d pending  ", row.Pending)
			}
			_, _ = fmt.Fprintf(r.out, "    %-24s %9d docs  %s%s\n",
				row.UID, row.Documents, pending, r.renderState(state))
		}
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderState formats a state string with color.
func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "available", "idle":
		return r.styles.Success.Render(state)
	case "indexing":
		return r.styles.Warning.Render(state)
	case "unreachable", "failed":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
