// Package ui renders the live index dashboard for the watch command:
// a full TUI on interactive terminals, plain text on pipes and CI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// IndexRow is one index as shown on the dashboard.
type IndexRow struct {
	UID       string
	Documents int
	Indexing  bool
	Pending   int
	LastState string
}

// Snapshot is one poll of server state. A failed poll carries Err and
// keeps the previous rows on screen.
type Snapshot struct {
	At      time.Time
	Took    time.Duration
	Indexes []IndexRow
	Err     error
}

// TotalPending sums queued work across all indexes.
func (s Snapshot) TotalPending() int {
	total := 0
	for _, row := range s.Indexes {
		total += row.Pending
	}
	return total
}

// TotalDocuments sums document counts across all indexes.
func (s Snapshot) TotalDocuments() int {
	total := 0
	for _, row := range s.Indexes {
		total += row.Documents
	}
	return total
}

// Fetch gathers one snapshot. Implementations put poll failures in
// Snapshot.Err rather than blocking past ctx.
type Fetch func(ctx context.Context) Snapshot

// Renderer runs the dashboard until ctx is cancelled or the user
// quits.
type Renderer interface {
	Run(ctx context.Context) error
}

// Config configures the dashboard.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Interval   time.Duration
	ServerAddr string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithInterval sets the poll interval.
func WithInterval(interval time.Duration) ConfigOption {
	return func(c *Config) {
		c.Interval = interval
	}
}

// WithServerAddr sets the server address shown in the header.
func WithServerAddr(addr string) ConfigOption {
	return func(c *Config) {
		c.ServerAddr = addr
	}
}

// NewConfig creates a Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output:   output,
		Interval: time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the dashboard flavor: a TUI for interactive
// terminals, plain text for pipes, files, and CI environments.
func NewRenderer(cfg Config, fetch Fetch) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainWatcher(cfg, fetch)
	}
	return NewWatchTUI(cfg, fetch)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
