package ui

import (
	"context"
	"fmt"
	"io"
	"time"
)

// PlainWatcher prints one snapshot per poll as plain text, for pipes
// and CI where a TUI would write control sequences into a log.
type PlainWatcher struct {
	out      io.Writer
	fetch    Fetch
	interval time.Duration
}

// NewPlainWatcher creates the plain dashboard.
func NewPlainWatcher(cfg Config, fetch Fetch) *PlainWatcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &PlainWatcher{
		out:      cfg.Output,
		fetch:    fetch,
		interval: interval,
	}
}

// Run polls until ctx is cancelled.
func (w *PlainWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.emit(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.emit(ctx)
		}
	}
}

func (w *PlainWatcher) emit(ctx context.Context) {
	snap := w.fetch(ctx)
	if snap.Err != nil {
		_, _ = fmt.Fprintf(w.out, "ERROR: %v\n", snap.Err)
		return
	}

	_, _ = fmt.Fprintf(w.out, "indexes=%d documents=%d pending=%d\n",
		len(snap.Indexes), snap.TotalDocuments(), snap.TotalPending())
	for _, row := range snap.Indexes {
		state := "idle"
		if row.Indexing {
			state = "indexing"
		}
		_, _ = fmt.Fprintf(w.out, "  [%s] documents=%d pending=%d state=%s",
			row.UID, row.Documents, row.Pending, state)
		if row.LastState != "" {
			_, _ = fmt.Fprintf(w.out, " last=%s", row.LastState)
		}
		_, _ = fmt.Fprintln(w.out)
	}
}
