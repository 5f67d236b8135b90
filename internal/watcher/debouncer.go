package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces a burst of triggers into one signal, emitted one
// window after the last trigger. Editors saving a config file produce
// several events (write, chmod, rename) in quick succession; the server
// should reload once.
type Debouncer struct {
	window  time.Duration
	out     chan struct{}
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		out:    make(chan struct{}, 1),
	}
}

// Trigger records an event. The signal fires once the window elapses
// with no further triggers.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	// Non-blocking: a signal already waiting covers this burst too.
	select {
	case d.out <- struct{}{}:
	default:
	}
}

// C returns the signal channel.
func (d *Debouncer) C() <-chan struct{} {
	return d.out
}

// Stop cancels any pending signal. Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
