package ui

import "strings"

// sparkChars are the block characters for rendering sparklines, eight
// levels from empty to full.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-width ring of samples rendered as a small bar
// chart. The watch dashboard feeds it the pending-update count each
// poll so queue pressure is visible over time.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add records one sample, evicting the oldest when full.
func (s *Sparkline) Add(value float64) {
	if value < 0 {
		value = 0
	}
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Render draws the buffer oldest to newest. Slots no sample has
// reached yet render as spaces so the chart grows from the left.
func (s *Sparkline) Render() string {
	width := len(s.samples)
	if s.count == 0 {
		return strings.Repeat(" ", width)
	}

	// Scale against the current buffer maximum, floored at 1 so an
	// all-zero buffer still renders the bottom row.
	max := 1.0
	for _, v := range s.samples {
		if v > max {
			max = v
		}
	}

	filled := s.count
	if filled > width {
		filled = width
	}
	start := 0
	if s.count >= width {
		start = s.head
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := 0; i < width; i++ {
		if i >= filled {
			sb.WriteRune(' ')
			continue
		}
		value := s.samples[(start+i)%width]
		idx := int(value / max * float64(len(sparkChars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}

// Width returns the number of samples the sparkline holds.
func (s *Sparkline) Width() int {
	return len(s.samples)
}
