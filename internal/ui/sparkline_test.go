package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSparkline_ClampsWidth(t *testing.T) {
	// Given: a non-positive width
	s := NewSparkline(0)

	// Then: falls back to the default width
	assert.Equal(t, 60, s.Width())
}

func TestSparkline_EmptyRendersBlank(t *testing.T) {
	// Given: a sparkline with no samples
	s := NewSparkline(4)

	// When: rendering
	out := s.Render()

	// Then: all slots are spaces
	assert.Equal(t, "    ", out)
}

func TestSparkline_GrowsFromTheLeft(t *testing.T) {
	// Given: one sample in a width-4 sparkline
	s := NewSparkline(4)
	s.Add(1)

	// When: rendering
	out := s.Render()

	// Then: the sample fills the first slot, the rest stay blank
	assert.Equal(t, "█   ", out)
}

func TestSparkline_ScalesToBufferMax(t *testing.T) {
	// Given: a full buffer of rising values
	s := NewSparkline(4)
	s.Add(1)
	s.Add(2)
	s.Add(4)
	s.Add(8)

	// When: rendering
	out := s.Render()

	// Then: bars scale against the buffer maximum
	assert.Equal(t, "▁▂▄█", out)
}

func TestSparkline_AllZeroesRendersBottomRow(t *testing.T) {
	// Given: only zero samples
	s := NewSparkline(4)
	s.Add(0)
	s.Add(0)

	// When: rendering
	out := s.Render()

	// Then: zeroes draw the lowest bar, not blanks
	assert.Equal(t, "▁▁  ", out)
}

func TestSparkline_EvictsOldestWhenFull(t *testing.T) {
	// Given: a full buffer
	s := NewSparkline(4)
	s.Add(1)
	s.Add(2)
	s.Add(4)
	s.Add(8)

	// When: one more sample arrives
	s.Add(8)

	// Then: the oldest sample is gone and order is preserved
	assert.Equal(t, "▂▄██", s.Render())
}

func TestSparkline_NegativeSamplesClampToZero(t *testing.T) {
	// Given: a negative sample
	s := NewSparkline(4)
	s.Add(-5)

	// Then: it renders like zero
	assert.Equal(t, "▁   ", s.Render())
}

func TestSparkline_RenderWidthIsStable(t *testing.T) {
	// Given: a sparkline in various fill states
	s := NewSparkline(8)
	for i := 0; i < 20; i++ {
		assert.Len(t, []rune(s.Render()), 8)
		s.Add(float64(i))
	}
}
