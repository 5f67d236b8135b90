package ui

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFetch(ctx context.Context) Snapshot {
	return Snapshot{At: time.Now()}
}

func TestSnapshot_Totals(t *testing.T) {
	// Given: a snapshot with two indexes
	snap := Snapshot{
		Indexes: []IndexRow{
			{UID: "movies", Documents: 1500, Pending: 3},
			{UID: "albums", Documents: 12, Pending: 0},
		},
	}

	// Then: totals sum across rows
	assert.Equal(t, 3, snap.TotalPending())
	assert.Equal(t, 1512, snap.TotalDocuments())
}

func TestSnapshot_TotalsEmpty(t *testing.T) {
	// Given: an empty snapshot
	snap := Snapshot{}

	// Then: totals are zero
	assert.Equal(t, 0, snap.TotalPending())
	assert.Equal(t, 0, snap.TotalDocuments())
}

func TestIsTTY_WithBuffer_ReturnsFalse(t *testing.T) {
	// Given: a bytes.Buffer (not a TTY)
	buf := &bytes.Buffer{}

	// When: checking if it's a TTY
	result := IsTTY(buf)

	// Then: returns false
	assert.False(t, result)
}

func TestIsTTY_WithNil_ReturnsFalse(t *testing.T) {
	// Given: nil writer
	// When: checking if it's a TTY
	result := IsTTY(nil)

	// Then: returns false
	assert.False(t, result)
}

func TestNewConfig_Defaults(t *testing.T) {
	// Given: default config
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf)

	// Then: has sensible defaults
	assert.NotNil(t, cfg.Output)
	assert.False(t, cfg.ForcePlain)
	assert.False(t, cfg.NoColor)
	assert.Equal(t, time.Second, cfg.Interval)
}

func TestNewConfig_WithOptions(t *testing.T) {
	// Given: config with options
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf,
		WithForcePlain(true),
		WithNoColor(true),
		WithInterval(250*time.Millisecond),
		WithServerAddr("127.0.0.1:7700"),
	)

	// Then: options are applied
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, "127.0.0.1:7700", cfg.ServerAddr)
}

func TestNewRenderer_ForcePlain_ReturnsPlainWatcher(t *testing.T) {
	// Given: config with ForcePlain
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf, WithForcePlain(true))

	// When: creating renderer
	r := NewRenderer(cfg, noopFetch)

	// Then: returns PlainWatcher
	_, ok := r.(*PlainWatcher)
	require.True(t, ok, "expected PlainWatcher")
}

func TestNewRenderer_NonTTY_ReturnsPlainWatcher(t *testing.T) {
	// Given: non-TTY output (buffer)
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf)

	// When: creating renderer
	r := NewRenderer(cfg, noopFetch)

	// Then: returns PlainWatcher (since buffer is not a TTY)
	_, ok := r.(*PlainWatcher)
	require.True(t, ok, "expected PlainWatcher for non-TTY")
}

func TestDetectNoColor_WithEnv(t *testing.T) {
	// Given: NO_COLOR environment variable set
	_ = os.Setenv("NO_COLOR", "1")
	defer func() { _ = os.Unsetenv("NO_COLOR") }()

	// When: detecting no color
	result := DetectNoColor()

	// Then: returns true
	assert.True(t, result)
}

func TestDetectNoColor_WithoutEnv(t *testing.T) {
	// Given: NO_COLOR environment variable not set
	_ = os.Unsetenv("NO_COLOR")

	// When: detecting no color
	result := DetectNoColor()

	// Then: returns false
	assert.False(t, result)
}

func TestDetectCI_WithEnv(t *testing.T) {
	// Given: CI environment variable set
	_ = os.Setenv("CI", "true")
	defer func() { _ = os.Unsetenv("CI") }()

	// When: detecting CI
	result := DetectCI()

	// Then: returns true
	assert.True(t, result)
}

func TestDetectCI_WithoutEnv(t *testing.T) {
	// Given: no CI environment variables set
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		_ = os.Unsetenv(v)
	}

	// When: detecting CI
	result := DetectCI()

	// Then: returns false
	assert.False(t, result)
}
