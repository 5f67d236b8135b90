package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// WatchTUI is the interactive dashboard, polling the server on a
// fixed interval and rendering one table row per index.
type WatchTUI struct {
	cfg   Config
	model *watchModel
}

// NewWatchTUI creates the TUI dashboard.
func NewWatchTUI(cfg Config, fetch Fetch) *WatchTUI {
	model := newWatchModel(cfg, fetch)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &WatchTUI{cfg: cfg, model: model}
}

// Run blocks until the user quits or ctx is cancelled.
func (w *WatchTUI) Run(ctx context.Context) error {
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if f, ok := w.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	p := tea.NewProgram(w.model, opts...)
	stop := context.AfterFunc(ctx, p.Quit)
	defer stop()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}

// Message types for bubbletea.
type tickMsg time.Time
type snapshotMsg Snapshot

// watchModel is the bubbletea model behind the dashboard.
type watchModel struct {
	fetch      Fetch
	interval   time.Duration
	serverAddr string
	styles     Styles
	spinner    spinner.Model
	spark      *Sparkline
	snap       Snapshot
	haveSnap   bool
	fetching   bool
	width      int
	quitting   bool
}

func newWatchModel(cfg Config, fetch Fetch) *watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTeal))

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	return &watchModel{
		fetch:      fetch,
		interval:   interval,
		serverAddr: cfg.ServerAddr,
		styles:     DefaultStyles(),
		spinner:    s,
		spark:      NewSparkline(48),
		width:      80,
	}
}

// Init implements tea.Model.
func (m *watchModel) Init() tea.Cmd {
	m.fetching = true
	return tea.Batch(m.spinner.Tick, m.fetchCmd(), tickCmd(m.interval))
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd polls the server off the update loop. The timeout floors at
// the poll interval so a slow server cannot stack requests.
func (m *watchModel) fetchCmd() tea.Cmd {
	fetch := m.fetch
	timeout := 5 * time.Second
	if m.interval > timeout {
		timeout = m.interval
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return snapshotMsg(fetch(ctx))
	}
}

// Update implements tea.Model.
func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if !m.fetching {
				m.fetching = true
				return m, m.fetchCmd()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(m.interval)}
		if !m.fetching {
			m.fetching = true
			cmds = append(cmds, m.fetchCmd())
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.fetching = false
		snap := Snapshot(msg)
		if snap.Err != nil {
			// Keep the last good rows on screen under the error.
			m.snap.Err = snap.Err
			m.snap.At = snap.At
			m.snap.Took = snap.Took
			return m, nil
		}
		m.snap = snap
		m.haveSnap = true
		m.spark.Add(float64(snap.TotalPending()))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *watchModel) View() string {
	if m.quitting {
		return ""
	}

	contentWidth := m.width - 4
	if contentWidth < 52 {
		contentWidth = 52
	}

	var sections []string
	sections = append(sections, m.renderTable())
	sections = append(sections, m.styles.Border.Render(strings.Repeat("─", contentWidth)))
	sections = append(sections, m.renderSparkline())
	sections = append(sections, m.renderPollLine())
	content := strings.Join(sections, "\n")

	title := m.styles.Header.Render("stela watch")
	if m.serverAddr != "" {
		title += m.styles.Dim.Render(" • " + m.serverAddr)
	}

	panel := m.styles.Panel.Width(contentWidth).Render(content)
	statusBar := m.styles.Dim.Render("q to quit  •  r to refresh")

	return lipgloss.JoinVertical(lipgloss.Left, title, panel, statusBar)
}

func (m *watchModel) renderTable() string {
	header := m.styles.Label.Render(fmt.Sprintf("%-24s %12s %10s  %s",
		"INDEX", "DOCUMENTS", "PENDING", "STATE"))

	if !m.haveSnap {
		return header + "\n" + m.spinner.View() + m.styles.Dim.Render(" connecting...")
	}
	if len(m.snap.Indexes) == 0 {
		return header + "\n" + m.styles.Dim.Render("no indexes yet")
	}

	lines := []string{header}
	for _, row := range m.snap.Indexes {
		lines = append(lines, m.renderRow(row))
	}
	return strings.Join(lines, "\n")
}

func (m *watchModel) renderRow(row IndexRow) string {
	left := fmt.Sprintf("%-24s %12d ", truncateUID(row.UID, 24), row.Documents)

	pending := fmt.Sprintf("%10d", row.Pending)
	if row.Pending > 0 {
		pending = m.styles.Warning.Render(pending)
	}

	var state string
	switch {
	case row.Indexing:
		state = m.spinner.View() + m.styles.Active.Render(" indexing")
	case row.LastState == "failed":
		state = m.styles.Error.Render("✗ failed")
	default:
		state = m.styles.Success.Render("● idle")
	}

	return left + pending + "  " + state
}

func (m *watchModel) renderSparkline() string {
	return m.styles.Sparkline.Render(m.spark.Render()) +
		" " + m.styles.Dim.Render("pending ─")
}

func (m *watchModel) renderPollLine() string {
	if m.snap.Err != nil {
		return m.styles.Error.Render("cannot reach server: " + m.snap.Err.Error())
	}
	if !m.haveSnap {
		return m.styles.Dim.Render("waiting for first poll")
	}
	return m.styles.Dim.Render(fmt.Sprintf("last poll %s in %s",
		m.snap.At.Format("15:04:05"), m.snap.Took.Round(time.Millisecond)))
}

func truncateUID(uid string, maxLen int) string {
	if len(uid) <= maxLen {
		return uid
	}
	if maxLen < 4 {
		return uid[:maxLen]
	}
	return uid[:maxLen-3] + "..."
}

// Ensure WatchTUI implements Renderer.
var _ Renderer = (*WatchTUI)(nil)
var _ Renderer = (*PlainWatcher)(nil)
