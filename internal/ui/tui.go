package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *ingestModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails for non-TTY output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIngestModel(tracker, cfg.Source)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Update(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Complete()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()
		// an unresponsive program must not hang Ctrl+C
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// ingestModel is the bubbletea model for ingest progress.
type ingestModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	source      string
}

func newIngestModel(tracker *ProgressTracker, source string) *ingestModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &ingestModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		source:      source,
	}
}

// Init implements tea.Model.
func (m *ingestModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-20, 20)

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// progressUpdateMsg and errorMsg are already applied to the tracker;
	// receiving them only triggers a redraw.
	return m, nil
}

// View implements tea.Model.
func (m *ingestModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := max(m.width-4, 40)
	divider := m.styles.Border.Render(strings.Repeat("─", contentWidth))

	sections := []string{
		m.renderStages(),
		divider,
		m.renderProgress(),
		m.renderSpeed(),
		divider,
		m.styles.Sparkline.Render(m.tracker.RenderSparkline(max(contentWidth-14, 10))) +
			" " + m.styles.Dim.Render("chunks/sec"),
	}
	if doc := m.tracker.Stats().Document; doc != "" {
		sections = append(sections, divider, m.styles.Dim.Render(truncateMiddle(doc, contentWidth-2)))
	}

	title := "amanrag ingest"
	if m.source != "" {
		title = fmt.Sprintf("amanrag ingest • %s", m.source)
	}
	panel := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		m.styles.Panel.Width(contentWidth).Render(strings.Join(sections, "\n")),
	)
	return panel + "\n" + m.renderStatusBar()
}

// renderStages renders the pipeline stage indicators.
func (m *ingestModel) renderStages() string {
	current := m.tracker.Stats().Stage

	stages := []struct {
		stage Stage
		name  string
	}{
		{StageChunking, "Chunk"},
		{StageEmbedding, "Embed"},
		{StageStoring, "Store"},
	}

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s.stage < current:
			parts = append(parts, m.styles.Success.Render("● "+s.name))
		case s.stage == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.name))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.name))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

// renderProgress renders the chunk progress of the current document.
func (m *ingestModel) renderProgress() string {
	stats := m.tracker.Stats()
	docs := m.styles.Label.Render(fmt.Sprintf("%d documents ingested", stats.Done))

	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...\n%s", m.spinner.View(), stats.Stage, docs)
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d chunks", stats.Current, stats.Total))
	return fmt.Sprintf("%s  %s\n%s  %s", bar, pct, count, docs)
}

func (m *ingestModel) renderSpeed() string {
	stats := m.tracker.Stats()
	speed := fmt.Sprintf("Speed: %.0f chunks/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	elapsed := fmt.Sprintf("Elapsed: %s", formatDuration(stats.Elapsed))
	return m.styles.Label.Render(speed) + m.styles.Dim.Render("  •  ") + m.styles.Label.Render(elapsed)
}

func (m *ingestModel) renderStatusBar() string {
	stats := m.tracker.Stats()
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *ingestModel) renderComplete() string {
	label := m.styles.Label.Render
	value := func(v string) string { return m.styles.Active.Render(v) }

	lines := []string{
		m.styles.Success.Render("✓ Ingest Complete"),
		"",
		fmt.Sprintf("%s %s", label("Documents:"), value(fmt.Sprintf("%d", m.stats.Documents))),
		fmt.Sprintf("%s    %s", label("Chunks:"), value(fmt.Sprintf("%d", m.stats.Chunks))),
		fmt.Sprintf("%s  %s", label("Duration:"), value(formatDuration(m.stats.Duration))),
	}
	if m.stats.Embedder.Model != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Embedder:"),
			fmt.Sprintf("%s (%d dims)", m.stats.Embedder.Model, m.stats.Embedder.Dimensions)))
	}
	if m.stats.Errors > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
	}
	if m.stats.Skipped > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d skipped", m.stats.Skipped)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(max(m.width-4, 40))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncateMiddle shortens s to maxLen runes, keeping both ends.
func truncateMiddle(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	head := (maxLen - 3) / 2
	tail := maxLen - 3 - head
	return string(r[:head]) + "..." + string(r[len(r)-tail:])
}

var _ Renderer = (*TUIRenderer)(nil)
