package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	progressWidth   = 40
	maxLineBytes    = 1024 * 1024
)

// ErrAborted is returned by Run when the user closes the dashboard before
// the stream ends.
var ErrAborted = errors.New("run monitor closed before the run finished")

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Model is the BubbleTea run dashboard.
type Model struct {
	title    string
	target   int
	interval time.Duration
	source   <-chan tea.Msg
	now      func() time.Time

	stats    *Stats
	done     bool
	aborted  bool
	err      error
	progress progress.Model
}

// Message types
type (
	tickMsg time.Time
	lineMsg string
	doneMsg struct{ err error }
)

// NewModel creates a dashboard fed by source. target is the requested event
// count; zero hides the progress bar.
func NewModel(title string, target int, source <-chan tea.Msg, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		title:    title,
		target:   target,
		interval: interval,
		source:   source,
		now:      time.Now,
		stats:    NewStats(time.Now()),
		progress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(progressWidth),
		),
	}
}

// Stats returns the progress gathered so far.
func (m Model) Stats() *Stats { return m.stats }

// Init starts the refresh ticker and the stream reader.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), next(m.source))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// next waits for the following stream message.
func next(source <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-source
		if !ok {
			return doneMsg{}
		}
		return msg
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done {
				m.aborted = true
			}
			m.stats.Finish(m.now())
			return m, tea.Quit
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.stats.Sample(time.Time(msg))
		return m, tick(m.interval)

	case lineMsg:
		m.stats.Observe(string(msg))
		return m, next(m.source)

	case doneMsg:
		m.done = true
		m.err = msg.err
		now := m.now()
		m.stats.Sample(now)
		m.stats.Finish(now)
		return m, tea.Quit
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	now := m.now()
	var b strings.Builder

	header := headerStyle.Render(" eventforge run ")
	b.WriteString(header + " " + valueStyle.Render(m.title) + "\n")
	b.WriteString(m.statusBadge() + "   " +
		dimStyle.Render("Elapsed:") + " " +
		valueStyle.Render(FormatDuration(m.stats.Elapsed(now))) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Delivery") + "\n")
	events := fmt.Sprintf("%d", m.stats.Events)
	if m.target > 0 {
		events = fmt.Sprintf("%d / %d", m.stats.Events, m.target)
	}
	b.WriteString(labelStyle.Render("  Events: ") + valueStyle.Render(events) + "\n")
	if m.target > 0 {
		ratio := min(float64(m.stats.Events)/float64(m.target), 1.0)
		b.WriteString(labelStyle.Render("  Progress: ") +
			m.progress.ViewAs(ratio) + " " +
			dimStyle.Render(FormatPercentage(ratio)) + "\n")
	}
	b.WriteString(labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.stats.Rate())) +
		"   " + createSparkline(m.stats.RateHistory) + "\n")
	b.WriteString(labelStyle.Render("  Status lines: ") +
		dimStyle.Render("info=") + valueStyle.Render(fmt.Sprintf("%d", m.stats.Infos)) +
		dimStyle.Render("  error=") + errorCount(m.stats.Errors) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Recent") + "\n")
	if len(m.stats.Recent) == 0 {
		b.WriteString(dimStyle.Render("  waiting for output") + "\n")
	}
	for _, line := range m.stats.Recent {
		b.WriteString("  " + styleLine(line) + "\n")
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("Stream error: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" stop  ") +
		footerStyle.Render(fmt.Sprintf("Refresh: %v", m.interval)))

	return containerStyle.Render(b.String())
}

func (m Model) statusBadge() string {
	switch {
	case m.aborted:
		return warningStyle.Render("■ STOPPED")
	case !m.done:
		return healthyStyle.Render("▶ RUNNING")
	case m.err != nil || m.stats.Failed():
		return errorStyle.Render("✗ FAILED")
	default:
		return healthyStyle.Render("✓ COMPLETE")
	}
}

func errorCount(n int) string {
	if n > 0 {
		return errorStyle.Render(fmt.Sprintf("%d", n))
	}
	return valueStyle.Render("0")
}

func styleLine(line string) string {
	switch Classify(line) {
	case KindError:
		return errorStyle.Render(line)
	case KindInfo:
		return labelStyle.Render(line)
	default:
		return dimStyle.Render(line)
	}
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Stream reads newline-delimited progress from r and delivers one message
// per line, then a final message carrying any read error. The channel is
// closed afterwards.
func Stream(r io.Reader) <-chan tea.Msg {
	out := make(chan tea.Msg, 64)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			out <- lineMsg(scanner.Text())
		}
		out <- doneMsg{err: scanner.Err()}
	}()
	return out
}

// Options configures Run.
type Options struct {
	Title    string
	Target   int
	Interval time.Duration
	Input    io.Reader
	Output   io.Writer
}

// Run shows the dashboard until body is exhausted or the user quits, and
// returns what was observed. A stream read error is returned as is; quitting
// early returns ErrAborted.
func Run(ctx context.Context, body io.Reader, opts Options) (*Stats, error) {
	source := Stream(body)
	m := NewModel(opts.Title, opts.Target, source, opts.Interval)

	popts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		popts = append(popts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		popts = append(popts, tea.WithOutput(opts.Output))
	}

	final, err := tea.NewProgram(m, popts...).Run()
	// Keep the reader unblocked until the caller closes body.
	go func() {
		for range source {
		}
	}()
	if err != nil {
		return m.stats, fmt.Errorf("run monitor: %w", err)
	}
	fm := final.(Model)
	if fm.aborted {
		return fm.stats, ErrAborted
	}
	if fm.err != nil {
		return fm.stats, fmt.Errorf("stream interrupted: %w", fm.err)
	}
	return fm.stats, nil
}

// Summary is a one-line plain-text report of a finished run.
func Summary(s *Stats) string {
	status := "complete"
	if s.Failed() {
		status = "failed"
	}
	return fmt.Sprintf("run %s: %d events in %s (%d info, %d error lines)",
		status, s.Events, FormatDuration(s.Elapsed(time.Now())), s.Infos, s.Errors)
}
