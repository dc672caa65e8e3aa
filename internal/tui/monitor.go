// Package tui renders a live dashboard for a sync run: phase, table and
// row progress up top, the log stream in a scrollable pane below. The
// Monitor type plugs into the orchestrator as a progress.Reporter.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/saadactin/Nitin-sir/internal/progress"
)

// Monitor owns the dashboard program for one run. While it is open, log
// output is redirected into the dashboard's log pane; Stop restores it.
type Monitor struct {
	prog       *tea.Program
	pipeR      *os.File
	pipeW      *os.File
	readerDone chan struct{}
	progDone   chan error
	stopOnce   sync.Once
	stopErr    error
}

// NewMonitor starts the dashboard. title is shown in the header; cancel
// is invoked when the user requests cancellation with ctrl+c or q.
// The caller must call Stop (or Close) when the run ends.
func NewMonitor(title string, cancel context.CancelFunc) *Monitor {
	m := &Monitor{
		readerDone: make(chan struct{}),
		progDone:   make(chan error, 1),
	}
	m.prog = tea.NewProgram(newModel(title, cancel), tea.WithAltScreen(), tea.WithMouseCellMotion())

	r, w, err := os.Pipe()
	if err == nil {
		m.pipeR, m.pipeW = r, w
		logging.SetOutput(w)
		go m.forwardLogs()
	} else {
		close(m.readerDone)
	}

	go func() {
		_, err := m.prog.Run()
		m.progDone <- err
	}()
	return m
}

// forwardLogs pumps redirected log output into the dashboard.
func (m *Monitor) forwardLogs() {
	defer close(m.readerDone)
	buf := make([]byte, 4096)
	for {
		n, err := m.pipeR.Read(buf)
		if n > 0 {
			m.prog.Send(logMsg(string(buf[:n])))
		}
		if err != nil {
			return
		}
	}
}

// Report forwards a progress update to the dashboard.
func (m *Monitor) Report(u progress.Update) {
	m.prog.Send(updateMsg(u))
}

// ReportImmediate forwards a phase transition to the dashboard.
func (m *Monitor) ReportImmediate(u progress.Update) {
	m.prog.Send(updateMsg(u))
}

// Close satisfies progress.Reporter. Use Stop when the shutdown error
// matters.
func (m *Monitor) Close() {
	_ = m.Stop()
}

// Stop restores log output, shuts the dashboard down and waits for the
// terminal to be released. Safe to call more than once.
func (m *Monitor) Stop() error {
	m.stopOnce.Do(func() {
		logging.SetOutput(os.Stdout)
		if m.pipeW != nil {
			m.pipeW.Close()
		}
		<-m.readerDone
		m.prog.Send(runDoneMsg{})
		m.stopErr = <-m.progDone
		if m.pipeR != nil {
			m.pipeR.Close()
		}
	})
	return m.stopErr
}

type updateMsg progress.Update

type logMsg string

type runDoneMsg struct{}

type tickMsg time.Time

// model is the bubbletea model behind the dashboard.
type model struct {
	title  string
	cancel context.CancelFunc

	spin   spinner.Model
	vp     viewport.Model
	ready  bool
	width  int
	height int

	cur       progress.Update
	startedAt time.Time

	logBuf  string
	lineBuf string
	follow  bool

	cancelling bool
	done       bool
}

func newModel(title string, cancel context.CancelFunc) model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = stylePhase
	return model{
		title:     title,
		cancel:    cancel,
		spin:      sp,
		startedAt: time.Now(),
		follow:    true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// chromeHeight is the number of screen rows around the log viewport:
// header, stats, bar, active tables, footer, plus the pane border.
const chromeHeight = 7

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.done || m.cancelling {
				// Second press abandons the dashboard; the run keeps
				// winding down on the cancelled context.
				return m, tea.Quit
			}
			m.cancelling = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		case "up":
			m.vp.LineUp(1)
			m.follow = false
		case "down":
			m.vp.LineDown(1)
			if m.vp.AtBottom() {
				m.follow = true
			}
		case "pgup":
			m.vp.LineUp(m.vp.Height / 2)
			m.follow = false
		case "pgdown":
			m.vp.LineDown(m.vp.Height / 2)
			if m.vp.AtBottom() {
				m.follow = true
			}
		case "home":
			m.vp.GotoTop()
			m.follow = false
		case "end":
			m.vp.GotoBottom()
			m.follow = true
		}
		return m, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		m.follow = m.vp.AtBottom()
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - chromeHeight
		if vpHeight < 3 {
			vpHeight = 3
		}
		vpWidth := msg.Width - 6
		if vpWidth < 20 {
			vpWidth = 20
		}
		if !m.ready {
			m.vp = viewport.New(vpWidth, vpHeight)
			m.vp.SetContent(m.logBuf)
			m.ready = true
		} else {
			m.vp.Width = vpWidth
			m.vp.Height = vpHeight
		}
		if m.follow {
			m.vp.GotoBottom()
		}
		return m, nil

	case updateMsg:
		u := progress.Update(msg)
		if u.Phase == "" {
			u.Phase = m.cur.Phase
		}
		m.cur = u
		return m, nil

	case logMsg:
		m.appendLog(string(msg))
		return m, nil

	case runDoneMsg:
		m.done = true
		return m, tea.Quit

	case tickMsg:
		return m, tickEvery()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// appendLog folds a raw chunk of log output into the pane, completing
// lines, collapsing carriage-return rewrites and wrapping to the pane
// width.
func (m *model) appendLog(chunk string) {
	m.lineBuf += chunk

	wrapWidth := m.vp.Width - 2
	if wrapWidth < 20 {
		wrapWidth = 80
	}

	for {
		nl := strings.Index(m.lineBuf, "\n")
		if nl == -1 {
			break
		}
		line := m.lineBuf[:nl]
		m.lineBuf = m.lineBuf[nl+1:]

		if cr := strings.LastIndex(line, "\r"); cr != -1 {
			line = line[cr+1:]
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		style := logLineStyle(line)
		for _, wrapped := range strings.Split(wrapLine(line, wrapWidth), "\n") {
			m.logBuf += style.Render(wrapped) + "\n"
		}
	}

	if m.ready {
		m.vp.SetContent(m.logBuf)
		if m.follow {
			m.vp.GotoBottom()
		}
	}
}

func logLineStyle(line string) lipgloss.Style {
	switch {
	case strings.Contains(line, "[ERROR]"):
		return styleLogError
	case strings.Contains(line, "[WARN]"):
		return styleLogWarn
	default:
		return styleLogLine
	}
}

func (m model) View() string {
	if !m.ready {
		return "\n  Starting monitor..."
	}

	header := styleAppName.Render("syncctl")
	if m.title != "" {
		header = lipgloss.JoinHorizontal(lipgloss.Top, header, styleRunLabel.Render(m.title))
	}

	logPane := styleLogPane.Width(m.vp.Width + 2).Render(m.vp.View())

	return strings.Join([]string{
		m.clip(header),
		m.clip(m.statsLine()),
		m.clip(m.barLine()),
		m.clip(m.activeLine()),
		logPane,
		m.clip(m.footerLine()),
	}, "\n")
}

func (m model) clip(s string) string {
	return lipgloss.NewStyle().MaxWidth(m.width).Render(s)
}

func (m model) statsLine() string {
	u := m.cur
	sep := styleStatLabel.Render("  ·  ")

	phase := stylePhase
	spin := m.spin.View() + " "
	if u.Phase == progress.PhaseComplete {
		phase = stylePhaseDone
		spin = ""
	}

	parts := []string{
		" " + spin + phase.Render(phaseLabel(u.Phase)),
		styleStat.Render(fmt.Sprintf("%d/%d", u.TablesComplete, u.TablesTotal)) + styleStatLabel.Render(" tables"),
	}
	if u.TablesFailed > 0 {
		parts = append(parts, styleStatFailed.Render(fmt.Sprintf("%d failed", u.TablesFailed)))
	}
	parts = append(parts, styleStat.Render(humanCount(u.RowsWritten))+styleStatLabel.Render(" rows"))
	if u.RowsPerSecond > 0 {
		parts = append(parts, styleStat.Render(humanCount(u.RowsPerSecond)+"/s"))
	}
	parts = append(parts, styleStatLabel.Render(formatElapsed(time.Since(m.startedAt))))
	return strings.Join(parts, sep)
}

func (m model) barLine() string {
	width := m.width - 10
	if width < 10 {
		width = 10
	}
	filled := int(m.cur.ProgressPct / 100 * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	bar := styleBarFill.Render(strings.Repeat("█", filled)) +
		styleBarRest.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf(" %s %5.1f%%", bar, m.cur.ProgressPct)
}

func (m model) activeLine() string {
	tables := m.cur.CurrentTables
	if len(tables) == 0 {
		return ""
	}
	const maxShown = 4
	extra := 0
	if len(tables) > maxShown {
		extra = len(tables) - maxShown
		tables = tables[:maxShown]
	}

	var b strings.Builder
	b.WriteString(" ")
	for i, t := range tables {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(styleActiveTable.Render("► " + t))
	}
	if extra > 0 {
		b.WriteString(styleStatLabel.Render(fmt.Sprintf("  +%d more", extra)))
	}
	return b.String()
}

func (m model) footerLine() string {
	if m.cancelling {
		return " " + styleCancelling.Render("Cancelling: tables finish their current batch, then the run stops") +
			styleKeyHint.Render("  ·  press ctrl+c again to leave now")
	}
	return " " + styleKeyHint.Render("ctrl+c cancel run · ↑/↓ pgup/pgdn scroll log · end follow")
}

func phaseLabel(phase string) string {
	switch phase {
	case progress.PhaseDiscover:
		return "discovering"
	case progress.PhaseSync:
		return "syncing"
	case progress.PhaseAudit:
		return "auditing"
	case progress.PhaseComplete:
		return "finished"
	default:
		return "starting"
	}
}

func humanCount(n int64) string {
	switch {
	case n >= 1000000000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1000000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 10000:
		return fmt.Sprintf("%.1fk", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mm := int(d.Minutes()) % 60
	ss := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, mm, ss)
	}
	if mm > 0 {
		return fmt.Sprintf("%dm%02ds", mm, ss)
	}
	return fmt.Sprintf("%ds", ss)
}

// wrapLine wraps a line to fit the pane width, breaking on word
// boundaries where possible.
func wrapLine(line string, width int) string {
	if width <= 0 || len(line) <= width {
		return line
	}

	var result strings.Builder
	current := ""

	for _, word := range splitIntoWords(line) {
		if len(current)+len(word) > width {
			if current != "" {
				result.WriteString(current)
				result.WriteString("\n")
			}
			for len(word) > width {
				result.WriteString(word[:width])
				result.WriteString("\n")
				word = word[width:]
			}
			current = word
		} else {
			current += word
		}
	}

	if current != "" {
		result.WriteString(current)
	}
	return result.String()
}

// splitIntoWords splits text into words while preserving whitespace.
func splitIntoWords(s string) []string {
	var words []string
	var current strings.Builder

	for _, r := range s {
		if unicode.IsSpace(r) {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			words = append(words, string(r))
		} else {
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}
