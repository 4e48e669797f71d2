package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-flowroute/pkg/sink"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00AFFF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#005FAF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00AFFF"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	overviewView view = iota
	segmentsView
	viewCount
)

type keyMap struct {
	Tab   key.Binding
	Pause key.Binding
	Quit  key.Binding
	Up    key.Binding
	Down  key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Pause, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Pause},
		{k.Up, k.Down},
		{k.Quit},
	}
}

// frameMsg carries one received frame, or a receive error.
type frameMsg struct {
	frame *sink.Frame
	err   error
}

// closedMsg reports that the subscriber stopped.
type closedMsg struct{}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForFrame(frames <-chan frameMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-frames
		if !ok {
			return closedMsg{}
		}
		return msg
	}
}

type model struct {
	addr        string
	frames      <-chan frameMsg
	currentView view
	segTable    table.Model
	help        help.Model
	keys        keyMap
	width       int
	height      int

	last      *sink.Frame
	received  int
	lastSeen  time.Time
	trend     []float64
	maxTrend  int
	paused    bool
	closed    bool
	message   string
	startTime time.Time
}

func initialModel(addr string, frames <-chan frameMsg, history int) model {
	columns := []table.Column{
		{Title: "Segment", Width: 10},
		{Title: "Inflow", Width: 12},
		{Title: "Outflow", Width: 12},
		{Title: "Depth", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#005FAF")).
		Bold(false)
	t.SetStyles(s)

	if history < 2 {
		history = 2
	}
	return model{
		addr:        addr,
		frames:      frames,
		currentView: overviewView,
		segTable:    t,
		help:        help.New(),
		keys:        keys,
		maxTrend:    history,
		startTime:   time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForFrame(m.frames), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tickCmd()

	case closedMsg:
		m.closed = true
		return m, nil

	case frameMsg:
		if msg.err != nil {
			m.message = msg.err.Error()
		} else if !m.paused {
			m.apply(msg.frame)
		}
		return m, waitForFrame(m.frames)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % viewCount
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		}
	}

	if m.currentView == segmentsView {
		var cmd tea.Cmd
		m.segTable, cmd = m.segTable.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// apply records a frame. A frame from a new run resets the trend.
func (m *model) apply(f *sink.Frame) {
	if m.last != nil && m.last.RunID != f.RunID {
		m.trend = m.trend[:0]
		m.received = 0
	}
	m.last = f
	m.received++
	m.lastSeen = time.Now()
	m.message = ""

	m.trend = append(m.trend, f.TotalOutflow)
	if over := len(m.trend) - m.maxTrend; over > 0 {
		m.trend = append(m.trend[:0], m.trend[over:]...)
	}
	m.segTable.SetRows(segmentRows(f.Segments))
}

// segmentRows sorts by outflow, largest first.
func segmentRows(records []sink.Record) []table.Row {
	sorted := append([]sink.Record(nil), records...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Outflow > sorted[b].Outflow })

	rows := make([]table.Row, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, table.Row{
			strconv.FormatInt(r.ID, 10),
			fmt.Sprintf("%.3f", r.Inflow),
			fmt.Sprintf("%.3f", r.Outflow),
			fmt.Sprintf("%.3f", r.Depth),
		})
	}
	return rows
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("flowroute - " + m.addr))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case overviewView:
		s.WriteString(m.renderOverview())
	case segmentsView:
		s.WriteString(m.renderSegments())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("✗ " + m.message))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func (m model) renderTabs() string {
	tabs := []string{"Overview", "Segments"}
	rendered := make([]string, 0, len(tabs))
	for i, tab := range tabs {
		if view(i) == m.currentView {
			rendered = append(rendered, activeTabStyle.Render(tab))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) status() string {
	switch {
	case m.closed:
		return "disconnected"
	case m.paused:
		return "paused"
	case m.last == nil:
		return "waiting for first step"
	case m.last.Horizon > 0 && m.last.Step >= m.last.Horizon:
		return "complete"
	default:
		return "running"
	}
}

func (m model) renderOverview() string {
	if m.last == nil {
		return contentStyle.Render(fmt.Sprintf("Status: %s\nWaited %s",
			m.status(), time.Since(m.startTime).Round(time.Second)))
	}
	f := m.last

	run := fmt.Sprintf(`Run
───────────────
ID:         %s
Status:     %s
Step:       %s
Model time: %s
Received:   %d frames
Last frame: %s ago`,
		f.RunID,
		m.status(),
		stepText(f),
		f.Time.UTC().Format(time.RFC3339),
		m.received,
		time.Since(m.lastSeen).Round(time.Second),
	)

	flow := fmt.Sprintf(`Total outflow
───────────────
Now:  %.3f m3/s
Peak: %.3f m3/s

%s`,
		f.TotalOutflow,
		peak(m.trend),
		sparkline(m.trend),
	)

	var s strings.Builder
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statsBoxStyle.Render(run), statsBoxStyle.Render(flow)))
	if f.Horizon > 0 {
		s.WriteString("\n\n")
		s.WriteString(progressBar(f.Step, f.Horizon, 40))
	}
	return contentStyle.Render(s.String())
}

func (m model) renderSegments() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Segments by outflow"))
	s.WriteString("\n\n")
	s.WriteString(m.segTable.View())
	return contentStyle.Render(s.String())
}

func stepText(f *sink.Frame) string {
	if f.Horizon > 0 {
		return fmt.Sprintf("%d / %d", f.Step, f.Horizon)
	}
	return strconv.Itoa(f.Step)
}

func peak(values []float64) float64 {
	var p float64
	for _, v := range values {
		p = max(p, v)
	}
	return p
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline scales values between their minimum and maximum.
func sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	out := make([]rune, len(values))
	for i, v := range values {
		k := 0
		if hi > lo {
			k = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		out[i] = sparkRunes[k]
	}
	return barStyle.Render(string(out))
}

func progressBar(step, horizon, width int) string {
	frac := float64(step) / float64(horizon)
	frac = min(max(frac, 0), 1)
	filled := int(frac * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return barStyle.Render(bar) + fmt.Sprintf(" %3.0f%%", frac*100)
}
