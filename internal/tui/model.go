// Package tui provides the interactive dispatch dashboard.
package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/hylla/podtrack/internal/adapters/render/markdown"
	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/report"
)

// Service is the read side of the app service the dashboard needs.
type Service interface {
	Dashboard(context.Context) ([]app.DashboardRow, error)
	RenderReport(context.Context, string, io.Writer, report.Renderer, report.PageBreakFunc) error
}

// viewMode represents the active screen.
type viewMode int

const (
	modeDashboard viewMode = iota
	modeReport
)

// chrome lines reserved above and below scrolling content.
const (
	headerLines = 2
	footerLines = 2
)

// Model is the bubbletea model for the dashboard.
type Model struct {
	svc      Service
	renderer report.Renderer
	copyText ClipboardFunc
	loc      *time.Location

	ready  bool
	width  int
	height int
	err    error
	status string

	help help.Model
	keys keyMap

	rows     []app.DashboardRow
	selected int

	mode         viewMode
	reportID     string
	reportSource string
	reportOffset int
	md           *markdownRenderer
}

// loadedMsg carries dashboard rows.
type loadedMsg struct {
	rows []app.DashboardRow
	err  error
}

// reportLoadedMsg carries one rendered markdown report.
type reportLoadedMsg struct {
	loadsheetID string
	markdown    string
	err         error
}

// copiedMsg reports the clipboard result.
type copiedMsg struct {
	loadsheetID string
	err         error
}

// NewModel constructs a dashboard model.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:      svc,
		renderer: markdown.New(0, nil),
		copyText: defaultClipboard,
		loc:      time.Local,
		status:   "loading...",
		help:     h,
		keys:     newKeyMap(),
		md:       &markdownRenderer{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init handles init.
func (m Model) Init() tea.Cmd {
	return m.loadData
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.rows = msg.rows
		m.selected = clamp(m.selected, 0, len(m.rows)-1)
		m.status = loadsheetCountStatus(len(m.rows))
		return m, nil

	case reportLoadedMsg:
		if msg.err != nil {
			m.status = "report failed: " + msg.err.Error()
			return m, nil
		}
		if m.mode != modeReport || m.reportID != msg.loadsheetID {
			m.reportOffset = 0
		}
		m.mode = modeReport
		m.reportID = msg.loadsheetID
		m.reportSource = msg.markdown
		m.status = "report " + msg.loadsheetID
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
			return m, nil
		}
		m.status = "copied report " + msg.loadsheetID
		return m, nil

	case tea.KeyPressMsg:
		if m.mode == modeReport {
			return m.handleReportKey(msg)
		}
		return m.handleDashboardKey(msg)

	default:
		return m, nil
	}
}

// handleDashboardKey handles keys on the loadsheet list.
func (m Model) handleDashboardKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		return m, m.loadData
	case key.Matches(msg, m.keys.moveUp):
		m.selected = clamp(m.selected-1, 0, len(m.rows)-1)
		return m, nil
	case key.Matches(msg, m.keys.moveDown):
		m.selected = clamp(m.selected+1, 0, len(m.rows)-1)
		return m, nil
	case key.Matches(msg, m.keys.openReport):
		id, ok := m.selectedLoadsheetID()
		if !ok {
			return m, nil
		}
		m.status = "loading report..."
		return m, m.loadReport(id)
	case key.Matches(msg, m.keys.copyReport):
		id, ok := m.selectedLoadsheetID()
		if !ok {
			return m, nil
		}
		return m, m.copyReportCmd(id, "")
	default:
		return m, nil
	}
}

// handleReportKey handles keys while a report is open.
func (m Model) handleReportKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.back):
		m.mode = modeDashboard
		m.status = loadsheetCountStatus(len(m.rows))
		return m, nil
	case key.Matches(msg, m.keys.reload):
		return m, m.loadReport(m.reportID)
	case key.Matches(msg, m.keys.copyReport):
		return m, m.copyReportCmd(m.reportID, m.reportSource)
	case key.Matches(msg, m.keys.moveUp):
		m.reportOffset = max(0, m.reportOffset-1)
		return m, nil
	case key.Matches(msg, m.keys.moveDown):
		m.reportOffset++
		return m, nil
	case key.Matches(msg, m.keys.pageUp):
		m.reportOffset = max(0, m.reportOffset-m.bodyHeight())
		return m, nil
	case key.Matches(msg, m.keys.pageDown):
		m.reportOffset += m.bodyHeight()
		return m, nil
	default:
		return m, nil
	}
}

// View handles view.
func (m Model) View() tea.View {
	var content string
	switch {
	case m.err != nil:
		content = "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	case !m.ready:
		content = "loading..."
	case m.mode == modeReport:
		content = m.renderReportView()
	default:
		content = m.renderDashboard()
	}
	v := tea.NewView(content)
	v.AltScreen = true
	return v
}

// loadData loads dashboard rows.
func (m Model) loadData() tea.Msg {
	rows, err := m.svc.Dashboard(context.Background())
	return loadedMsg{rows: rows, err: err}
}

// loadReport renders one loadsheet report to markdown.
func (m Model) loadReport(loadsheetID string) tea.Cmd {
	svc, renderer := m.svc, m.renderer
	return func() tea.Msg {
		src, err := renderMarkdown(svc, renderer, loadsheetID)
		return reportLoadedMsg{loadsheetID: loadsheetID, markdown: src, err: err}
	}
}

// copyReportCmd copies markdown to the clipboard, rendering it first when src is empty.
func (m Model) copyReportCmd(loadsheetID, src string) tea.Cmd {
	svc, renderer, copyText := m.svc, m.renderer, m.copyText
	return func() tea.Msg {
		if src == "" {
			var err error
			src, err = renderMarkdown(svc, renderer, loadsheetID)
			if err != nil {
				return copiedMsg{loadsheetID: loadsheetID, err: err}
			}
		}
		return copiedMsg{loadsheetID: loadsheetID, err: copyText(src)}
	}
}

func renderMarkdown(svc Service, renderer report.Renderer, loadsheetID string) (string, error) {
	var buf bytes.Buffer
	if err := svc.RenderReport(context.Background(), loadsheetID, &buf, renderer, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m Model) selectedLoadsheetID() (string, bool) {
	if len(m.rows) == 0 {
		return "", false
	}
	return m.rows[clamp(m.selected, 0, len(m.rows)-1)].Dispatch.LoadsheetID, true
}

func (m Model) bodyHeight() int {
	return max(1, m.height-headerLines-footerLines)
}

// renderDashboard renders the loadsheet table.
func (m Model) renderDashboard() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	header := titleStyle.Render("podtrack") + "  " + statusStyle.Render(m.status)

	var body string
	if len(m.rows) == 0 {
		body = "\nNo loadsheets yet.\nRecord a dispatch or event to see it here."
	} else {
		body = m.renderTable()
	}
	return m.layout(header, body)
}

func (m Model) renderTable() string {
	accent := lipgloss.Color("62")
	selected := clamp(m.selected, 0, len(m.rows)-1)
	start, end := windowBounds(len(m.rows), selected, max(1, m.bodyHeight()-4))
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("Loadsheet", "Job", "Driver", "Panels", "Events", "Last event", "Travel", "On site", "Back charge").
		StyleFunc(func(row, _ int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return style.Bold(true).Foreground(lipgloss.Color("230"))
			case start+row == selected:
				return style.Bold(true).Foreground(accent)
			default:
				return style
			}
		})
	for _, row := range m.rows[start:end] {
		t.Row(m.rowCells(row)...)
	}
	return t.String()
}

func (m Model) rowCells(row app.DashboardRow) []string {
	d := row.Dispatch
	panels := "-"
	if row.Dispatched {
		panels = strconv.Itoa(d.PanelCount())
	}
	last := "-"
	if n := len(row.Events); n > 0 {
		e := row.Events[n-1]
		last = e.Type.Title() + " " + e.CreatedAt.In(m.loc).Format("02 Jan 15:04")
	}
	travel, onSite, charge := "-", "-", "-"
	if a := row.Analysis; a != nil {
		travel = formatDuration(a.Travel)
		onSite = formatDuration(a.OnSite)
		if a.OnSite != nil {
			charge = fmt.Sprintf("$%.2f", a.BackCharge)
		}
	}
	return []string{
		d.LoadsheetID,
		blank(d.JobID),
		blank(d.Driver),
		panels,
		strconv.Itoa(len(row.Events)),
		last,
		travel,
		onSite,
		charge,
	}
}

// renderReportView renders the open report with scrolling.
func (m Model) renderReportView() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	rendered := m.md.render(m.reportSource, m.width-2)
	lines := strings.Split(rendered, "\n")
	height := m.bodyHeight()
	offset := clamp(m.reportOffset, 0, max(0, len(lines)-height))
	end := min(len(lines), offset+height)

	header := titleStyle.Render("report "+m.reportID) + "  " +
		statusStyle.Render(fmt.Sprintf("%s • lines %d-%d of %d", m.status, offset+1, end, len(lines)))
	return m.layout(header, strings.Join(lines[offset:end], "\n"))
}

// layout places header, body and help footer into the window.
func (m Model) layout(header, body string) string {
	muted := lipgloss.Color("241")
	dim := lipgloss.Color("239")
	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(muted).
		BorderTop(true).
		BorderForeground(dim).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(m.keys))
	content := header + "\n\n" + body
	if m.height > 0 {
		content = fitLines(content, max(0, m.height-lipgloss.Height(helpLine)))
	}
	return content + "\n" + helpLine
}

func loadsheetCountStatus(n int) string {
	if n == 1 {
		return "1 loadsheet"
	}
	return strconv.Itoa(n) + " loadsheets"
}

func formatDuration(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func blank(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// windowBounds returns the visible slice bounds keeping selected in view.
func windowBounds(total, selected, windowSize int) (int, int) {
	if total <= 0 {
		return 0, 0
	}
	if windowSize <= 0 || windowSize >= total {
		return 0, total
	}
	start := selected - windowSize/2
	start = clamp(start, 0, total-windowSize)
	return start, start + windowSize
}

// clamp handles clamp.
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// fitLines pads or truncates content to exactly maxLines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		padding := make([]string, maxLines-len(lines))
		lines = append(lines, padding...)
	}
	return strings.Join(lines, "\n")
}
