// Package tui is the live delivery monitor behind "barnacles-webhook watch".
// It follows the ingest server's /events stream and polls /healthz.
package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/barnacles-webhook/internal/events"
)

const (
	maxEventLog   = 50
	maxDeliveries = 200
)

// delivery is the monitor's view of one outbound POST.
type delivery struct {
	id        string
	eventType string
	status    string // sent, completed, failed
	code      string // HTTP status or error code
	target    string
	duration  time.Duration
	seen      time.Time
}

type counters struct {
	sent, completed, failed, dropped int
}

// Model is the bubbletea model for the monitor.
type Model struct {
	baseURL string

	width  int
	height int

	health     healthMsg
	connected  bool
	lastError  string
	totals     counters
	deliveries map[string]*delivery
	eventLog   []events.Event

	table table.Model
	theme Theme

	hubEvents chan events.Event
	lastID    *atomic.Int64
}

// New creates a monitor for the ingest server at baseURL.
func New(baseURL string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Type", Width: 8},
			{Title: "ID", Width: 8},
			{Title: "Result", Width: 14},
			{Title: "Duration", Width: 10},
			{Title: "Target", Width: 22},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		baseURL:    strings.TrimRight(baseURL, "/"),
		deliveries: make(map[string]*delivery),
		table:      t,
		theme:      NewDefaultTheme(),
		hubEvents:  make(chan events.Event, 100),
		lastID:     new(atomic.Int64),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.baseURL, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.baseURL) },
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case eventMsg:
		m.apply(events.Event(msg))
		m.connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = msg
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.baseURL)
		})

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.baseURL, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.baseURL)
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// apply folds one hub event into the monitor state.
func (m *Model) apply(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	switch e.Type {
	case events.TypeEventDropped:
		m.totals.dropped++
		return
	case events.TypeDeliverySent, events.TypeDeliveryCompleted, events.TypeDeliveryFailed:
	default:
		return
	}

	var data events.DeliveryData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.DeliveryID == "" {
		return
	}
	d, ok := m.deliveries[data.DeliveryID]
	if !ok {
		d = &delivery{id: data.DeliveryID, status: stateSent, seen: e.At}
		m.deliveries[data.DeliveryID] = d
	}
	d.eventType = data.EventType

	switch e.Type {
	case events.TypeDeliverySent:
		m.totals.sent++
	case events.TypeDeliveryCompleted:
		m.totals.completed++
		d.status = stateCompleted
		d.code = fmt.Sprintf("HTTP %d", data.StatusCode)
		d.target = data.Target
		d.duration = time.Duration(data.DurationMS) * time.Millisecond
	case events.TypeDeliveryFailed:
		m.totals.failed++
		d.status = stateFailed
		d.code = data.Code
		d.target = data.Target
		d.duration = time.Duration(data.DurationMS) * time.Millisecond
	}

	m.prune()
	m.table.SetRows(m.rows())
}

func (m *Model) prune() {
	if len(m.deliveries) <= maxDeliveries {
		return
	}
	all := m.sorted()
	for _, d := range all[maxDeliveries:] {
		delete(m.deliveries, d.id)
	}
}

// sorted returns deliveries newest first.
func (m *Model) sorted() []*delivery {
	out := make([]*delivery, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].seen.Equal(out[j].seen) {
			return out[i].id > out[j].id
		}
		return out[i].seen.After(out[j].seen)
	})
	return out
}

func (m *Model) rows() []table.Row {
	var rows []table.Row
	for _, d := range m.sorted() {
		id := d.id
		if len(id) > 8 {
			id = id[:8]
		}
		duration := "-"
		if d.duration > 0 {
			duration = d.duration.String()
		}
		rows = append(rows, table.Row{m.theme.Marker(d.status), d.eventType, id, d.code, duration, d.target})
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	deliveries := m.theme.Panel.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Heading.Render("Deliveries"),
			m.table.View(),
		),
	)
	stream := m.theme.Panel.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Heading.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	parts := []string{m.renderHeader(), deliveries, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Muted.Render(" [q] Quit • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	status := m.theme.Completed.Render("CONNECTED")
	if !m.connected {
		status = m.theme.Failed.Render("DISCONNECTED")
	} else if m.health.Status != "" && m.health.Status != "ok" {
		status = m.theme.Failed.Render("DEGRADED")
	}

	items := []string{
		"Status: " + status,
		"Target: " + m.health.Target,
		"Uptime: " + (time.Duration(m.health.UptimeSeconds) * time.Second).String(),
		fmt.Sprintf("Sent %d  OK %d  Failed %d  Dropped %d",
			m.totals.sent, m.totals.completed, m.totals.failed, m.totals.dropped),
	}

	cols := make([]string, len(items))
	w := (m.width - 4) / len(items)
	for i, it := range items {
		cols[i] = lipgloss.NewStyle().Width(w).Render(it)
	}
	return m.theme.Panel.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		typ := m.theme.EventStyle(e.Type).Render(fmt.Sprintf("%-18s", e.Type))
		lines = append(lines, fmt.Sprintf("%s | %s | %s", e.At.Format("15:04:05"), typ, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}
