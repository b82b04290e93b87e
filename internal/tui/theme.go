package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/barnacles-webhook/internal/events"
)

// Delivery states tracked by the monitor.
const (
	stateSent      = "sent"
	stateCompleted = "completed"
	stateFailed    = "failed"
)

// Theme holds the monitor's styles, one per delivery state plus the chrome.
type Theme struct {
	Sent      lipgloss.Style
	Completed lipgloss.Style
	Failed    lipgloss.Style
	Dropped   lipgloss.Style

	Panel   lipgloss.Style
	Heading lipgloss.Style
	Muted   lipgloss.Style
}

// NewDefaultTheme returns a palette that reads on both light and dark terminals.
func NewDefaultTheme() Theme {
	return Theme{
		Sent:      lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}),
		Completed: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}),
		Failed:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}),
		Dropped:   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#8C959F", Dark: "#30363D"}),
		Heading: lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#24292F", Dark: "#C9D1D9"}).
			Padding(0, 1),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}),
	}
}

// Marker renders the table glyph for a delivery state.
func (t Theme) Marker(state string) string {
	switch state {
	case stateCompleted:
		return t.Completed.Render("✓")
	case stateFailed:
		return t.Failed.Render("✗")
	default:
		return t.Sent.Render("→")
	}
}

// EventStyle picks the style for a hub event by the state it reports.
func (t Theme) EventStyle(typ string) lipgloss.Style {
	switch typ {
	case events.TypeDeliverySent:
		return t.Sent
	case events.TypeDeliveryCompleted:
		return t.Completed
	case events.TypeDeliveryFailed:
		return t.Failed
	case events.TypeEventDropped:
		return t.Dropped
	default:
		return t.Muted
	}
}
