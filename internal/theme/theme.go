package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// UserLabelStyle marks the user's messages in the transcript.
var UserLabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGreen)

// AssistantLabelStyle marks the agent's messages in the transcript.
var AssistantLabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue)

// ErrorStyle marks local error notices in the transcript.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(ColorRed)

// SourceStyle renders document citations under an assistant reply.
var SourceStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// PanelStyle wraps the confirmation dialog and other overlays.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// StepStyle returns a color-coded style for a plan step's execution
// status as reported on the event stream.
func StepStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch status {
	case "running":
		return base.Foreground(ColorYellow)
	case "completed":
		return base.Foreground(ColorGreen)
	case "error":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}
