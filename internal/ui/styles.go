package ui

import "github.com/charmbracelet/lipgloss"

// Color palette: a single lime accent on grays.
const (
	ColorLime     = "154" // accent
	ColorLimeDim  = "106" // inactive, borders
	ColorWhite    = "255"
	ColorGray     = "245" // labels
	ColorDarkGray = "238" // separators
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds every style the renderers use.
type Styles struct {
	Header    lipgloss.Style
	Title     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Dim       lipgloss.Style
	Active    lipgloss.Style
	Label     lipgloss.Style
	Score     lipgloss.Style
	Highlight lipgloss.Style
	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Active:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Score:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Highlight: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Border:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Sparkline: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:    plain,
		Title:     plain,
		Success:   plain,
		Warning:   plain,
		Error:     plain,
		Dim:       plain,
		Active:    plain,
		Label:     plain,
		Score:     plain,
		Highlight: plain,
		Border:    plain,
		Panel:     plain,
		Sparkline: plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
