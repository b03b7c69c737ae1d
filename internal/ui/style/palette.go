// internal/ui/style/palette.go
package style

import "github.com/charmbracelet/lipgloss"

var (
	Cyan    = lipgloss.Color("#00E5FF")
	Magenta = lipgloss.Color("#FF1B6B")
	Yellow  = lipgloss.Color("#FFB500")
	Green   = lipgloss.Color("#2AFFAA")
	Red     = lipgloss.Color("#FF5555")
	Blue    = lipgloss.Color("#3B82F6")

	Base03 = lipgloss.Color("#1B1D23")
	Base01 = lipgloss.Color("#6C7280")
	Base2  = lipgloss.Color("#ECEFF4")
	Base1  = lipgloss.Color("#B4BCC8")
)

// Palette provides a centralized color management
type Palette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Info      lipgloss.Color

	Background    lipgloss.Color
	Text          lipgloss.Color
	TextMuted     lipgloss.Color
	TextSecondary lipgloss.Color
}

// DefaultPalette returns the default color palette
func DefaultPalette() Palette {
	return Palette{
		Primary:   Cyan,
		Secondary: Magenta,
		Success:   Green,
		Error:     Red,
		Warning:   Yellow,
		Info:      Blue,

		Background:    Base03,
		Text:          Base2,
		TextMuted:     Base01,
		TextSecondary: Base1,
	}
}

// PnL colors a signed value: green above zero, red below, muted at zero.
func PnL(v float64) lipgloss.Style {
	p := DefaultPalette()
	switch {
	case v > 0:
		return lipgloss.NewStyle().Foreground(p.Success).Bold(true)
	case v < 0:
		return lipgloss.NewStyle().Foreground(p.Error).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(p.TextMuted)
	}
}
