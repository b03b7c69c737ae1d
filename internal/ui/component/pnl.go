// internal/ui/component/pnl.go
package component

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/solana-copybot/internal/ui/style"
)

var barChars = []rune("▁▂▃▄▅▆▇█")

// PnLSummary shows the day's realized result and the open exposure.
type PnLSummary struct {
	Realized   float64
	Unrealized float64
	Spent      float64
	Wins       int
	Losses     int
	// History holds realized PnL per closed trade, oldest first.
	History []float64
}

// Arrow returns a direction marker for v.
func Arrow(v float64) string {
	switch {
	case v > 0:
		return "▲"
	case v < 0:
		return "▼"
	default:
		return "•"
	}
}

// FormatSOL renders a signed SOL amount.
func FormatSOL(v float64) string {
	return style.PnL(v).Render(fmt.Sprintf("%s %+.4f SOL", Arrow(v), v))
}

// FormatPercent renders a signed percentage.
func FormatPercent(v float64) string {
	return style.PnL(v).Render(fmt.Sprintf("%+.2f%%", v))
}

// Sparkline maps values onto block characters scaled to the largest
// magnitude. Losses render red, gains green.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	peak := 0.0
	for _, v := range values {
		if a := abs(v); a > peak {
			peak = a
		}
	}

	var b strings.Builder
	for _, v := range values {
		idx := 0
		if peak > 0 {
			idx = int(abs(v) / peak * float64(len(barChars)-1))
		}
		b.WriteString(style.PnL(v).Render(string(barChars[idx])))
	}
	return b.String()
}

func (s PnLSummary) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total) * 100
}

func (s PnLSummary) View() string {
	p := style.DefaultPalette()
	label := lipgloss.NewStyle().Foreground(p.TextMuted)

	parts := []string{
		label.Render("realized ") + FormatSOL(s.Realized),
		label.Render("open ") + FormatSOL(s.Unrealized),
		label.Render("win ") + fmt.Sprintf("%d/%d (%.0f%%)", s.Wins, s.Wins+s.Losses, s.WinRate()),
	}
	if line := Sparkline(s.History, 30); line != "" {
		parts = append(parts, line)
	}
	return strings.Join(parts, label.Render("  │  "))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
