// internal/ui/component/logpanel.go
package component

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/solana-copybot/internal/logger"
	"github.com/rovshanmuradov/solana-copybot/internal/ui/style"
)

// LogPanel renders the tail of a LogBuffer inside a scrollable viewport.
type LogPanel struct {
	buffer   *logger.LogBuffer
	viewport viewport.Model
	limit    int
	minLevel string
	seen     uint64

	palette    style.Palette
	levelStyle map[string]lipgloss.Style
	timeStyle  lipgloss.Style
}

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"FATAL": 4,
}

func NewLogPanel(buffer *logger.LogBuffer, width, height int) *LogPanel {
	p := style.DefaultPalette()
	vp := viewport.New(width, height)
	return &LogPanel{
		buffer:   buffer,
		viewport: vp,
		limit:    200,
		minLevel: "INFO",
		palette:  p,
		levelStyle: map[string]lipgloss.Style{
			"DEBUG": lipgloss.NewStyle().Foreground(p.TextMuted),
			"INFO":  lipgloss.NewStyle().Foreground(p.Text),
			"WARN":  lipgloss.NewStyle().Foreground(p.Warning),
			"ERROR": lipgloss.NewStyle().Foreground(p.Error).Bold(true),
			"FATAL": lipgloss.NewStyle().Foreground(p.Error).Bold(true),
		},
		timeStyle: lipgloss.NewStyle().Foreground(p.TextMuted),
	}
}

// SetMinLevel hides entries below level.
func (l *LogPanel) SetMinLevel(level string) {
	l.minLevel = strings.ToUpper(level)
	l.seen = 0
}

func (l *LogPanel) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

// Refresh reloads the buffer when new entries arrived and keeps the view
// pinned to the bottom.
func (l *LogPanel) Refresh() {
	if l.buffer == nil {
		return
	}
	total := l.buffer.Total()
	if total == l.seen {
		return
	}
	l.seen = total

	var lines []string
	for _, e := range l.buffer.GetRecentLogs(l.limit) {
		if levelRank[strings.ToUpper(e.Level)] < levelRank[l.minLevel] {
			continue
		}
		lines = append(lines, l.format(e))
	}
	l.viewport.SetContent(strings.Join(lines, "\n"))
	l.viewport.GotoBottom()
}

func (l *LogPanel) format(e logger.LogEntry) string {
	lvl := strings.ToUpper(e.Level)
	st, ok := l.levelStyle[lvl]
	if !ok {
		st = l.levelStyle["INFO"]
	}
	return l.timeStyle.Render(e.Timestamp.Format("15:04:05")) + " " + st.Render(e.Message)
}

func (l *LogPanel) View() string {
	if l.buffer == nil {
		return lipgloss.NewStyle().Foreground(l.palette.TextMuted).Render("logs unavailable")
	}
	return l.viewport.View()
}
