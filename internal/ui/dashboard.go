// internal/ui/dashboard.go
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/exit"
	"github.com/rovshanmuradov/solana-copybot/internal/logger"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
	"github.com/rovshanmuradov/solana-copybot/internal/ui/component"
	"github.com/rovshanmuradov/solana-copybot/internal/ui/style"
)

type tab int

const (
	tabPositions tab = iota
	tabHistory
)

// Options configures the dashboard.
type Options struct {
	Prices          PriceSource
	Calc            *pnl.Calculator
	Logs            *logger.LogBuffer
	RefreshInterval time.Duration
	QueryTimeout    time.Duration
}

type (
	tickMsg     time.Time
	snapshotMsg Snapshot
	sellMsg     struct {
		mint string
		err  error
	}
)

// Dashboard is the root bubbletea model.
type Dashboard struct {
	source  Source
	prices  PriceSource
	calc    *pnl.Calculator
	logs    *component.LogPanel
	logger  *zap.Logger
	refresh time.Duration
	timeout time.Duration
	now     func() time.Time

	keys      KeyMap
	help      help.Model
	positions table.Model
	history   table.Model
	active    tab
	showLogs  bool

	snap    Snapshot
	status  string
	loading bool
	width   int
	height  int
}

var positionColumns = []table.Column{
	{Title: "Token", Width: 14},
	{Title: "Venue", Width: 10},
	{Title: "Entry", Width: 12},
	{Title: "Price", Width: 12},
	{Title: "PnL SOL", Width: 10},
	{Title: "PnL %", Width: 9},
	{Title: "Held", Width: 8},
	{Title: "Source", Width: 10},
}

var historyColumns = []table.Column{
	{Title: "Token", Width: 14},
	{Title: "Reason", Width: 16},
	{Title: "Spent", Width: 9},
	{Title: "Received", Width: 9},
	{Title: "PnL SOL", Width: 10},
	{Title: "PnL %", Width: 9},
	{Title: "Closed", Width: 9},
}

func NewDashboard(source Source, opts Options, logger *zap.Logger) *Dashboard {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 2 * time.Second
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	if opts.Calc == nil {
		opts.Calc = pnl.NewCalculator(pnl.DefaultFeeSchedule())
	}

	d := &Dashboard{
		source:    source,
		prices:    opts.Prices,
		calc:      opts.Calc,
		logger:    logger.Named("ui"),
		refresh:   opts.RefreshInterval,
		timeout:   opts.QueryTimeout,
		now:       time.Now,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		positions: newTable(positionColumns, true),
		history:   newTable(historyColumns, false),
		loading:   true,
	}
	if opts.Logs != nil {
		d.logs = component.NewLogPanel(opts.Logs, 80, 8)
		d.showLogs = true
	}
	return d
}

func newTable(cols []table.Column, focused bool) table.Model {
	p := style.DefaultPalette()
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(focused),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(p.TextMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(p.Primary)
	s.Selected = s.Selected.
		Foreground(p.Background).
		Background(p.Primary).
		Bold(true)
	t.SetStyles(s)
	return t
}

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.fetch(), d.tick())
}

func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// fetch loads positions and today's closed trades off the UI goroutine.
func (d *Dashboard) fetch() tea.Cmd {
	source, prices, calc, timeout, now := d.source, d.prices, d.calc, d.timeout, d.now
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return snapshotMsg(Load(ctx, source, prices, calc, now()))
	}
}

// Load reads one snapshot. Price failures leave a row unpriced.
func Load(ctx context.Context, source Source, prices PriceSource, calc *pnl.Calculator, now time.Time) Snapshot {
	snap := Snapshot{At: now}

	open, err := source.GetOpenPositions(ctx)
	if err != nil {
		snap.Err = fmt.Errorf("positions: %w", err)
		return snap
	}
	for _, pos := range open {
		snap.Rows = append(snap.Rows, value(ctx, pos, prices, calc))
	}

	history, err := source.TradeHistory(ctx, now.UTC())
	if err != nil {
		snap.Err = fmt.Errorf("history: %w", err)
	}
	snap.History = history
	return snap
}

func value(ctx context.Context, pos *model.Position, prices PriceSource, calc *pnl.Calculator) Row {
	row := Row{Position: pos}
	if prices == nil {
		return row
	}
	q, err := prices.GetPrice(ctx, pos.TokenMint, oracle.Options{})
	if err != nil || !q.Valid() {
		return row
	}
	row.Price = q.Price
	row.Stale = q.Stale
	res, err := calc.Unrealized(pos, q.Price, calc.DefaultOptions(exit.SelectVenue(q)))
	if err != nil {
		return row
	}
	row.PnL = res.PnL
	row.PnLPercent = res.PnLPercent
	row.Priced = true
	return row
}

func (d *Dashboard) sell(mint string) tea.Cmd {
	source, timeout := d.source, d.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return sellMsg{mint: mint, err: source.SetForceExit(ctx, mint, ManualExitReason)}
	}
}

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.resize(msg.Width, msg.Height)
		return d, nil

	case tickMsg:
		if d.logs != nil {
			d.logs.Refresh()
		}
		cmds := []tea.Cmd{d.tick()}
		if !d.loading {
			d.loading = true
			cmds = append(cmds, d.fetch())
		}
		return d, tea.Batch(cmds...)

	case snapshotMsg:
		d.loading = false
		d.apply(Snapshot(msg))
		return d, nil

	case sellMsg:
		if msg.err != nil {
			d.status = fmt.Sprintf("sell %s failed: %v", shortMint(msg.mint), msg.err)
			d.logger.Warn("Manual exit not queued", zap.String("mint", msg.mint), zap.Error(msg.err))
		} else {
			d.status = fmt.Sprintf("exit queued for %s", shortMint(msg.mint))
			d.logger.Info("Manual exit queued", zap.String("mint", msg.mint))
		}
		return d, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, d.keys.Quit):
			return d, tea.Quit
		case key.Matches(msg, d.keys.Help):
			d.help.ShowAll = !d.help.ShowAll
			return d, nil
		case key.Matches(msg, d.keys.Tab):
			d.switchTab()
			return d, nil
		case key.Matches(msg, d.keys.ToggleLogs):
			if d.logs != nil {
				d.showLogs = !d.showLogs
				d.resize(d.width, d.height)
			}
			return d, nil
		case key.Matches(msg, d.keys.Refresh):
			if d.loading {
				return d, nil
			}
			d.loading = true
			d.status = "refreshing"
			return d, d.fetch()
		case key.Matches(msg, d.keys.Sell):
			if d.active != tabPositions {
				return d, nil
			}
			pos := d.Selected()
			if pos == nil {
				d.status = "no position selected"
				return d, nil
			}
			d.status = fmt.Sprintf("requesting exit for %s", shortMint(pos.TokenMint))
			return d, d.sell(pos.TokenMint)
		}
	}

	var cmd tea.Cmd
	if d.active == tabPositions {
		d.positions, cmd = d.positions.Update(msg)
	} else {
		d.history, cmd = d.history.Update(msg)
	}
	return d, cmd
}

func (d *Dashboard) switchTab() {
	if d.active == tabPositions {
		d.active = tabHistory
		d.positions.Blur()
		d.history.Focus()
		return
	}
	d.active = tabPositions
	d.history.Blur()
	d.positions.Focus()
}

func (d *Dashboard) resize(width, height int) {
	d.width, d.height = width, height
	d.help.Width = width

	tableHeight := height - 6
	if d.logs != nil && d.showLogs {
		logHeight := height / 3
		d.logs.SetSize(width, logHeight)
		tableHeight -= logHeight + 1
	}
	if tableHeight < 3 {
		tableHeight = 3
	}
	d.positions.SetHeight(tableHeight)
	d.history.SetHeight(tableHeight)
	d.positions.SetWidth(width)
	d.history.SetWidth(width)
}

func (d *Dashboard) apply(snap Snapshot) {
	d.snap = snap
	if snap.Err != nil {
		d.status = snap.Err.Error()
		d.logger.Warn("Dashboard refresh failed", zap.Error(snap.Err))
	}

	now := snap.At
	rows := make([]table.Row, 0, len(snap.Rows))
	for _, r := range snap.Rows {
		price, pnlSOL, pnlPct := "-", "-", "-"
		if r.Priced {
			price = fmt.Sprintf("%.10f", r.Price)
			if r.Stale {
				price += "*"
			}
			pnlSOL = fmt.Sprintf("%+.4f", r.PnL)
			pnlPct = fmt.Sprintf("%+.1f%%", r.PnLPercent)
		}
		rows = append(rows, table.Row{
			label(r.Position.Label, r.Position.TokenMint),
			string(r.Position.EntryVenue),
			fmt.Sprintf("%.10f", r.Position.EntryPrice),
			price,
			pnlSOL,
			pnlPct,
			formatHeld(now.Sub(r.Position.EntryTime)),
			shortMint(r.Position.SourceWallet),
		})
	}
	d.positions.SetRows(rows)
	if c := d.positions.Cursor(); c >= len(rows) && len(rows) > 0 {
		d.positions.SetCursor(len(rows) - 1)
	}

	hist := make([]table.Row, 0, len(snap.History))
	for i := len(snap.History) - 1; i >= 0; i-- {
		rec := snap.History[i]
		hist = append(hist, table.Row{
			label(rec.Label, rec.TokenMint),
			rec.Reason,
			fmt.Sprintf("%.4f", rec.SolSpent),
			fmt.Sprintf("%.4f", rec.SolReceived),
			fmt.Sprintf("%+.4f", rec.PnL),
			fmt.Sprintf("%+.1f%%", rec.PnLPercent),
			rec.ExitTime.Local().Format("15:04:05"),
		})
	}
	d.history.SetRows(hist)
}

// Selected is the position under the cursor, if any.
func (d *Dashboard) Selected() *model.Position {
	i := d.positions.Cursor()
	if i < 0 || i >= len(d.snap.Rows) {
		return nil
	}
	return d.snap.Rows[i].Position
}

// Status is the last status line message.
func (d *Dashboard) Status() string { return d.status }

// Summary aggregates the current snapshot.
func (d *Dashboard) Summary() component.PnLSummary {
	var s component.PnLSummary
	for _, rec := range d.snap.History {
		s.Realized += rec.PnL
		s.Spent += rec.SolSpent
		s.History = append(s.History, rec.PnL)
		if rec.PnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	for _, r := range d.snap.Rows {
		if r.Priced {
			s.Unrealized += r.PnL
		}
	}
	return s
}

func (d *Dashboard) View() string {
	p := style.DefaultPalette()
	title := lipgloss.NewStyle().Foreground(p.Primary).Bold(true)
	muted := lipgloss.NewStyle().Foreground(p.TextMuted)
	activeTab := lipgloss.NewStyle().Foreground(p.Background).Background(p.Secondary).Bold(true).Padding(0, 1)
	idleTab := lipgloss.NewStyle().Foreground(p.TextSecondary).Padding(0, 1)

	posTab, histTab := idleTab, idleTab
	if d.active == tabPositions {
		posTab = activeTab
	} else {
		histTab = activeTab
	}

	var b strings.Builder
	b.WriteString(title.Render("🤖 copybot"))
	b.WriteString("  ")
	b.WriteString(posTab.Render(fmt.Sprintf("Open (%d)", len(d.snap.Rows))))
	b.WriteString(histTab.Render(fmt.Sprintf("Today (%d)", len(d.snap.History))))
	if !d.snap.At.IsZero() {
		b.WriteString(muted.Render("  updated " + d.snap.At.Local().Format("15:04:05")))
	}
	b.WriteString("\n")
	b.WriteString(d.Summary().View())
	b.WriteString("\n\n")

	if d.active == tabPositions {
		if len(d.snap.Rows) == 0 && !d.loading {
			b.WriteString(muted.Render("No open positions"))
		} else {
			b.WriteString(d.positions.View())
		}
	} else {
		b.WriteString(d.history.View())
	}
	b.WriteString("\n")

	if d.logs != nil && d.showLogs {
		b.WriteString(muted.Render(strings.Repeat("─", max(d.width, 10))))
		b.WriteString("\n")
		b.WriteString(d.logs.View())
		b.WriteString("\n")
	}

	if d.status != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(p.Warning).Render(d.status))
		b.WriteString("\n")
	}
	b.WriteString(d.help.View(d.keys))
	return b.String()
}

func label(name, mint string) string {
	if name != "" {
		return name
	}
	return shortMint(mint)
}

func shortMint(mint string) string {
	if len(mint) <= 10 {
		return mint
	}
	return mint[:4] + "…" + mint[len(mint)-4:]
}

func formatHeld(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
