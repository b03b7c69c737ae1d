// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// Format is the export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options configures an export.
type Options struct {
	Format      Format
	StartTime   time.Time
	EndTime     time.Time
	TokenFilter string
	// ReasonFilter keeps only trades closed for this exit reason.
	ReasonFilter string
	// SkipIntegrity drops positions cleared without a real sale.
	SkipIntegrity bool
	OutputDir     string
}

// TradeExporter writes closed trades to files.
type TradeExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// ExportTrades filters trades, sorts them by exit time and writes them in
// the requested format. It returns the path of the written file.
func (te *TradeExporter) ExportTrades(trades []*model.TradeRecord, opts Options) (string, error) {
	filtered := Filter(trades, opts)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no trades match the export criteria")
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ExitTime.Before(filtered[j].ExitTime)
	})

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(opts.OutputDir, te.filename(opts))

	var err error
	switch opts.Format {
	case FormatCSV:
		err = writeCSV(filtered, outputPath)
	case FormatJSON:
		err = te.writeJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(opts.Format)))
	return outputPath, nil
}

// Filter applies the time, token, reason and integrity filters.
func Filter(trades []*model.TradeRecord, opts Options) []*model.TradeRecord {
	var filtered []*model.TradeRecord
	for _, t := range trades {
		if t == nil {
			continue
		}
		if !opts.StartTime.IsZero() && t.ExitTime.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && !t.ExitTime.Before(opts.EndTime) {
			continue
		}
		if opts.TokenFilter != "" && t.TokenMint != opts.TokenFilter {
			continue
		}
		if opts.ReasonFilter != "" && t.Reason != opts.ReasonFilter {
			continue
		}
		if opts.SkipIntegrity && t.IntegrityClose {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}

func (te *TradeExporter) filename(opts Options) string {
	prefix := "trades_all"
	if opts.ReasonFilter != "" {
		prefix = "trades_" + opts.ReasonFilter
	}
	if opts.TokenFilter != "" {
		mint := opts.TokenFilter
		if len(mint) > 8 {
			mint = mint[:8]
		}
		prefix += "_" + mint
	}
	return fmt.Sprintf("%s_%s.%s", prefix, te.now().Format("20060102_150405"), opts.Format)
}

// CSVHeaders lists the exported columns.
func CSVHeaders() []string {
	return []string{
		"exit_time", "token_mint", "label", "source_wallet", "upvotes",
		"entry_venue", "exit_venue", "entry_price", "exit_price",
		"sol_spent", "sol_received", "pnl", "pnl_percent", "price_change_percent",
		"hold_seconds", "reason", "unconfirmed", "integrity_close",
		"entry_signature", "exit_signature",
	}
}

func csvRow(t *model.TradeRecord) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		t.ExitTime.UTC().Format(time.RFC3339),
		t.TokenMint,
		t.Label,
		t.SourceWallet,
		strconv.Itoa(t.Upvotes),
		string(t.EntryVenue),
		string(t.ExitVenue),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.SolSpent),
		f(t.SolReceived),
		f(t.PnL),
		f(t.PnLPercent),
		f(t.PriceChangePercent),
		strconv.FormatInt(int64(t.HoldTime().Seconds()), 10),
		t.Reason,
		strconv.FormatBool(t.Unconfirmed),
		strconv.FormatBool(t.IntegrityClose),
		t.EntrySignature,
		t.ExitSignature,
	}
}

func writeCSV(trades []*model.TradeRecord, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, t := range trades {
		if err := writer.Write(csvRow(t)); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (te *TradeExporter) writeJSON(trades []*model.TradeRecord, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	data := struct {
		ExportTime time.Time            `json:"export_time"`
		TradeCount int                  `json:"trade_count"`
		Summary    Summary              `json:"summary"`
		Trades     []*model.TradeRecord `json:"trades"`
	}{
		ExportTime: te.now(),
		TradeCount: len(trades),
		Summary:    Summarize(trades),
		Trades:     trades,
	}
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary aggregates a set of closed trades.
type Summary struct {
	TotalTrades  int                `json:"total_trades"`
	UniqueTokens int                `json:"unique_tokens"`
	SolSpent     float64            `json:"sol_spent"`
	SolReceived  float64            `json:"sol_received"`
	TotalPnL     float64            `json:"total_pnl"`
	WinCount     int                `json:"win_count"`
	LossCount    int                `json:"loss_count"`
	WinRate      float64            `json:"win_rate"`
	AvgPnL       float64            `json:"avg_pnl"`
	AvgHold      time.Duration      `json:"avg_hold_ns"`
	ByReason     map[string]float64 `json:"pnl_by_reason"`
	Integrity    int                `json:"integrity_closes"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      time.Time          `json:"end_date"`
}

// Summarize computes statistics over trades ordered by exit time.
func Summarize(trades []*model.TradeRecord) Summary {
	s := Summary{TotalTrades: len(trades), ByReason: make(map[string]float64)}
	if len(trades) == 0 {
		return s
	}
	s.StartDate = trades[0].ExitTime
	s.EndDate = trades[len(trades)-1].ExitTime

	tokens := make(map[string]struct{})
	var hold time.Duration
	for _, t := range trades {
		tokens[t.TokenMint] = struct{}{}
		s.SolSpent += t.SolSpent
		s.SolReceived += t.SolReceived
		s.TotalPnL += t.PnL
		s.ByReason[t.Reason] += t.PnL
		hold += t.HoldTime()
		if t.IntegrityClose {
			s.Integrity++
		}
		switch {
		case t.PnL > 0:
			s.WinCount++
		case t.PnL < 0:
			s.LossCount++
		}
	}
	s.UniqueTokens = len(tokens)
	s.WinRate = float64(s.WinCount) / float64(len(trades)) * 100
	s.AvgPnL = s.TotalPnL / float64(len(trades))
	s.AvgHold = hold / time.Duration(len(trades))
	return s
}

// HourlyStats is the activity of one hour of the day.
type HourlyStats struct {
	Hour       int     `json:"hour"`
	TradeCount int     `json:"trade_count"`
	SolSpent   float64 `json:"sol_spent"`
	PnL        float64 `json:"pnl"`
}

// DailyReport is the JSON report for one UTC day.
type DailyReport struct {
	Date            time.Time            `json:"date"`
	TradeCount      int                  `json:"trade_count"`
	Summary         Summary              `json:"summary"`
	HourlyBreakdown []HourlyStats        `json:"hourly_breakdown"`
	Trades          []*model.TradeRecord `json:"trades"`
}

// ExportDailyReport writes a report of trades closed on date's UTC day. An
// empty day writes nothing and returns an empty path.
func (te *TradeExporter) ExportDailyReport(trades []*model.TradeRecord, date time.Time, outputDir string) (string, error) {
	date = date.UTC()
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	filtered := Filter(trades, Options{StartTime: startOfDay, EndTime: startOfDay.Add(24 * time.Hour)})
	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ExitTime.Before(filtered[j].ExitTime)
	})

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Summary:         Summarize(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered),
		Trades:          filtered,
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("trades", len(filtered)))
	return outputPath, nil
}

func hourlyBreakdown(trades []*model.TradeRecord) []HourlyStats {
	byHour := make(map[int]*HourlyStats)
	for _, t := range trades {
		hour := t.ExitTime.UTC().Hour()
		stats, ok := byHour[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			byHour[hour] = stats
		}
		stats.TradeCount++
		stats.SolSpent += t.SolSpent
		stats.PnL += t.PnL
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := byHour[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
