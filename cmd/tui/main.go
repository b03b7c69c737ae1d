// cmd/tui/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/solana-copybot/internal/bot"
	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/logger"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
	"github.com/rovshanmuradov/solana-copybot/internal/ui"
)

const logBufferSize = 500

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to config file")
	runBot := flag.Bool("run", false, "Run the bot in this process")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The alt screen owns stdout, so logs go to the panel ring only.
	lvl := zapcore.InfoLevel
	if cfg.DebugLogging {
		lvl = zapcore.DebugLevel
	}
	logs := logger.NewLogBuffer(logBufferSize)
	appLogger := zap.New(logs.Core(lvl))
	defer func() {
		_ = appLogger.Sync()
	}()

	opts := ui.Options{
		Calc: pnl.NewCalculator(cfg.Fees),
		Logs: logs,
	}

	var (
		source  ui.Source
		runner  *bot.Runner
		cleanup func() error
		botDone = make(chan error, 1)
	)
	botCtx, cancelBot := context.WithCancel(rootCtx)
	defer cancelBot()

	if *runBot {
		app, err := bot.Build(botCtx, cfg, appLogger)
		if err != nil {
			log.Fatalf("Failed to initialize bot: %v", err)
		}
		source, opts.Prices, runner = app.Store, app.Oracle, app.Runner
		go func() { botDone <- runner.Run(botCtx) }()
	} else {
		st, _, closeStore, err := bot.OpenStore(botCtx, cfg, appLogger)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		source, cleanup = st, closeStore
		close(botDone)
	}

	appLogger.Info("🚀 Starting copybot dashboard", zap.Bool("in_process", *runBot))

	program := tea.NewProgram(
		ui.NewDashboard(source, opts, appLogger),
		tea.WithAltScreen(),
		tea.WithContext(rootCtx),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.Printf("TUI application failed: %v", err)
	}

	cancelBot()
	if err := <-botDone; err != nil {
		log.Printf("Bot stopped with error: %v", err)
	}
	if runner != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runner.Close(closeCtx); err != nil {
			log.Printf("Shutdown incomplete: %v", err)
		}
	}
	if cleanup != nil {
		_ = cleanup()
	}
}
