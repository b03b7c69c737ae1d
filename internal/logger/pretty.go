// internal/logger/pretty.go
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Colors for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Options selects the log outputs.
type Options struct {
	Debug bool
	// File, when set, receives JSON logs in addition to the console.
	File          string
	FlushInterval time.Duration
}

func prettyEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    customLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

// customLevelEncoder formats log levels with colors
func customLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(ColorCyan + "[DEBUG]" + ColorReset)
	case zapcore.InfoLevel:
		enc.AppendString(ColorGreen + "[INFO]" + ColorReset)
	case zapcore.WarnLevel:
		enc.AppendString(ColorYellow + "[WARN]" + ColorReset)
	case zapcore.ErrorLevel:
		enc.AppendString(ColorRed + "[ERROR]" + ColorReset)
	case zapcore.FatalLevel:
		enc.AppendString(ColorRed + ColorBold + "[FATAL]" + ColorReset)
	default:
		enc.AppendString(fmt.Sprintf("[%s]", level.CapitalString()))
	}
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05"))
}

func level(debug bool) zapcore.Level {
	if debug {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}

// CreatePrettyLogger creates a colored console logger for operators.
func CreatePrettyLogger(debug bool) (*zap.Logger, error) {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(prettyEncoderConfig()),
		zapcore.AddSync(zapcore.Lock(os.Stdout)),
		level(debug),
	)
	return zap.New(&PrettyCore{core: core}), nil
}

// New builds the pretty console logger and, when opts.File is set, tees a
// JSON copy of every entry into a buffered file. The returned closer flushes
// and closes the file.
func New(opts Options) (*zap.Logger, func() error, error) {
	console := &PrettyCore{core: zapcore.NewCore(
		zapcore.NewConsoleEncoder(prettyEncoderConfig()),
		zapcore.AddSync(zapcore.Lock(os.Stdout)),
		level(opts.Debug),
	)}
	if opts.File == "" {
		return zap.New(console), func() error { return nil }, nil
	}

	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	file, err := NewSafeFileWriter(opts.File, opts.FlushInterval, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), file, level(opts.Debug))

	return zap.New(zapcore.NewTee(console, jsonCore)), file.Close, nil
}

// FormatMessage renders well-known bot events as one readable line. The
// second result is false when the message has no special rendering.
func FormatMessage(msg string, fields []zapcore.Field) (string, bool) {
	mint := shortenAddress(extractField(fields, "mint"))
	switch msg {
	case "Position opened":
		return fmt.Sprintf("%s🟢 Opened %s via %s: %s SOL for %s tokens%s",
			ColorGreen, mint, extractField(fields, "venue"),
			extractField(fields, "sol_spent"), extractField(fields, "tokens"), ColorReset), true
	case "Position closed":
		return fmt.Sprintf("%s🔴 Closed %s (%s): PnL %s SOL (%s%%)%s",
			ColorPurple, mint, extractField(fields, "reason"),
			extractField(fields, "pnl"), extractField(fields, "pnl_percent"), ColorReset), true
	case "Exit triggered":
		return fmt.Sprintf("%s⚡ Exit %s: %s%s",
			ColorYellow, mint, extractField(fields, "reason"), ColorReset), true
	case "Trade sent", "Swap sent":
		return fmt.Sprintf("%s📤 %s %s: %s%s",
			ColorBlue, extractField(fields, "side"), mint,
			shortenSignature(extractField(fields, "signature")), ColorReset), true
	case "Signal rejected":
		return fmt.Sprintf("%s⏭  Skipped %s: %s%s",
			ColorCyan, mint, extractField(fields, "reason"), ColorReset), true
	}
	return msg, false
}

func extractField(fields []zapcore.Field, key string) string {
	for _, f := range fields {
		if f.Key != key {
			continue
		}
		switch f.Type {
		case zapcore.StringType:
			return f.String
		case zapcore.Float64Type:
			enc := zapcore.NewMapObjectEncoder()
			f.AddTo(enc)
			return fmt.Sprintf("%.6g", enc.Fields[key])
		case zapcore.BoolType:
			return fmt.Sprintf("%t", f.Integer == 1)
		case zapcore.Int64Type, zapcore.Int32Type:
			return fmt.Sprintf("%d", f.Integer)
		default:
			if f.Interface != nil {
				return fmt.Sprintf("%v", f.Interface)
			}
			return f.String
		}
	}
	return ""
}

func shortenAddress(addr string) string {
	if len(addr) > 8 {
		return addr[:4] + "..." + addr[len(addr)-4:]
	}
	return addr
}

func shortenSignature(sig string) string {
	if len(sig) > 16 {
		return sig[:8] + "..." + sig[len(sig)-8:]
	}
	return sig
}

// PrettyCore rewrites recognised messages through FormatMessage and drops
// their fields; other entries pass through unchanged.
type PrettyCore struct {
	core   zapcore.Core
	fields []zapcore.Field
}

func (c *PrettyCore) Enabled(level zapcore.Level) bool {
	return c.core.Enabled(level)
}

func (c *PrettyCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &PrettyCore{core: c.core, fields: merged}
}

func (c *PrettyCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *PrettyCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := append(append([]zapcore.Field{}, c.fields...), fields...)
	if msg, ok := FormatMessage(entry.Message, all); ok {
		entry.Message = msg
		return c.core.Write(entry, nil)
	}
	if strings.TrimSpace(entry.Message) == "" {
		return nil
	}
	return c.core.Write(entry, all)
}

func (c *PrettyCore) Sync() error {
	return c.core.Sync()
}
