// internal/logger/buffer.go
package logger

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// LogBuffer keeps the most recent log lines in a fixed-size ring so a
// dashboard can render them without touching stdout.
type LogBuffer struct {
	mu           sync.Mutex
	ringBuffer   []LogEntry
	maxSize      int
	currentIndex int
	wrapped      bool

	totalEntries uint64
}

func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &LogBuffer{
		ringBuffer: make([]LogEntry, maxSize),
		maxSize:    maxSize,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (lb *LogBuffer) Add(entry LogEntry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.ringBuffer[lb.currentIndex] = entry
	lb.currentIndex = (lb.currentIndex + 1) % lb.maxSize
	if lb.currentIndex == 0 {
		lb.wrapped = true
	}
	lb.totalEntries++
}

// GetRecentLogs returns up to limit entries, oldest first. limit <= 0 means all.
func (lb *LogBuffer) GetRecentLogs(limit int) []LogEntry {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	count := lb.currentIndex
	start := 0
	if lb.wrapped {
		count = lb.maxSize
		start = lb.currentIndex
	}
	if limit > 0 && limit < count {
		start += count - limit
		count = limit
	}

	logs := make([]LogEntry, 0, count)
	for i := 0; i < count; i++ {
		logs = append(logs, lb.ringBuffer[(start+i)%lb.maxSize])
	}
	return logs
}

// Total reports how many entries were ever added.
func (lb *LogBuffer) Total() uint64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.totalEntries
}

var ansiStripper = strings.NewReplacer(
	ColorReset, "", ColorRed, "", ColorGreen, "", ColorYellow, "",
	ColorBlue, "", ColorPurple, "", ColorCyan, "", ColorBold, "",
)

// Core returns a zapcore.Core that records entries at or above lvl into the
// buffer, rendered the same way as the pretty console.
func (lb *LogBuffer) Core(lvl zapcore.LevelEnabler) zapcore.Core {
	return &bufferCore{buf: lb, LevelEnabler: lvl}
}

type bufferCore struct {
	zapcore.LevelEnabler
	buf    *LogBuffer
	fields []zapcore.Field
}

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	merged := append(append([]zapcore.Field{}, c.fields...), fields...)
	return &bufferCore{LevelEnabler: c.LevelEnabler, buf: c.buf, fields: merged}
}

func (c *bufferCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *bufferCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := append(append([]zapcore.Field{}, c.fields...), fields...)
	msg, ok := FormatMessage(entry.Message, all)
	if !ok {
		if errText := extractField(all, "error"); errText != "" {
			msg += ": " + errText
		}
	}
	c.buf.Add(LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.CapitalString(),
		Message:   ansiStripper.Replace(msg),
	})
	return nil
}

func (c *bufferCore) Sync() error { return nil }
