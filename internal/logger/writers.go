// internal/logger/writers.go
package logger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// appendFile opens path for appending, creating parent directories. It also
// reports whether the file was empty.
func appendFile(path string) (*os.File, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, false, fmt.Errorf("failed to stat file: %w", err)
	}
	return file, stat.Size() == 0, nil
}

// flusher runs a periodic flush until stopped.
type flusher struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func startFlusher(interval time.Duration, path string, logger *zap.Logger, flush func() error) *flusher {
	f := &flusher{ticker: time.NewTicker(interval), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-f.ticker.C:
				if err := flush(); err != nil {
					logger.Error("Periodic flush failed", zap.String("file", path), zap.Error(err))
				}
			case <-f.done:
				return
			}
		}
	}()
	return f
}

func (f *flusher) stop() {
	f.once.Do(func() {
		close(f.done)
		f.ticker.Stop()
	})
}

// SafeFileWriter is a buffered, mutex-guarded append-only file flushed on an
// interval. It satisfies zapcore.WriteSyncer so it can back a JSON log core.
type SafeFileWriter struct {
	mu      sync.Mutex
	writer  *bufio.Writer
	file    *os.File
	path    string
	logger  *zap.Logger
	flusher *flusher
	lines   uint64
	flushes uint64
}

func NewSafeFileWriter(path string, flushInterval time.Duration, logger *zap.Logger) (*SafeFileWriter, error) {
	file, _, err := appendFile(path)
	if err != nil {
		return nil, err
	}
	w := &SafeFileWriter{
		writer: bufio.NewWriter(file),
		file:   file,
		path:   path,
		logger: logger,
	}
	w.flusher = startFlusher(flushInterval, path, logger, w.Flush)
	return w, nil
}

func (w *SafeFileWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.writer.Write(data)
	if err != nil {
		return n, fmt.Errorf("failed to write data: %w", err)
	}
	w.lines++
	return n, nil
}

// WriteLine appends line and a newline.
func (w *SafeFileWriter) WriteLine(line string) error {
	_, err := w.Write([]byte(line + "\n"))
	return err
}

// Flush pushes buffered bytes to the file and syncs it.
func (w *SafeFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	w.flushes++
	return nil
}

// Sync is Flush; zap calls it on logger.Sync.
func (w *SafeFileWriter) Sync() error {
	return w.Flush()
}

func (w *SafeFileWriter) Close() error {
	w.flusher.stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	w.logger.Debug("File writer closed",
		zap.String("file", w.path),
		zap.Uint64("lines", w.lines),
		zap.Uint64("flushes", w.flushes))
	return nil
}

// GetStats returns the number of writes and flushes so far.
func (w *SafeFileWriter) GetStats() (lines, flushes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines, w.flushes
}

// SafeCSVWriter appends CSV records to one file. The header is written only
// to an empty file.
type SafeCSVWriter struct {
	mu      sync.Mutex
	writer  *csv.Writer
	file    *os.File
	path    string
	logger  *zap.Logger
	flusher *flusher
	records uint64
	flushes uint64
}

func NewSafeCSVWriter(path string, header []string, flushInterval time.Duration, logger *zap.Logger) (*SafeCSVWriter, error) {
	file, empty, err := appendFile(path)
	if err != nil {
		return nil, err
	}
	w := &SafeCSVWriter{
		writer: csv.NewWriter(file),
		file:   file,
		path:   path,
		logger: logger,
	}
	if empty && len(header) > 0 {
		err := w.writer.Write(header)
		w.writer.Flush()
		if err == nil {
			err = w.writer.Error()
		}
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	w.flusher = startFlusher(flushInterval, path, logger, w.Flush)
	return w, nil
}

func (w *SafeCSVWriter) WriteRecord(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.records++
	return nil
}

func (w *SafeCSVWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	w.flushes++
	return nil
}

func (w *SafeCSVWriter) Close() error {
	w.flusher.stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	w.logger.Debug("CSV writer closed",
		zap.String("file", w.path),
		zap.Uint64("records", w.records),
		zap.Uint64("flushes", w.flushes))
	return nil
}

// GetStats returns the number of data records (header excluded) and flushes.
func (w *SafeCSVWriter) GetStats() (records, flushes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records, w.flushes
}

// DailyCSVWriter keeps one SafeCSVWriter per UTC day under dir. A record goes
// to the file of the day it is stamped with; the previous file is closed when
// the day changes.
type DailyCSVWriter struct {
	dir      string
	name     func(day time.Time) string
	header   []string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	current string
	writer  *SafeCSVWriter
}

// NewDailyCSVWriter opens files lazily. name maps a UTC day to a file name.
func NewDailyCSVWriter(dir string, name func(day time.Time) string, header []string, flushInterval time.Duration, logger *zap.Logger) *DailyCSVWriter {
	return &DailyCSVWriter{
		dir:      dir,
		name:     name,
		header:   header,
		interval: flushInterval,
		logger:   logger,
	}
}

// WriteAt appends record to the file of at's UTC day.
func (d *DailyCSVWriter) WriteAt(at time.Time, record []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.rotate(at.UTC())
	if err != nil {
		return err
	}
	return w.WriteRecord(record)
}

func (d *DailyCSVWriter) rotate(day time.Time) (*SafeCSVWriter, error) {
	file := d.name(day)
	if d.writer != nil && d.current == file {
		return d.writer, nil
	}
	if d.writer != nil {
		if err := d.writer.Close(); err != nil {
			d.logger.Warn("Failed to close daily file", zap.String("file", d.current), zap.Error(err))
		}
		d.writer = nil
	}
	w, err := NewSafeCSVWriter(filepath.Join(d.dir, file), d.header, d.interval, d.logger)
	if err != nil {
		return nil, err
	}
	d.writer, d.current = w, file
	d.logger.Debug("Daily file opened", zap.String("file", file))
	return w, nil
}

// Current is the name of the open file, empty before the first write.
func (d *DailyCSVWriter) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *DailyCSVWriter) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil
	}
	return d.writer.Flush()
}

func (d *DailyCSVWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil
	}
	err := d.writer.Close()
	d.writer = nil
	return err
}
