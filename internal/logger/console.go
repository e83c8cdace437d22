package logger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleLogger is the console tier: log/slog JSON, plain text or colored
// text over a buffered writer flushed on an interval.
type ConsoleLogger struct {
	handler slog.Handler
	writer  *bufferedWriter
}

// bufferedWriter batches writes and flushes them periodically or when full
type bufferedWriter struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func newBufferedWriter(w io.Writer, size int, interval time.Duration) *bufferedWriter {
	if size <= 0 {
		size = 4096
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	bw := &bufferedWriter{
		buf:  bufio.NewWriterSize(w, size),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go bw.flushLoop(interval)
	return bw
}

func (bw *bufferedWriter) Write(p []byte) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return 0, fmt.Errorf("writer is closed")
	}
	return bw.buf.Write(p)
}

func (bw *bufferedWriter) flushLoop(interval time.Duration) {
	defer close(bw.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bw.mu.Lock()
			_ = bw.buf.Flush()
			bw.mu.Unlock()
		case <-bw.stop:
			return
		}
	}
}

// Close stops the flusher and writes out anything still buffered
func (bw *bufferedWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	bw.closed = true
	bw.mu.Unlock()

	close(bw.stop)
	<-bw.done

	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.buf.Flush()
}

// NewConsoleLogger creates the console tier
func NewConsoleLogger(config *Config) *ConsoleLogger {
	out := config.Console.Writer
	if out == nil {
		out = os.Stdout
	}

	cl := &ConsoleLogger{
		writer: newBufferedWriter(out, config.Console.BufferSize, config.Console.FlushInterval),
	}

	// Level filtering happens in MultiLogger; the handler accepts everything.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	switch {
	case config.Format == FormatJSON:
		cl.handler = slog.NewJSONHandler(cl.writer, opts)
	case config.Console.Color:
		cl.handler = newColorTextHandler(cl.writer)
	default:
		cl.handler = slog.NewTextHandler(cl.writer, opts)
	}

	return cl
}

func (cl *ConsoleLogger) write(entry *LogEntry) {
	record := slog.NewRecord(entry.Timestamp, slogLevel(entry.Level), entry.Message, 0)

	if entry.Component != "" {
		record.AddAttrs(slog.String("component", string(entry.Component)))
	}
	if entry.Source != "" {
		record.AddAttrs(slog.String("log_source", string(entry.Source)))
	}
	if entry.TriggerID != "" {
		record.AddAttrs(slog.String("trigger_id", entry.TriggerID))
	}
	if entry.RunID != "" {
		record.AddAttrs(slog.String("run_id", entry.RunID))
	}
	for _, k := range sortedKeys(entry.Fields) {
		record.AddAttrs(slog.Any(k, entry.Fields[k]))
	}

	_ = cl.handler.Handle(context.Background(), record)
}

// Close flushes and closes the console logger
func (cl *ConsoleLogger) Close() error {
	return cl.writer.Close()
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// colorTextHandler writes one line per record:
//
//	2024-06-02T07:03:00Z INFO  Archiving events prior to cutoff cutoff=...
type colorTextHandler struct {
	w  io.Writer
	mu sync.Mutex

	levels map[slog.Level]string
}

func newColorTextHandler(w io.Writer) *colorTextHandler {
	return &colorTextHandler{
		w: w,
		levels: map[slog.Level]string{
			slog.LevelDebug: color.New(color.FgCyan).Sprint("DEBUG"),
			slog.LevelInfo:  color.New(color.FgGreen).Sprint("INFO "),
			slog.LevelWarn:  color.New(color.FgYellow).Sprint("WARN "),
			slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERROR"),
		},
	}
}

func (h *colorTextHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *colorTextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(h.levels[r.Level])
	b.WriteByte(' ')
	b.WriteString(r.Message)

	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%s", color.New(color.Faint).Sprint(a.Key), formatValue(a.Value))
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs and WithGroup are unused: attributes are added per record
func (h *colorTextHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *colorTextHandler) WithGroup(string) slog.Handler      { return h }

func formatValue(v slog.Value) string {
	s := v.String()
	if strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
