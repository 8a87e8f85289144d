// Package logging provides a small subsystem-tagged facade over log/slog
// used throughout the runtime core. Two initialization modes exist: CLI
// mode writes directly through a slog text handler, TUI mode passes
// structured entries over a buffered channel for an interactive consumer
// to render. The core only ever calls the package-level Debug/Info/Warn/
// Error functions and is agnostic to the active mode.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LogEntry is the structured log entry passed to a TUI-mode consumer.
type LogEntry struct {
	Timestamp time.Time
	Level     slog.Level
	Subsystem string
	Message   string
	Err       error
}

const tuiChannelBufferSize = 2048

var (
	mu         sync.RWMutex
	handler    slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	tuiChannel chan LogEntry
)

// InitForCLI installs a text handler at the given level writing to w.
func InitForCLI(level slog.Level, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	tuiChannel = nil
}

// InitForTUI switches to channel-based logging and returns the channel a
// terminal UI should drain. bufferSize <= 0 selects the default. Entries
// that cannot be buffered are dropped with a stderr notice rather than
// blocking the caller.
func InitForTUI(bufferSize int) <-chan LogEntry {
	mu.Lock()
	defer mu.Unlock()
	if bufferSize <= 0 {
		bufferSize = tuiChannelBufferSize
	}
	tuiChannel = make(chan LogEntry, bufferSize)
	handler = slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	return tuiChannel
}

// CloseTUIChannel ends TUI mode, closing the channel handed out by
// InitForTUI and reverting to the stderr text handler.
func CloseTUIChannel() {
	mu.Lock()
	defer mu.Unlock()
	if tuiChannel != nil {
		close(tuiChannel)
		tuiChannel = nil
	}
	handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
}

// Debug logs a debug-level message tagged with subsystem.
func Debug(subsystem, format string, args ...any) {
	log(context.Background(), slog.LevelDebug, subsystem, nil, format, args...)
}

// Info logs an info-level message tagged with subsystem.
func Info(subsystem, format string, args ...any) {
	log(context.Background(), slog.LevelInfo, subsystem, nil, format, args...)
}

// Warn logs a warn-level message tagged with subsystem.
func Warn(subsystem, format string, args ...any) {
	log(context.Background(), slog.LevelWarn, subsystem, nil, format, args...)
}

// Error logs an error-level message tagged with subsystem, attaching err.
func Error(subsystem string, err error, format string, args ...any) {
	log(context.Background(), slog.LevelError, subsystem, err, format, args...)
}

func log(ctx context.Context, level slog.Level, subsystem string, err error, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	mu.RLock()
	ch := tuiChannel
	h := handler
	mu.RUnlock()

	if ch != nil {
		entry := LogEntry{Timestamp: time.Now(), Level: level, Subsystem: subsystem, Message: msg, Err: err}
		select {
		case ch <- entry:
		default:
			fmt.Fprintf(os.Stderr, "log channel full, dropping: [%s] %s %s\n", level, subsystem, msg)
		}
		return
	}

	l := slog.New(h)
	if err != nil {
		l.Log(ctx, level, msg, "subsystem", subsystem, "error", err)
		return
	}
	l.Log(ctx, level, msg, "subsystem", subsystem)
}
