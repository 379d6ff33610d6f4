package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is the structured logging interface consumed throughout the module.
// All components treat it as optional and nil-check before logging, so tests
// and embedders that do not care about logs can pass nil.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// StdLogger adapts the standard library logger to the Logger interface for
// the binaries. Debug lines are suppressed unless Verbose is set.
type StdLogger struct {
	Verbose bool
	l       *log.Logger
}

// NewStdLogger creates a StdLogger writing to stderr.
func NewStdLogger(verbose bool) *StdLogger {
	return &StdLogger{Verbose: verbose, l: log.New(os.Stderr, "", log.LstdFlags)}
}

// Debug implements Logger.
func (s *StdLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	if s.Verbose {
		s.print("DEBUG", msg, keyvals)
	}
}

// Info implements Logger.
func (s *StdLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	s.print("INFO", msg, keyvals)
}

// Warn implements Logger.
func (s *StdLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	s.print("WARN", msg, keyvals)
}

// Error implements Logger.
func (s *StdLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	s.print("ERROR", msg, keyvals)
}

func (s *StdLogger) print(level, msg string, keyvals []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	s.l.Print(b.String())
}
