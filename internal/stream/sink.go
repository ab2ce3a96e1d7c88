package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Separator is printed by the console after every chunk.
const Separator = "-------------------"

// Sink receives chunks in order.
type Sink interface {
	Write(ctx context.Context, chunk Chunk) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, chunk Chunk) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, chunk Chunk) error { return f(ctx, chunk) }

// ConsoleSink prints each chunk followed by Separator.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink writes to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Write prints the chunk text and the separator line.
func (s *ConsoleSink) Write(_ context.Context, chunk Chunk) error {
	if _, err := fmt.Fprintln(s.w, chunk.Text); err != nil {
		return err
	}
	_, err := fmt.Fprintln(s.w, Separator)
	return err
}

// CollectSink accumulates chunk texts, as the HTTP service returns them.
type CollectSink struct {
	mu    sync.Mutex
	texts []string
}

// Write appends the chunk text.
func (s *CollectSink) Write(_ context.Context, chunk Chunk) error {
	s.mu.Lock()
	s.texts = append(s.texts, chunk.Text)
	s.mu.Unlock()
	return nil
}

// Texts returns the collected texts; never nil.
func (s *CollectSink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// LogSink records chunks through slog.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink logs to l, or slog.Default when l is nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{log: l}
}

// Write logs the chunk at info level.
func (s *LogSink) Write(ctx context.Context, chunk Chunk) error {
	attrs := []any{slog.Int("seq", chunk.Seq), slog.String("kind", string(chunk.Kind))}
	if chunk.Operation != "" {
		attrs = append(attrs, slog.String("operation", chunk.Operation))
	}
	attrs = append(attrs, slog.String("text", chunk.Text))
	s.log.InfoContext(ctx, "turn output", attrs...)
	return nil
}

// Tee writes every chunk to each sink in order, stopping at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, chunk Chunk) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Write(ctx, chunk); err != nil {
				return err
			}
		}
		return nil
	})
}
