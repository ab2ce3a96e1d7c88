package frontend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"AgneticGOD/internal/stream"
	"AgneticGOD/pkg/logger"
)

// Console is the interactive read-eval loop over a line-oriented input.
type Console struct {
	runner Runner
	in     io.Reader
	out    io.Writer
	prompt bool
	log    *slog.Logger
}

// ConsoleOption customises a Console.
type ConsoleOption func(*Console)

// WithPrompt forces the "Prompt: " marker on or off. By default it is shown
// only when the input is a terminal.
func WithPrompt(show bool) ConsoleOption {
	return func(c *Console) {
		c.prompt = show
	}
}

// NewConsole reads principal messages from in and renders turns to out.
func NewConsole(runner Runner, in io.Reader, out io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		runner: runner,
		in:     in,
		out:    out,
		prompt: isTerminal(in),
		log:    logger.Component("console"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Run loops until "exit", end of input or ctx ends. A failed turn ends the
// loop with its error.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Starting chat mode... Type 'exit' to end.")

	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	sink := stream.NewConsoleSink(c.out)
	for {
		if c.prompt {
			fmt.Fprint(c.out, "\nPrompt: ")
		}

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return <-readErr
			}
			line = l
		}

		message := strings.TrimSpace(line)
		if strings.EqualFold(message, "exit") {
			return nil
		}
		if message == "" {
			continue
		}

		if _, err := c.runner.Run(ctx, message, sink); fatal(err) {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("turn failed", slog.Any("error", err))
			return err
		}
	}
}
