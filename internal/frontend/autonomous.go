package frontend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"AgneticGOD/internal/stream"
	"AgneticGOD/pkg/logger"
)

// AutonomousPrompt is the self-directed message sent on every tick.
const AutonomousPrompt = "Be creative and do something interesting on the blockchain. " +
	"Choose an action or set of actions and execute it that highlights your abilities."

const defaultInterval = 10 * time.Second

// Autonomous runs a turn, sleeps for the interval and repeats.
type Autonomous struct {
	runner   Runner
	out      io.Writer
	interval time.Duration
	prompt   string
	maxTurns int
	log      *slog.Logger
}

// AutonomousOption customises an Autonomous loop.
type AutonomousOption func(*Autonomous)

// WithInterval sets the pause between turns.
func WithInterval(d time.Duration) AutonomousOption {
	return func(a *Autonomous) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithAutonomousPrompt replaces the self-directed message.
func WithAutonomousPrompt(prompt string) AutonomousOption {
	return func(a *Autonomous) {
		if prompt != "" {
			a.prompt = prompt
		}
	}
}

// WithMaxTurns stops the loop after n turns; 0 runs until ctx ends.
func WithMaxTurns(n int) AutonomousOption {
	return func(a *Autonomous) {
		if n >= 0 {
			a.maxTurns = n
		}
	}
}

// NewAutonomous renders every turn to out.
func NewAutonomous(runner Runner, out io.Writer, opts ...AutonomousOption) *Autonomous {
	a := &Autonomous{
		runner:   runner,
		out:      out,
		interval: defaultInterval,
		prompt:   AutonomousPrompt,
		log:      logger.Component("autonomous"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Run returns nil when ctx ends or the turn budget is spent, and the turn
// error on the first failure.
func (a *Autonomous) Run(ctx context.Context) error {
	fmt.Fprintln(a.out, "Starting autonomous mode...")

	sink := stream.Tee(stream.NewConsoleSink(a.out), stream.NewLogSink(a.log))
	for turns := 1; ; turns++ {
		if _, err := a.runner.Run(ctx, a.prompt, sink); fatal(err) {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Error("autonomous turn failed", slog.Any("error", err))
			return err
		}
		if a.maxTurns > 0 && turns >= a.maxTurns {
			return nil
		}
		if !sleep(ctx, a.interval) {
			return nil
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
