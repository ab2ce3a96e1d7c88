package stream

import (
	"context"
	"time"
)

// Kind identifies which side of a turn produced an event.
type Kind string

const (
	// KindAgent carries text produced by the decision oracle.
	KindAgent Kind = "agent"
	// KindTools carries the payload of an action invocation.
	KindTools Kind = "tools"
)

// Event is emitted by the decision engine while a turn runs.
type Event struct {
	Kind      Kind
	Text      string
	Operation string
	At        time.Time
}

// Chunk is the unit rendered by a front end. Seq starts at 0 for every turn.
type Chunk struct {
	Seq       int
	Kind      Kind
	Text      string
	Operation string
}

// Multiplex relabels events into chunks in arrival order. The returned
// channel is closed once events is closed or ctx ends; until then every
// event yields exactly one chunk.
func Multiplex(ctx context.Context, events <-chan Event) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		seq := 0
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				chunk := Chunk{Seq: seq, Kind: ev.Kind, Text: ev.Text, Operation: ev.Operation}
				select {
				case out <- chunk:
					seq++
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Drain multiplexes events into sink and returns how many chunks were
// delivered. After the first sink error the remaining events are still
// consumed so the producer can finish its turn; that error is returned.
func Drain(ctx context.Context, events <-chan Event, sink Sink) (int, error) {
	var (
		delivered int
		firstErr  error
	)
	for chunk := range Multiplex(ctx, events) {
		if firstErr != nil {
			continue
		}
		if err := sink.Write(ctx, chunk); err != nil {
			firstErr = err
			continue
		}
		delivered++
	}
	if firstErr != nil {
		return delivered, firstErr
	}
	return delivered, ctx.Err()
}
