package stream

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func feed(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestMultiplexPreservesOrderAndCount(t *testing.T) {
	in := []Event{
		{Kind: KindAgent, Text: "Let me check."},
		{Kind: KindTools, Text: "The user 0xabc has not paid their deposit.", Operation: "check_deposit"},
		{Kind: KindAgent, Text: "Pay up."},
	}

	var got []Chunk
	for chunk := range Multiplex(context.Background(), feed(in...)) {
		got = append(got, chunk)
	}

	want := []Chunk{
		{Seq: 0, Kind: KindAgent, Text: "Let me check."},
		{Seq: 1, Kind: KindTools, Text: "The user 0xabc has not paid their deposit.", Operation: "check_deposit"},
		{Seq: 2, Kind: KindAgent, Text: "Pay up."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestMultiplexKeepsDuplicates(t *testing.T) {
	same := Event{Kind: KindAgent, Text: "again"}
	var n int
	for range Multiplex(context.Background(), feed(same, same, same)) {
		n++
	}
	assert.Equal(t, 3, n)
}

func TestMultiplexStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)
	out := Multiplex(ctx, events)
	cancel()

	_, open := <-out
	assert.False(t, open)
}

func TestDrainConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	n, err := Drain(context.Background(), feed(
		Event{Kind: KindAgent, Text: "hello"},
		Event{Kind: KindTools, Text: "done"},
	), NewConsoleSink(&buf))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hello\n"+Separator+"\ndone\n"+Separator+"\n", buf.String())
}

func TestDrainCollectSink(t *testing.T) {
	sink := &CollectSink{}
	assert.NotNil(t, sink.Texts())

	_, err := Drain(context.Background(), feed(Event{Kind: KindAgent, Text: "a"}, Event{Kind: KindTools, Text: "b"}), sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sink.Texts())
}

func TestDrainConsumesAfterSinkError(t *testing.T) {
	boom := errors.New("closed pipe")
	calls := 0
	sink := SinkFunc(func(context.Context, Chunk) error {
		calls++
		return boom
	})

	events := make(chan Event)
	go func() {
		defer close(events)
		for i := 0; i < 3; i++ {
			events <- Event{Kind: KindAgent, Text: "x"}
		}
	}()

	n, err := Drain(context.Background(), events, sink)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	assert.Equal(t, 1, calls)
}

func TestLogSinkAndTee(t *testing.T) {
	var buf bytes.Buffer
	logSink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	collect := &CollectSink{}

	_, err := Drain(context.Background(), feed(Event{Kind: KindTools, Text: "paid", Operation: "check_deposit"}), Tee(logSink, collect))
	require.NoError(t, err)
	assert.True(t, strings.Contains(buf.String(), "operation=check_deposit"), buf.String())
	assert.Equal(t, []string{"paid"}, collect.Texts())
}
