package frontend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"AgneticGOD/internal/agent"
	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoRunner struct {
	mu       sync.Mutex
	messages []string
	errAt    int
	err      error
}

func (r *echoRunner) Run(ctx context.Context, message string, sink stream.Sink) (int, error) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	n := len(r.messages)
	r.mu.Unlock()

	if err := sink.Write(ctx, stream.Chunk{Kind: stream.KindAgent, Text: "echo: " + message}); err != nil {
		return 0, err
	}
	if r.err != nil && n == r.errAt {
		return 1, r.err
	}
	return 1, nil
}

func (r *echoRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func TestConsoleRunsUntilExit(t *testing.T) {
	runner := &echoRunner{}
	var out bytes.Buffer
	in := strings.NewReader("hello\n\n  EXIT  \nnever\n")

	err := NewConsole(runner, in, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, runner.seen())
	assert.Equal(t, "Starting chat mode... Type 'exit' to end.\necho: hello\n"+stream.Separator+"\n", out.String())
}

func TestConsolePromptMarker(t *testing.T) {
	var out bytes.Buffer
	err := NewConsole(&echoRunner{}, strings.NewReader("exit\n"), &out, WithPrompt(true)).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "\nPrompt: ")
}

func TestConsoleStopsAtEOF(t *testing.T) {
	runner := &echoRunner{}
	err := NewConsole(runner, strings.NewReader("a\nb"), &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, runner.seen())
}

func TestConsoleOracleFailureIsFatal(t *testing.T) {
	boom := xerrors.New(xerrors.CodeOracleFailure, "down")
	runner := &echoRunner{errAt: 1, err: boom}
	err := NewConsole(runner, strings.NewReader("a\nb\n"), &bytes.Buffer{}).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, runner.seen())
}

func TestFatalFollowsErrorRegistry(t *testing.T) {
	assert.False(t, fatal(nil))
	assert.False(t, fatal(agent.ErrTurnAborted))
	assert.False(t, fatal(xerrors.New(xerrors.CodeStorageFailure, "transcript unavailable")))
	assert.True(t, fatal(xerrors.New(xerrors.CodeOracleFailure, "down")))
	assert.True(t, fatal(xerrors.New(xerrors.CodeTimeout, "cancelled")))
	assert.True(t, fatal(errors.New("stdout closed")))
}

func TestConsoleContinuesAfterAbort(t *testing.T) {
	runner := &echoRunner{errAt: 1, err: agent.ErrTurnAborted}
	err := NewConsole(runner, strings.NewReader("a\nb\n"), &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, runner.seen())
}

func TestAutonomousRunsFixedPrompt(t *testing.T) {
	runner := &echoRunner{}
	var out bytes.Buffer
	err := NewAutonomous(runner, &out, WithInterval(time.Millisecond), WithMaxTurns(3)).Run(context.Background())
	require.NoError(t, err)

	seen := runner.seen()
	require.Len(t, seen, 3)
	for _, msg := range seen {
		assert.Equal(t, AutonomousPrompt, msg)
	}
	assert.True(t, strings.HasPrefix(out.String(), "Starting autonomous mode...\n"))
	assert.Equal(t, 3, strings.Count(out.String(), stream.Separator))
}

func TestAutonomousErrorIsFatal(t *testing.T) {
	boom := errors.New("oracle down")
	runner := &echoRunner{errAt: 2, err: boom}
	err := NewAutonomous(runner, &bytes.Buffer{}, WithInterval(time.Millisecond)).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Len(t, runner.seen(), 2)
}

func TestAutonomousStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &echoRunner{}
	done := make(chan error, 1)
	go func() {
		done <- NewAutonomous(runner, &bytes.Buffer{}, WithInterval(time.Hour)).Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(runner.seen()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("autonomous loop did not stop")
	}
}
