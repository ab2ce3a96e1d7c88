package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgneticGOD/internal/app"
	"AgneticGOD/internal/config"
	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/llm/llmtest"
	"AgneticGOD/internal/stream"
	"AgneticGOD/internal/wallet"
	"AgneticGOD/internal/wallet/wallettest"
)

var boundEnv = []string{
	"LLM_PROVIDER", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "GEMINI_API_KEY", "GEMINI_MODEL",
	"WALLET_RPC_URL", "WALLET_PASSPHRASE", "NETWORK_ID", "NETWORKS_FILE", "HOOK_ADDRESS", "TOKEN_ADDRESS",
	"PORT", "LOG_LEVEL", "REDIS_ADDR", "MYSQL_DSN", "AMQP_URL", "METRICS_ADDR", "AUTONOMOUS_INTERVAL",
	"AGENT_MAX_ITERATIONS", "AGENT_HISTORY_LIMIT", "RECEIPT_TIMEOUT", "AGNETIC_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range boundEnv {
		t.Setenv(env, "")
	}
}

// writeConfig 在临时目录写入配置，日志输出到文件以免干扰断言。
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agnetic.yaml")
	body := "session:\n  path: wallet_data.txt\nlog:\n  outputs:\n    - " + filepath.Join(dir, "agnetic.log") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testCLI(t *testing.T, input string, oracle *llmtest.Script) (*cli, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	c := newCLI(strings.NewReader(input), out)
	c.open = func(ctx context.Context, cfg *config.Config) (*app.Runtime, error) {
		return app.New(ctx, cfg,
			app.WithOracle(oracle),
			app.WithWalletBuilder(func(context.Context, wallet.Network, []byte) (wallet.Bridge, error) {
				return wallettest.New(), nil
			}),
		)
	}
	return c, out
}

func execute(c *cli, args ...string) error {
	root := newRootCommand(c)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestChooseMode(t *testing.T) {
	cases := map[string]mode{
		"1\n":        modeChat,
		"chat\n":     modeChat,
		" AUTO \n":   modeAuto,
		"2":          modeAuto,
		"x\n\n2\n":   modeAuto,
		"nope\nchat": modeChat,
	}
	for input, want := range cases {
		out := &bytes.Buffer{}
		got, err := chooseMode(bufio.NewReader(strings.NewReader(input)), out)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
		assert.Contains(t, out.String(), "1. chat    - Interactive chat mode")
		assert.Contains(t, out.String(), "Choose a mode (enter number or name): ")
	}
}

func TestChooseModeRetriesAndGivesUpAtEOF(t *testing.T) {
	out := &bytes.Buffer{}
	_, err := chooseMode(bufio.NewReader(strings.NewReader("3\n")), out)
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "Invalid choice. Please try again."))
}

func TestMissingConfigurationListsEveryVariable(t *testing.T) {
	clearEnv(t)
	c, _ := testCLI(t, "", llmtest.NewScript())
	c.open = func(context.Context, *config.Config) (*app.Runtime, error) {
		t.Fatal("runtime must not be built with invalid configuration")
		return nil, nil
	}

	err := execute(c, "chat", "--config", writeConfig(t))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
	for _, name := range []string{"OPENAI_API_KEY", "WALLET_RPC_URL", "WALLET_PASSPHRASE"} {
		assert.Contains(t, err.Error(), name)
	}
}

func setValidEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WALLET_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("WALLET_PASSPHRASE", "hunter2")
}

func TestChatCommandRunsConsole(t *testing.T) {
	setValidEnv(t)
	c, out := testCLI(t, "hello\nexit\n", llmtest.NewScript(llmtest.Reply("Go away.")))

	require.NoError(t, execute(c, "chat", "--config", writeConfig(t)))
	assert.Contains(t, out.String(), "Starting chat mode... Type 'exit' to end.\n")
	assert.Contains(t, out.String(), "Go away.\n"+stream.Separator+"\n")
	assert.NotContains(t, out.String(), "Prompt: ")
}

func TestBareInvocationAsksForMode(t *testing.T) {
	setValidEnv(t)
	c, out := testCLI(t, "9\nchat\nhello\nexit\n", llmtest.NewScript(llmtest.Reply("Pay first.")))

	require.NoError(t, execute(c, "--config", writeConfig(t)))
	text := out.String()
	assert.Contains(t, text, "Invalid choice. Please try again.")
	assert.Contains(t, text, "Starting chat mode...")
	assert.Contains(t, text, "Pay first.")
}

func TestAutoCommandStopsAfterTurns(t *testing.T) {
	setValidEnv(t)
	t.Setenv("AUTONOMOUS_INTERVAL", "1ms")
	oracle := llmtest.NewScript(llmtest.Reply("I did nothing."), llmtest.Reply("Still nothing."))
	c, out := testCLI(t, "", oracle)

	require.NoError(t, execute(c, "auto", "--turns", "2", "--config", writeConfig(t)))
	assert.Contains(t, out.String(), "Starting autonomous mode...")
	assert.Contains(t, out.String(), "Still nothing.")
	assert.Equal(t, 0, oracle.Remaining())
}

func TestOracleFailureEndsChat(t *testing.T) {
	setValidEnv(t)
	c, _ := testCLI(t, "hello\n", llmtest.NewScript(llmtest.Fail(assert.AnError)))

	err := execute(c, "chat", "--config", writeConfig(t))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeOracleFailure, xerrors.CodeOf(err))
}
