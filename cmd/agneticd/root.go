package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"AgneticGOD/internal/app"
	"AgneticGOD/internal/config"
	"AgneticGOD/pkg/logger"
)

// cli 保存各子命令共享的输入输出与配置路径。
type cli struct {
	configPath string
	in         *bufio.Reader
	out        io.Writer
	tty        bool

	// open 构建运行时，测试中可替换。
	open func(ctx context.Context, cfg *config.Config) (*app.Runtime, error)
}

func newCLI(in io.Reader, out io.Writer) *cli {
	tty := false
	if f, ok := in.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &cli{
		in:  bufio.NewReader(in),
		out: out,
		tty: tty,
		open: func(ctx context.Context, cfg *config.Config) (*app.Runtime, error) {
			return app.New(ctx, cfg)
		},
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "agneticd",
		Short: "AgneticGOD is a wallet-holding chat agent guarding an on-chain deposit hook",
		Long: `agneticd runs the AgneticGOD agent in one of three front ends: an interactive
console, an autonomous loop, or an HTTP service. Without a subcommand it asks
which mode to start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := chooseMode(c.in, c.out)
			if err != nil {
				return err
			}
			if mode == modeAuto {
				return c.runAuto(cmd.Context())
			}
			return c.runChat(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("AGNETIC_CONFIG"),
		"Path to a JSON, YAML or TOML config file; environment variables override it")

	root.AddCommand(newChatCommand(c), newAutoCommand(c), newServeCommand(c))
	return root
}

// withRuntime 加载并校验配置、初始化日志、构建运行时，执行 fn 后释放资源。
func (c *cli) withRuntime(ctx context.Context, fn func(ctx context.Context, rt *app.Runtime) error) (err error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := app.InitLogging(cfg); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	rt, err := c.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	return fn(ctx, rt)
}
