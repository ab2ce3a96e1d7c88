package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"AgneticGOD/internal/app"
	"AgneticGOD/internal/frontend"
)

type mode string

const (
	modeChat mode = "chat"
	modeAuto mode = "auto"
)

// chooseMode 询问用户要启动的模式，直到得到有效输入。
func chooseMode(in *bufio.Reader, out io.Writer) (mode, error) {
	for {
		fmt.Fprintln(out, "\nAvailable modes:")
		fmt.Fprintln(out, "1. chat    - Interactive chat mode")
		fmt.Fprintln(out, "2. auto    - Autonomous action mode")
		fmt.Fprint(out, "\nChoose a mode (enter number or name): ")

		line, err := in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "1", "chat":
			return modeChat, nil
		case "2", "auto":
			return modeAuto, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no mode chosen")
			}
			return "", err
		}
		fmt.Fprintln(out, "Invalid choice. Please try again.")
	}
}

func newChatCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runChat(cmd.Context())
		},
	}
}

func newAutoCommand(c *cli) *cobra.Command {
	var turns int
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Autonomous action mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAuto(cmd.Context(), frontend.WithMaxTurns(turns))
		},
	}
	cmd.Flags().IntVar(&turns, "turns", 0, "Stop after this many turns (0 runs until interrupted)")
	return cmd
}

func (c *cli) runChat(ctx context.Context) error {
	return c.withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return frontend.NewConsole(rt.Agent, c.in, c.out, frontend.WithPrompt(c.tty)).Run(ctx)
	})
}

func (c *cli) runAuto(ctx context.Context, opts ...frontend.AutonomousOption) error {
	return c.withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		opts = append([]frontend.AutonomousOption{frontend.WithInterval(rt.Config.Autonomous.Interval)}, opts...)
		return frontend.NewAutonomous(rt.Agent, c.out, opts...).Run(ctx)
	})
}
