package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"AgneticGOD/internal/api"
	"AgneticGOD/internal/app"
	"AgneticGOD/internal/observability/metrics"
	"AgneticGOD/pkg/logger"
)

func newServeCommand(c *cli) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the agent over HTTP (POST /chat)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if port > 0 {
					rt.Config.Server.Port = port
				}
				return serve(ctx, rt)
			})
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides PORT)")
	return cmd
}

// serve 运行 API 服务与可选的独立指标端口，任一退出都会停止另一个。
func serve(ctx context.Context, rt *app.Runtime) error {
	g, ctx := errgroup.WithContext(ctx)

	server := api.NewServer(rt.Config.Server.Address(), rt.Agent)
	g.Go(func() error {
		return server.Start(ctx)
	})
	if metricsAddr := rt.Config.Metrics.Address; metricsAddr != "" {
		g.Go(func() error {
			logger.L().Info("metrics listening", slog.String("addr", metricsAddr))
			return metrics.StartServer(ctx, metricsAddr)
		})
	}
	return g.Wait()
}
