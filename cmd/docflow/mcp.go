package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/docflow/pkg/mcp"
)

func newMCPCmd(cfgFn func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve workflow inspection tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cfgFn()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol.
			logger := newLogger(cfg, os.Stderr)
			c, err := buildCore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			srv := mcp.NewDocflowServer(mcp.DocflowServerDeps{
				Names:     c.loader,
				Workflows: c.workflows,
				Processor: c.processor,
				ProjectID: cfg.ProjectID,
				Version:   version,
				Logger:    logger,
			})
			return srv.Serve(ctx)
		},
	}
}
