// Docflow is the workflow worker: it routes documents arriving on a queue to
// the next action of their declarative workflow.
//
// Usage:
//
//	docflow [--config FILE] <command>
//
// Commands:
//
//	serve     Consume documents and route them
//	validate  Check the workflow definitions
//	mcp       Serve inspection tools over MCP stdio
//	version   Print the version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "docflow",
		Short:         "Declarative document workflow worker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./docflow.yaml)")

	cfgFn := func() (*Config, error) { return loadConfig(configPath) }
	rootCmd.AddCommand(
		newServeCmd(cfgFn),
		newValidateCmd(cfgFn),
		newMCPCmd(cfgFn),
		newVersionCmd(),
	)
	return rootCmd
}
