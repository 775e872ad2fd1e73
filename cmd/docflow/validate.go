package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/docflow/internal/compiler"
	"github.com/rendis/docflow/internal/diagram"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/internal/store"
)

func newValidateCmd(cfgFn func() (*Config, error)) *cobra.Command {
	var mermaid bool

	cmd := &cobra.Command{
		Use:   "validate [DIR]",
		Short: "Validate workflow definitions and show their routing",
		Long:  "Loads every workflow in DIR (default: workflows_dir), validates it and prints the queue each action routes to.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := cfgFn()
				if err != nil {
					return err
				}
				dir = cfg.WorkflowsDir
			}

			validator, _, err := newValidator()
			if err != nil {
				return err
			}
			loader := compiler.NewLoader(dir, validator)
			if _, err := loader.LoadAll(); err != nil {
				return err
			}

			blobs := store.NewMemoryStore()
			defer blobs.Close()
			comp := compiler.New(loader, blobs, compiler.WithLogger(logging.Discard()))

			if mermaid {
				return printMermaid(cmd, comp, loader.Names())
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKFLOW\tACTION\tQUEUE\tTERMINATES\tCONDITION")
			for _, name := range loader.Names() {
				wf, err := comp.Compile(cmd.Context(), compiler.Key{Name: name})
				if err != nil {
					return err
				}
				for _, a := range wf.Actions {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", wf.Name, a.Name, a.Queue, a.TerminateOnFailure, oneLine(a.Condition))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&mermaid, "mermaid", false, "Print each workflow as a Mermaid flowchart")
	return cmd
}

func printMermaid(cmd *cobra.Command, comp *compiler.Compiler, names []string) error {
	for i, name := range names {
		wf, err := comp.Compile(cmd.Context(), compiler.Key{Name: name})
		if err != nil {
			return err
		}
		model, err := diagram.Build(wf, nil)
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(model))
	}
	return nil
}

func oneLine(s string) string {
	if s == "" {
		return "-"
	}
	return strings.Join(strings.Fields(s), " ")
}
