package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fwojciec/relay"
)

func newToolsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed to models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			executor, err := connectTools(ctx, cfg)
			if err != nil {
				return err
			}
			defer executor.Close()

			tools := cfg.Workspace.Relay().FilterTools(executor.Tools())
			printTools(cmd.OutOrStdout(), tools)
			return nil
		},
	}
}

func printTools(w io.Writer, tools []relay.Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "no tools configured")
		return
	}
	for _, t := range tools {
		desc, _, _ := strings.Cut(t.Description, "\n")
		fmt.Fprintf(w, "%-24s %s\n", t.Name, desc)
	}
}
