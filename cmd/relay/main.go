// Command relay converses with OpenAI and Anthropic models while executing
// tools from MCP servers.
//
// Usage:
//
//	relay serve                  serve the HTTP API
//	relay chat [message]         run turns from the terminal
//	relay migrate                apply postgres migrations
//	relay export <conversation>  print a replay script
//	relay events <conversation>  print stored events as JSON
//	relay tools                  list the configured tools
//	relay watch <conversation>   print committed events from NATS
//
// Configuration is read from relay.yaml (see -config), .env and the
// environment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fwojciec/relay/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Converse with LLMs while executing MCP tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "path to the YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(
		newServeCmd(load),
		newChatCmd(load),
		newMigrateCmd(load),
		newExportCmd(load),
		newEventsCmd(load),
		newToolsCmd(load),
		newWatchCmd(load),
	)
	return root
}

type loadFunc func() (*config.Config, error)
