package main

import (
	"context"
	"errors"

	"github.com/fwojciec/relay/builtin"
	"github.com/fwojciec/relay/config"
	"github.com/fwojciec/relay/mcp"
)

// connectTools connects the builtin server, when enabled, and every
// configured MCP server. Builtin tools win name clashes.
func connectTools(ctx context.Context, cfg *config.Config) (*mcp.Executor, error) {
	var clients []*mcp.Client
	fail := func(err error) (*mcp.Executor, error) {
		for _, c := range clients {
			err = errors.Join(err, c.Close())
		}
		return nil, err
	}

	if cfg.MCP.Builtin.Enabled {
		srv, err := builtin.NewServer(cfg.MCP.Builtin.Root)
		if err != nil {
			return fail(err)
		}
		c, err := mcp.ConnectInProcess(ctx, builtin.Name, srv)
		if err != nil {
			return fail(err)
		}
		clients = append(clients, c)
	}
	for _, ep := range cfg.MCP.Servers {
		c, err := mcp.Connect(ctx, ep)
		if err != nil {
			return fail(err)
		}
		clients = append(clients, c)
	}

	e, err := mcp.NewExecutor(ctx, clients, mcp.WithMaxChars(cfg.Agent.MaxToolOutputChars))
	if err != nil {
		return fail(err)
	}
	return e, nil
}
