package main

import (
	"github.com/spf13/cobra"

	relayhttp "github.com/fwojciec/relay/http"
)

func newServeCmd(load loadFunc) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			srv := relayhttp.NewServer(relayhttp.Config{
				Adapters:      a.registry,
				Conversations: a.log,
				Loop:          a.loop,
				Tools:         a.executor.Tools(),
				Workspace:     cfg.Workspace.Relay(),
				DefaultModel:  cfg.Agent.DefaultModel,
				Logger:        a.logger,
				ServiceName:   cfg.Telemetry.ServiceName,
			})
			a.logger.Info().
				Str("addr", cfg.Server.Addr).
				Int("tools", len(a.executor.Tools())).
				Msg("serving")
			return srv.ListenAndServe(a.logger.WithContext(cmd.Context()), cfg.Server.Addr, cfg.Server.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
