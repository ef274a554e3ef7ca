package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fwojciec/relay"
	relayjson "github.com/fwojciec/relay/json"
	"github.com/fwojciec/relay/nats"
)

func newWatchCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <conversation>",
		Short: "Print events as they are committed to a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.NATS.URL == "" {
				return errors.New("watch: no NATS server configured: set NATS_URL")
			}
			ctx := cmd.Context()
			nc, err := nats.Connect(ctx, cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			stop, err := nats.Subscribe(ctx, nc, cfg.NATS.SubjectPrefix, args[0], func(events []relay.Event) {
				for _, e := range events {
					data, err := relayjson.MarshalEvent(e)
					if err != nil {
						continue
					}
					fmt.Fprintln(out, string(data))
				}
			})
			if err != nil {
				return err
			}
			defer stop()

			<-ctx.Done()
			return nil
		},
	}
}
