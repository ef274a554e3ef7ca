package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/export"
	relayjson "github.com/fwojciec/relay/json"
)

func newExportCmd(load loadFunc) *cobra.Command {
	var format, model string
	cmd := &cobra.Command{
		Use:   "export <conversation>",
		Short: "Print a Python script replaying the last assistant turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			events, _, err := a.log.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if model == "" {
				model = lastModel(events, cfg.Agent.DefaultModel)
			}
			vendor, mode, err := a.registry.Resolve(model)
			if err != nil {
				return err
			}
			ws := cfg.Workspace
			script, err := export.Script(vendor, f, model, events, export.Options{
				Mode:             mode,
				SystemPrompt:     ws.SystemPrompt,
				ReasoningEffort:  ws.ReasoningEffort,
				ReasoningSummary: ws.ReasoningSummary,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), script)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatPythonSDK), "script format: python-sdk or python-http")
	cmd.Flags().StringVar(&model, "model", "", "model to replay with (default: the recorded model)")
	return cmd
}

func newEventsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "events <conversation>",
		Short: "Print the stored events of a conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			events, _, err := a.log.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := relayjson.MarshalEvents(events)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

// lastModel returns the model recorded on the latest response, or fallback.
func lastModel(events []relay.Event, fallback string) string {
	for i := len(events) - 1; i >= 0; i-- {
		if md := events[i].ResponseMetadata; md != nil && md.Model != "" {
			return md.Model
		}
	}
	return fallback
}
