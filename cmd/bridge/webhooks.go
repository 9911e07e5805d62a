package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"acuity-passkit-bridge/internal/features"
)

func webhooksCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Switch inbound webhook processing on or off",
	}

	toggle := func(use, short string, apply func(*features.Manager, context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(*configFile)
				if err != nil {
					return err
				}
				defer a.close(context.Background())

				if !a.holder.IsAvailable(cmd.Context()) {
					return fmt.Errorf("store backend %q is unavailable; the flag would not outlive this command", a.holder.Backend())
				}
				if err := apply(a.flags, cmd.Context()); err != nil {
					return err
				}
				for name, flag := range a.flags.GetAll(cmd.Context()) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%t\n", name, flag.Enabled)
				}
				return nil
			},
		}
	}

	cmd.AddCommand(toggle("enable", "Process inbound webhooks", func(m *features.Manager, ctx context.Context) error {
		return m.Enable(ctx, features.FeatureWebhooksEnabled)
	}))
	cmd.AddCommand(toggle("disable", "Acknowledge inbound webhooks without acting on them", func(m *features.Manager, ctx context.Context) error {
		return m.Disable(ctx, features.FeatureWebhooksEnabled)
	}))

	return cmd
}
