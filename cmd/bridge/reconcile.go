package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"acuity-passkit-bridge/internal/models"
	"acuity-passkit-bridge/internal/reconcile"
	"acuity-passkit-bridge/internal/validation"
)

func enrollCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll [orderID]",
		Short: "Enroll or refresh the wallet member for one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), *configFile, func(ctx context.Context, a *app) (models.Result, error) {
				return a.engine.Enroll(ctx, validation.SanitizeString(args[0]))
			})
		},
	}
}

func cancelCmd(configFile *string) *cobra.Command {
	var orderID, code, reason string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the wallet member for an order or certificate code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (orderID == "") == (code == "") {
				return errors.New("specify exactly one of --order or --certificate")
			}
			cc := reconcile.CancelContext{Action: "cli", Reason: reason}
			return runOnce(cmd.Context(), *configFile, func(ctx context.Context, a *app) (models.Result, error) {
				if orderID != "" {
					return a.engine.Cancel(ctx, orderID, cc)
				}
				return a.engine.CancelByCertificateCode(ctx, code, cc)
			})
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "Booking order id")
	cmd.Flags().StringVar(&code, "certificate", "", "Certificate code")
	cmd.Flags().StringVar(&reason, "reason", "cancelled from the command line", "Reason recorded on the member")

	return cmd
}

// runOnce wires the app, runs fn and prints its result as JSON.
func runOnce(ctx context.Context, configFile string, fn func(context.Context, *app) (models.Result, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(configFile)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	result, runErr := fn(ctx, a)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return runErr
}
