package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/payments"
)

func newOrdersCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and repair orders",
	}
	cmd.AddCommand(newReconcileCommand(open))
	return cmd
}

// newReconcileCommand re-verifies a payment with its provider, fulfilling the
// order when the callback and webhook were both missed
func newReconcileCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <provider> <reference>",
		Short: "Verify a payment with the provider and fulfill its order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				order, err := a.Payments.Verify(cmd.Context(), args[0], args[1])
				if errors.Is(err, payments.ErrPaymentPending) {
					fmt.Fprintf(cmd.OutOrStdout(), "Payment %s is not final yet (%v); the order stays pending\n", args[1], err)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Order %d for %q (%s) is %s\n", order.ID, order.PlanTitle, order.Tier, order.Status)
				return nil
			})
		},
	}
}
