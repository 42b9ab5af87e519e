package cli

import (
	"github.com/spf13/cobra"

	"greeks-watch/internal/app"
)

var (
	ordersCurrencies []string
	ordersKind       string
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List the account's open orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Orders(cmd.Context(), app.OrdersOptions{
			Currencies: ordersCurrencies,
			Kind:       ordersKind,
		})
	},
}

func init() {
	ordersCmd.Flags().StringSliceVar(&ordersCurrencies, "currency", nil, "Currencies to query (defaults to config)")
	ordersCmd.Flags().StringVar(&ordersKind, "kind", "", "Filter by contract kind (option, future; empty for all)")
}
