package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Orders lists the account's resting orders. 只读巡检，不会触碰任何挂单。
func (a *App) Orders(ctx context.Context, opts OrdersOptions) error {
	currencies := opts.Currencies
	if len(currencies) == 0 {
		currencies = a.Config.Deribit.Currencies
	}

	client := a.newClient()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Instrument\tKind\tDirection\tPrice\tAmount\tFilled\tRemaining\tState\tCreated (UTC)")

	total := 0
	for _, currency := range currencies {
		orders, err := client.OpenOrders(ctx, currency, opts.Kind)
		if err != nil {
			a.Logger.Warn().Err(err).Str("currency", currency).Msg("获取挂单失败")
			continue
		}
		for _, order := range orders {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%g\t%g\t%g\t%g\t%s\t%s\n",
				order.InstrumentName,
				order.Kind,
				order.Direction,
				order.Price,
				order.Amount,
				order.Filled,
				order.Remaining,
				order.OrderState,
				time.UnixMilli(order.CreatedAtMs).UTC().Format(time.RFC3339),
			)
		}
		total += len(orders)
	}

	if total == 0 {
		fmt.Fprintln(os.Stdout, "no open orders")
		return nil
	}

	writer.Flush()
	return nil
}
