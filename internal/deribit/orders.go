package deribit

import (
	"context"
	"fmt"
)

// OpenOrders lists resting orders for a currency. The exchange query is
// unfiltered; kind filtering happens here because the endpoint's own kind
// parameter has proven unreliable with mixed accounts. Empty kind means all.
func (c *Client) OpenOrders(ctx context.Context, currency, kind string) ([]OpenOrder, error) {
	raw, err := c.Call(ctx, "private/get_open_orders_by_currency", map[string]any{
		"currency": currency,
	})
	if err != nil {
		return nil, fmt.Errorf("get open orders %s: %w", currency, err)
	}

	records, err := listOrSingle[orderRecord](raw)
	if err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	orders := make([]OpenOrder, 0, len(records))
	for _, rec := range records {
		if kind != "" && rec.Kind != kind {
			continue
		}
		orders = append(orders, OpenOrder{
			OrderID:        rec.OrderID,
			InstrumentName: rec.InstrumentName,
			Direction:      rec.Direction,
			Price:          rec.Price,
			Amount:         rec.Amount,
			Filled:         rec.FilledAmount,
			Remaining:      rec.Amount - rec.FilledAmount,
			OrderType:      rec.OrderType,
			OrderState:     rec.OrderState,
			TimeInForce:    rec.TimeInForce,
			Kind:           rec.Kind,
			CreatedAtMs:    rec.CreationTimestamp,
			UpdatedAtMs:    rec.LastUpdateTimestamp,
		})
	}

	c.logger.Debug().Int("total", len(records)).Int("matched", len(orders)).
		Str("kind", kind).Msg("open orders fetched")

	return orders, nil
}
