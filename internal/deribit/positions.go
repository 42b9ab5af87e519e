package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// Positions smaller than this are exchange rounding noise, not holdings.
const sizeEpsilon = 1e-8

// Positions fetches the account's positions for one currency and kind,
// normalized and with Gamma/Vega resolved per the configured source policy.
func (c *Client) Positions(ctx context.Context, currency, kind string) ([]Position, error) {
	raw, err := c.Call(ctx, "private/get_positions", map[string]any{
		"currency": currency,
		"kind":     kind,
	})
	if err != nil {
		return nil, fmt.Errorf("get positions %s/%s: %w", currency, kind, err)
	}

	records, err := listOrSingle[positionRecord](raw)
	if err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]Position, 0, len(records))
	for _, rec := range records {
		if math.Abs(rec.Size) < sizeEpsilon {
			continue
		}

		pos := Position{
			InstrumentName: rec.InstrumentName,
			Kind:           rec.Kind,
			Direction:      directionOf(rec.Size),
			Size:           math.Abs(rec.Size),
			MarkIV:         rec.MarkIV,
			Gamma:          rec.Gamma,
			Delta:          rec.Delta,
			Theta:          rec.Theta,
			Vega:           rec.Vega,
		}
		if pos.Kind == "" {
			pos.Kind = kind
		}

		// Zero top-level sensitivities fall back to the nested greeks
		// object; partial records are common and must not fail the cycle.
		if rec.Greeks != nil {
			if math.Abs(pos.Gamma) < sizeEpsilon {
				pos.Gamma = rec.Greeks.Gamma
			}
			if math.Abs(pos.Delta) < sizeEpsilon {
				pos.Delta = rec.Greeks.Delta
			}
			if math.Abs(pos.Theta) < sizeEpsilon {
				pos.Theta = rec.Greeks.Theta
			}
			if math.Abs(pos.Vega) < sizeEpsilon {
				pos.Vega = rec.Greeks.Vega
			}
		}

		c.resolveGammaVega(ctx, &pos)

		c.logger.Info().
			Str("instrument", pos.InstrumentName).
			Str("direction", pos.Direction).
			Float64("size", pos.Size).
			Float64("gamma", pos.Gamma).
			Float64("vega", pos.Vega).
			Msg("position observed")

		positions = append(positions, pos)
	}

	return positions, nil
}

// resolveGammaVega applies the greeks source policy. Both paths leave Gamma
// and Vega as magnitudes: the order book reports per-contract values that
// are scaled by position size, while the position record is already
// aggregated. Which unit convention the exchange intends is ambiguous, so
// the policy is configuration rather than a fixed heuristic.
func (c *Client) resolveGammaVega(ctx context.Context, pos *Position) {
	if c.opts.GreeksSource == GreeksPosition {
		pos.Gamma = math.Abs(pos.Gamma)
		pos.Vega = math.Abs(pos.Vega)
		return
	}

	perContract, err := c.orderBookGreeks(ctx, pos.InstrumentName)
	if err != nil || perContract == nil {
		if c.opts.GreeksSource == GreeksOrderBook {
			c.logger.Warn().Err(err).Str("instrument", pos.InstrumentName).
				Msg("order book greeks unavailable, falling back to position record")
		}
		pos.Gamma = math.Abs(pos.Gamma)
		pos.Vega = math.Abs(pos.Vega)
		return
	}

	pos.Gamma = math.Abs(perContract.Gamma) * pos.Size
	pos.Vega = math.Abs(perContract.Vega) * pos.Size
}

func (c *Client) orderBookGreeks(ctx context.Context, instrument string) (*greeksRecord, error) {
	raw, err := c.Call(ctx, "public/get_order_book", map[string]any{
		"instrument_name": instrument,
		"depth":           1,
	})
	if err != nil {
		return nil, err
	}

	var book orderBookResult
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("decode order book: %w", err)
	}
	return book.Greeks, nil
}

func directionOf(size float64) string {
	if size > 0 {
		return "buy"
	}
	return "sell"
}
