package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DVOL returns the latest volatility index value for a currency. The index
// is queried as a two-day 1H-resolution window and the last bucket's close
// is taken, which tracks the live value closely enough for alerting.
func (c *Client) DVOL(ctx context.Context, currency string) (*DvolObservation, error) {
	end := c.now().UnixMilli()
	start := end - 2*24*time.Hour.Milliseconds()

	buckets, err := c.DvolHistory(ctx, currency, start, end, "1H")
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, fmt.Errorf("volatility index %s: no data", currency)
	}

	latest := buckets[len(buckets)-1]
	obs := &DvolObservation{
		Value:     latest.Close,
		Timestamp: float64(latest.TimestampMs) / 1000.0,
	}

	c.logger.Info().
		Str("currency", currency).
		Float64("dvol", obs.Value).
		Time("bucket", time.UnixMilli(latest.TimestampMs)).
		Msg("volatility index observed")

	return obs, nil
}

// DvolHistory queries the volatility index over [startMs, endMs] at the
// given resolution ("1M", "1H", "1D").
func (c *Client) DvolHistory(ctx context.Context, currency string, startMs, endMs int64, resolution string) ([]DvolBucket, error) {
	raw, err := c.Call(ctx, "public/get_volatility_index_data", map[string]any{
		"currency":        currency,
		"start_timestamp": startMs,
		"end_timestamp":   endMs,
		"resolution":      resolution,
	})
	if err != nil {
		return nil, fmt.Errorf("get volatility index %s: %w", currency, err)
	}

	var res volatilityIndexResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode volatility index: %w", err)
	}

	buckets := make([]DvolBucket, 0, len(res.Data))
	for _, row := range res.Data {
		// Rows are [timestamp_ms, open, high, low, close].
		if len(row) < 5 {
			c.logger.Warn().Int("fields", len(row)).Msg("跳过格式异常的 DVOL 数据行")
			continue
		}
		buckets = append(buckets, DvolBucket{
			TimestampMs: int64(row[0]),
			Open:        row[1],
			High:        row[2],
			Low:         row[3],
			Close:       row[4],
		})
	}
	return buckets, nil
}
