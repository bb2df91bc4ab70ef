package deriv

import (
	"context"
	"encoding/json"
	"fmt"
)

// allowedGranularities are the candle intervals the brokerage serves, in seconds
var allowedGranularities = []int{60, 120, 180, 300, 600, 900, 1800, 3600, 7200, 14400, 28800, 86400}

// ClosestGranularity maps a desired interval in seconds onto the nearest
// interval the brokerage supports.
func ClosestGranularity(seconds int) int {
	best := allowedGranularities[0]
	bestDiff := abs(seconds - best)
	for _, g := range allowedGranularities[1:] {
		if diff := abs(seconds - g); diff < bestDiff {
			best, bestDiff = g, diff
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// GetCandles fetches the most recent count OHLC bars for a symbol at the
// given granularity in seconds. The granularity is snapped to the nearest
// supported interval. Candle retrieval gets a longer deadline than other
// requests since history responses are the largest frames the session sees.
func (c *Client) GetCandles(ctx context.Context, symbol string, count, granularity int) ([]Candle, error) {
	if count <= 0 {
		return nil, fmt.Errorf("candle count must be positive")
	}

	payload := map[string]interface{}{
		"ticks_history":     symbol,
		"adjust_start_time": 1,
		"count":             count,
		"end":               "latest",
		"start":             1,
		"style":             "candles",
		"granularity":       ClosestGranularity(granularity),
	}

	raw, err := c.call(ctx, payload, c.cfg.CandleTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}

	var resp candlesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse candles response: %w", err)
	}
	if len(resp.Candles) == 0 {
		return nil, fmt.Errorf("no candles returned for %s", symbol)
	}
	return resp.Candles, nil
}
