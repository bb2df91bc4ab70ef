// Package sentinel is the pre-trade confidence filter. Elite-tier signals
// are scored by an external prediction service before execution; everyone
// else passes through at full stake.
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/database"
)

// Decision is the gate's verdict on a signal
type Decision struct {
	Execute     bool    `json:"execute"`
	StakeFactor float64 `json:"stake_factor"` // multiplier applied to the configured stake
	IsFallback  bool    `json:"is_fallback"`  // true when the service was unreachable
	Confidence  float64 `json:"confidence"`   // 0..100, elite tier only
	Reason      string  `json:"reason"`
}

// CheckRequest is what the gate needs to know about the pending trade
type CheckRequest struct {
	Symbol       string
	Timeframe    int // granularity in seconds
	StrategyMode string
	Tier         string
}

type predictRequest struct {
	Symbol       string `json:"symbol"`
	Timeframe    int    `json:"timeframe"`
	StrategyMode string `json:"strategy_mode"`
}

type predictResponse struct {
	Confidence float64 `json:"confidence"`
}

// Gate scores pending trades against the prediction service. The service
// deadline is short; an engine cycle must never stall on a slow model, so
// unreachability degrades to a reduced-stake fallback instead of a block.
type Gate struct {
	serviceURL     string
	minConfidence  float64
	fallbackFactor float64
	client         *http.Client
	logger         zerolog.Logger
}

// New builds a gate from configuration
func New(cfg config.SentinelConfig, logger zerolog.Logger) *Gate {
	return &Gate{
		serviceURL:     cfg.ServiceURL,
		minConfidence:  cfg.MinConfidence,
		fallbackFactor: cfg.FallbackFactor,
		client:         &http.Client{Timeout: cfg.Timeout},
		logger:         logger.With().Str("component", "sentinel").Logger(),
	}
}

// Check decides whether a signal may execute and at what stake. Only elite
// subscribers are scored; other tiers execute at full stake.
func (g *Gate) Check(ctx context.Context, req CheckRequest) Decision {
	if req.Tier != database.TierElite {
		return Decision{Execute: true, StakeFactor: 1, Reason: "tier not gated"}
	}

	confidence, err := g.predict(ctx, req)
	if err != nil {
		g.logger.Warn().Err(err).Str("symbol", req.Symbol).Msg("prediction unavailable, executing reduced stake")
		return Decision{
			Execute:     true,
			StakeFactor: g.fallbackFactor,
			IsFallback:  true,
			Reason:      "prediction service unavailable",
		}
	}

	if confidence < g.minConfidence {
		g.logger.Info().
			Float64("confidence", confidence).
			Float64("min", g.minConfidence).
			Str("symbol", req.Symbol).
			Msg("signal blocked below confidence floor")
		return Decision{
			Execute:    false,
			Confidence: confidence,
			Reason:     fmt.Sprintf("confidence %.1f below %.1f", confidence, g.minConfidence),
		}
	}

	return Decision{
		Execute:     true,
		StakeFactor: 1,
		Confidence:  confidence,
		Reason:      "confidence passed",
	}
}

func (g *Gate) predict(ctx context.Context, req CheckRequest) (float64, error) {
	body, err := json.Marshal(predictRequest{
		Symbol:       req.Symbol,
		Timeframe:    req.Timeframe,
		StrategyMode: req.StrategyMode,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.serviceURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build predict request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("predict request failed after %s: %w", time.Since(start), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("predict returned status %d", resp.StatusCode)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("failed to decode predict response: %w", err)
	}
	return pr.Confidence, nil
}
