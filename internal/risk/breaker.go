// Package risk holds the circuit breaker that halts a session when its
// trailing losses breach the configured share of the account balance.
package risk

import (
	"context"
	"time"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/logging"
	"deriv-trading-bot/internal/metrics"
)

// Ledger is the slice of the trade store the breaker reads
type Ledger interface {
	SumPnLSince(ctx context.Context, userID string, since time.Time) (float64, error)
}

// Verdict is the outcome of a breaker check
type Verdict struct {
	Tripped   bool
	PnL       float64 // realized PnL over the window
	Threshold float64 // loss level that trips, expressed as a negative number
}

// Breaker evaluates a user's trailing-hour realized PnL against a percentage
// of their balance. A ledger failure fails open: trading continues rather
// than halting on infrastructure trouble.
type Breaker struct {
	cfg    config.CircuitBreakerConfig
	ledger Ledger
	logger *logging.Logger
	window time.Duration
	now    func() time.Time
}

// NewBreaker builds a breaker over the trade ledger
func NewBreaker(cfg config.CircuitBreakerConfig, ledger Ledger, logger *logging.Logger) *Breaker {
	return &Breaker{
		cfg:    cfg,
		ledger: ledger,
		logger: logger.WithComponent("risk"),
		window: time.Hour,
		now:    time.Now,
	}
}

// Check evaluates the breaker for a user. Balance is the live account
// balance; zero or below substitutes the configured fallback so a session
// that has not authorized yet still has a sane loss limit.
func (b *Breaker) Check(ctx context.Context, userID string, balance float64) Verdict {
	if !b.cfg.Enabled {
		return Verdict{}
	}

	if balance <= 0 {
		balance = b.cfg.FallbackBalance
	}
	threshold := -(b.cfg.MaxHourlyLossPercent / 100) * balance

	pnl, err := b.ledger.SumPnLSince(ctx, userID, b.now().Add(-b.window))
	if err != nil {
		b.logger.WithUser(userID).Warn("breaker check failed open", "error", err.Error())
		return Verdict{Threshold: threshold}
	}

	if pnl <= threshold {
		b.logger.WithUser(userID).Error("circuit breaker tripped",
			"pnl", pnl, "threshold", threshold, "balance", balance)
		metrics.BreakerTripsTotal.Inc()
		return Verdict{Tripped: true, PnL: pnl, Threshold: threshold}
	}

	return Verdict{PnL: pnl, Threshold: threshold}
}
