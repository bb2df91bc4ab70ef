package session

import (
	"context"
	"fmt"

	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/metrics"
)

// reconcileOpenTrades polls every open contract and settles the sold ones.
// Contracts open longer than the configured age are dropped from the
// in-memory set; the ledger row stays open for the bulk sync to settle.
func (s *Session) reconcileOpenTrades(ctx context.Context) {
	s.mu.Lock()
	pending := make([]*openTrade, 0, len(s.open))
	for _, t := range s.open {
		pending = append(pending, t)
	}
	s.mu.Unlock()

	for _, trade := range pending {
		status, err := s.client.GetContractStatus(ctx, trade.contractID)
		if err != nil {
			s.logger.WithSymbol(trade.symbol).Warn("contract poll failed",
				"contract_id", trade.contractID, "error", err.Error())
			continue
		}

		if status.IsSold != 1 {
			if s.now().Sub(trade.placedAt) > s.engineCfg.OpenTradeMaxAge {
				s.mu.Lock()
				delete(s.open, trade.tradeID)
				s.mu.Unlock()
				s.logger.WithSymbol(trade.symbol).Warn("stale open trade dropped from tracking",
					"contract_id", trade.contractID)
			}
			continue
		}

		s.settleTrade(ctx, trade, status.Profit, status.ExitSpot)
	}

	s.checkSessionTargets(ctx)
}

// settleTrade finalizes one sold contract in the ledger and session state
func (s *Session) settleTrade(ctx context.Context, trade *openTrade, pnl, exitPrice float64) {
	status := database.TradeStatusWon
	if pnl <= 0 {
		status = database.TradeStatusLost
	}

	if err := s.repo.SettleTrade(ctx, trade.tradeID, status, pnl, exitPrice, s.now()); err != nil {
		s.logger.WithSymbol(trade.symbol).Error("settlement write failed",
			"trade_id", trade.tradeID, "error", err.Error())
		return
	}

	s.mu.Lock()
	delete(s.open, trade.tradeID)
	s.sessionPnL += pnl
	sessionPnL := s.sessionPnL
	s.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(status).Inc()
	metrics.SessionPnL.WithLabelValues(s.cfg.UserID).Set(sessionPnL)
	s.cache.InvalidateAnalytics(ctx, s.cfg.UserID)

	s.notifier.TradeSettled(ctx, s.cfg.UserID, trade.symbol, status, pnl)
	s.bus.Publish(events.Event{Type: events.EventTradeSettled, UserID: s.cfg.UserID, Data: map[string]interface{}{
		"symbol":      trade.symbol,
		"status":      status,
		"pnl":         pnl,
		"session_pnl": sessionPnL,
	}})
	s.logger.WithSymbol(trade.symbol).Info("trade settled",
		"status", status, "pnl", pnl, "session_pnl", sessionPnL)
}

// checkSessionTargets stops the session when realized PnL crosses the
// configured take profit or stop loss.
func (s *Session) checkSessionTargets(ctx context.Context) {
	s.mu.Lock()
	pnl := s.sessionPnL
	s.mu.Unlock()

	if s.cfg.TakeProfit > 0 && pnl >= s.cfg.TakeProfit {
		s.notifier.TakeProfitHit(ctx, s.cfg.UserID, pnl)
		s.stop(fmt.Sprintf("take profit target %.2f reached", s.cfg.TakeProfit))
		return
	}
	if s.cfg.StopLoss > 0 && pnl <= -s.cfg.StopLoss {
		s.notifier.StopLossHit(ctx, s.cfg.UserID, pnl)
		s.stop(fmt.Sprintf("stop loss limit %.2f reached", s.cfg.StopLoss))
	}
}
