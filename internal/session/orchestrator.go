package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/deriv"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/metrics"
	"deriv-trading-bot/internal/sentinel"
	"deriv-trading-bot/internal/strategy"
)

// runCycle executes one trading cycle. Re-entry is guarded: a trigger firing
// while a cycle is in flight is dropped, and the next cycle is armed only
// after this one completes.
func (s *Session) runCycle() {
	s.mu.Lock()
	if !s.running || s.isProcessing {
		alreadyRunning := s.running
		s.mu.Unlock()
		if alreadyRunning {
			s.schedule(s.cfg.CycleInterval)
		}
		return
	}
	s.isProcessing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
		s.schedule(s.cfg.CycleInterval)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CycleInterval*4)
	defer cancel()

	if paused, state := s.registry.Paused(); paused {
		s.logger.Info("cycle skipped, trading paused globally", "reason", state.Reason)
		return
	}

	if s.client.Unreachable() {
		s.shutdown("brokerage unreachable")
		return
	}

	verdict := s.breaker.Check(ctx, s.cfg.UserID, s.client.Balance(0))
	if verdict.Tripped {
		s.notifier.BreakerTripped(ctx, s.cfg.UserID, verdict.PnL, verdict.Threshold)
		s.stop("circuit breaker tripped")
		return
	}

	s.rolloverDailyCounters()

	if s.dailyCapReached(ctx) {
		s.reconcileOpenTrades(ctx)
		return
	}

	cycleTrades := 0
	for i, symbol := range s.cfg.Symbols {
		if cycleTrades >= s.cfg.MaxTradesPerCycle {
			break
		}
		if i > 0 {
			time.Sleep(s.engineCfg.InterSymbolDelay)
		}

		placed, err := s.evaluateSymbol(ctx, symbol)
		if err != nil {
			s.logger.WithSymbol(symbol).Warn("symbol evaluation failed", "error", err.Error())
			continue
		}
		if placed {
			cycleTrades++
		}
	}

	s.reconcileOpenTrades(ctx)

	if _, err := s.reconciler.SyncTrades(ctx, s.cfg.UserID, s.client); err != nil {
		s.logger.Warn("trade history sync failed", "error", err.Error())
	}

	metrics.CyclesTotal.WithLabelValues(s.cfg.UserID).Inc()
	s.bus.Publish(events.Event{Type: events.EventCycleCompleted, UserID: s.cfg.UserID, Data: map[string]interface{}{
		"trades": cycleTrades,
	}})
}

// rolloverDailyCounters resets the daily trade count when the local date changes
func (s *Session) rolloverDailyCounters() {
	today := s.now().Format("2006-01-02")
	s.mu.Lock()
	if s.dailyDate != today {
		s.dailyDate = today
		s.dailyTrades = 0
		s.dailyLimitNotified = false
	}
	s.mu.Unlock()
}

// dailyCapReached reports whether the daily limit blocks further entries.
// Hitting the cap does not stop the session; open trades still reconcile.
func (s *Session) dailyCapReached(ctx context.Context) bool {
	s.mu.Lock()
	reached := s.dailyTrades >= s.cfg.DailyTradeLimit
	notify := reached && !s.dailyLimitNotified
	if notify {
		s.dailyLimitNotified = true
	}
	s.mu.Unlock()

	if notify {
		s.notifier.DailyLimitReached(ctx, s.cfg.UserID, s.cfg.DailyTradeLimit)
	}
	return reached
}

// evaluateSymbol runs the strategy for one symbol and places a trade when
// the signal survives the execution mode and the sentinel gate. Returns true
// when a contract was purchased.
func (s *Session) evaluateSymbol(ctx context.Context, symbol string) (bool, error) {
	candles, err := s.client.GetCandles(ctx, symbol, s.cfg.CandleCount, s.cfg.Granularity)
	if err != nil {
		return false, err
	}

	signal := s.strat.Analyze(strategy.MarketSnapshot{
		Symbol:      symbol,
		Candles:     candles,
		Granularity: s.cfg.Granularity,
	})

	if !signal.IsActionable() {
		s.logger.WithSymbol(symbol).Debug("no trade", "reason", signal.Reason)
		return false, nil
	}

	metrics.SignalsTotal.WithLabelValues(strings.ToLower(signal.Action)).Inc()
	s.bus.Publish(events.Event{Type: events.EventSignalGenerated, UserID: s.cfg.UserID, Data: map[string]interface{}{
		"symbol":     symbol,
		"action":     signal.Action,
		"confidence": signal.Confidence,
		"reason":     signal.Reason,
	}})

	if s.cfg.ExecutionMode == database.ExecutionModeSignalOnly {
		s.logger.WithSymbol(symbol).Info("signal-only mode, trade not placed",
			"action", signal.Action, "confidence", signal.Confidence)
		return false, nil
	}

	decision := s.gate.Check(ctx, sentinel.CheckRequest{
		Symbol:       symbol,
		Timeframe:    s.cfg.Granularity,
		StrategyMode: s.strat.Name(),
		Tier:         s.cfg.Tier,
	})
	if !decision.Execute {
		s.bus.Publish(events.Event{Type: events.EventSignalBlocked, UserID: s.cfg.UserID, Data: map[string]interface{}{
			"symbol": symbol,
			"reason": decision.Reason,
		}})
		s.logger.WithSymbol(symbol).Info("signal blocked", "reason", decision.Reason)
		return false, nil
	}

	stake := s.cfg.Amount * decision.StakeFactor
	if decision.IsFallback {
		s.logger.WithSymbol(symbol).Warn("executing at reduced stake", "stake", stake)
	}

	result, err := s.client.ExecuteTrade(ctx, deriv.TradeRequest{
		Symbol:       symbol,
		ContractType: signal.Action,
		Amount:       stake,
		Duration:     signal.Duration,
		DurationUnit: signal.DurationUnit,
	})
	if err != nil {
		return false, err
	}
	if result == nil {
		s.logger.WithSymbol(symbol).Warn("brokerage declined the trade")
		return false, nil
	}

	return true, s.recordTrade(ctx, symbol, signal, stake, result)
}

// recordTrade writes the opened contract to the ledger and updates counters
func (s *Session) recordTrade(ctx context.Context, symbol string, signal strategy.Signal, stake float64, result *deriv.BuyResult) error {
	trade := &database.Trade{
		TradeID:       uuid.NewString(),
		UserID:        s.cfg.UserID,
		Symbol:        symbol,
		ContractType:  signal.Action,
		Action:        "BUY_" + signal.Action,
		Amount:        stake,
		EntryPrice:    result.BuyPrice,
		Payout:        result.Payout,
		Status:        database.TradeStatusOpen,
		ContractID:    strconv.FormatInt(result.ContractID, 10),
		TransactionID: strconv.FormatInt(result.TransactionID, 10),
	}

	if err := s.repo.CreateTrade(ctx, trade); err != nil {
		s.logger.WithSymbol(symbol).Error("trade placed but ledger write failed",
			"contract_id", trade.ContractID, "error", err.Error())
		return err
	}

	s.mu.Lock()
	s.dailyTrades++
	s.open[trade.TradeID] = &openTrade{
		tradeID:    trade.TradeID,
		contractID: result.ContractID,
		symbol:     symbol,
		placedAt:   s.now(),
	}
	s.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(database.TradeStatusOpen).Inc()
	s.cache.InvalidateAnalytics(ctx, s.cfg.UserID)
	s.bus.Publish(events.Event{Type: events.EventTradeOpened, UserID: s.cfg.UserID, Data: map[string]interface{}{
		"symbol":      symbol,
		"action":      signal.Action,
		"stake":       stake,
		"contract_id": trade.ContractID,
	}})

	s.afterFirstTrade(ctx)
	return nil
}

// afterFirstTrade flips a first-trade session into signal-only mode and
// marks the free trade consumed.
func (s *Session) afterFirstTrade(ctx context.Context) {
	s.mu.Lock()
	isFirstTrade := s.cfg.ExecutionMode == database.ExecutionModeFirstTrade
	if isFirstTrade {
		s.cfg.ExecutionMode = database.ExecutionModeSignalOnly
	}
	s.mu.Unlock()

	if !isFirstTrade {
		return
	}

	if err := s.repo.MarkFreeTradeUsed(ctx, s.cfg.UserID); err != nil {
		s.logger.Error("failed to mark free trade used", "error", err.Error())
	}
	if err := s.repo.SetExecutionMode(ctx, s.cfg.UserID, database.ExecutionModeSignalOnly); err != nil {
		s.logger.Error("failed to persist execution mode", "error", err.Error())
	}
	s.logger.Info("first trade taken, session now signal-only")
}
