// Package session runs per-user trading sessions: the cycle orchestrator,
// the session registry with its global pause switch, account switching and
// open-trade reconciliation.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/cache"
	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/deriv"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/logging"
	"deriv-trading-bot/internal/metrics"
	"deriv-trading-bot/internal/risk"
	"deriv-trading-bot/internal/sentinel"
	"deriv-trading-bot/internal/settlement"
	"deriv-trading-bot/internal/strategy"
)

// Config is a user's stored configuration normalized against engine defaults.
// Sessions run from this struct only; the raw database row is never consulted
// mid-flight.
type Config struct {
	UserID            string
	Symbols           []string
	Amount            float64
	CandleCount       int
	Granularity       int
	CycleInterval     time.Duration
	MaxTradesPerCycle int
	DailyTradeLimit   int
	TakeProfit        float64
	StopLoss          float64
	ExecutionMode     string
	StrategyMode      string
	Tier              string
	AccountType       string
	Token             string
}

// Normalize fills gaps from engine defaults and validates the required fields
func Normalize(bc *database.BotConfig, engine config.EngineConfig, token string) (Config, error) {
	cfg := Config{
		UserID:            bc.UserID,
		Symbols:           bc.Symbols,
		Amount:            bc.AmountPerTrade,
		CandleCount:       bc.CandleCount,
		Granularity:       60,
		CycleInterval:     time.Duration(bc.CycleIntervalSecs) * time.Second,
		MaxTradesPerCycle: bc.MaxTradesPerCycle,
		DailyTradeLimit:   bc.DailyTradeLimit,
		TakeProfit:        bc.TakeProfit,
		StopLoss:          bc.StopLoss,
		ExecutionMode:     bc.ExecutionMode,
		StrategyMode:      bc.StrategyMode,
		Tier:              bc.SubscriptionTier,
		AccountType:       bc.AccountType,
		Token:             token,
	}

	if cfg.Amount <= 0 {
		cfg.Amount = engine.DefaultAmountPerTrade
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = engine.DefaultCandleCount
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = engine.DefaultCycleInterval
	}
	if cfg.MaxTradesPerCycle <= 0 {
		cfg.MaxTradesPerCycle = 1
	}
	if cfg.DailyTradeLimit <= 0 {
		cfg.DailyTradeLimit = 10
	}
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = database.ExecutionModeAuto
	}
	if cfg.Tier == "" {
		cfg.Tier = database.TierFree
	}
	if cfg.AccountType == "" {
		cfg.AccountType = "demo"
	}

	if len(cfg.Symbols) == 0 {
		return cfg, fmt.Errorf("no symbols configured")
	}
	if cfg.Token == "" {
		return cfg, fmt.Errorf("no API token available for %s account", cfg.AccountType)
	}
	return cfg, nil
}

// openTrade is a contract the session placed and has not yet seen settle
type openTrade struct {
	tradeID    string
	contractID int64
	symbol     string
	placedAt   time.Time
}

// brokerClient is the slice of the protocol client a session drives.
// Narrowing it keeps session tests free of a live socket.
type brokerClient interface {
	Connect(ctx context.Context) error
	Close() error
	SetOfflineHandler(fn func())
	AwaitAuthorization(ctx context.Context, timeout time.Duration) error
	Account() *deriv.AccountInfo
	IsDemoAccount() bool
	Unreachable() bool
	Balance(fallback float64) float64
	GetCandles(ctx context.Context, symbol string, count, granularity int) ([]deriv.Candle, error)
	ExecuteTrade(ctx context.Context, req deriv.TradeRequest) (*deriv.BuyResult, error)
	GetContractStatus(ctx context.Context, contractID int64) (*deriv.ContractStatus, error)
	GetProfitTable(ctx context.Context, limit int) ([]deriv.ProfitTableEntry, error)
}

// sessionLedger is the slice of the repository a session writes through
type sessionLedger interface {
	SetBotRunning(ctx context.Context, userID string, running bool) error
	CreateTrade(ctx context.Context, trade *database.Trade) error
	SettleTrade(ctx context.Context, tradeID, status string, pnl, exitPrice float64, closedAt time.Time) error
	MarkFreeTradeUsed(ctx context.Context, userID string) error
	SetExecutionMode(ctx context.Context, userID, mode string) error
}

// sessionNotifier covers the notifications a session emits
type sessionNotifier interface {
	SessionStarted(ctx context.Context, userID, accountType string)
	SessionStopped(ctx context.Context, userID, reason string)
	TradeSettled(ctx context.Context, userID, symbol, status string, pnl float64)
	BreakerTripped(ctx context.Context, userID string, pnl, threshold float64)
	DailyLimitReached(ctx context.Context, userID string, limit int)
	TakeProfitHit(ctx context.Context, userID string, pnl float64)
	StopLossHit(ctx context.Context, userID string, pnl float64)
}

// Session is one user's live trading loop
type Session struct {
	cfg       Config
	engineCfg config.EngineConfig

	client     brokerClient
	strat      strategy.Strategy
	gate       *sentinel.Gate
	breaker    *risk.Breaker
	repo       sessionLedger
	cache      *cache.Cache
	reconciler *settlement.Reconciler
	notifier   sessionNotifier
	bus        *events.Bus
	logger     *logging.Logger
	registry   *Registry

	mu                 sync.Mutex
	running            bool
	isProcessing       bool
	timer              *time.Timer
	dailyTrades        int
	dailyDate          string
	dailyLimitNotified bool
	sessionPnL         float64
	open               map[string]*openTrade

	now func() time.Time
}

// UserID identifies the session's owner
func (s *Session) UserID() string { return s.cfg.UserID }

// Running reports whether the session loop is live
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SessionPnL returns the realized PnL since the session started
func (s *Session) SessionPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionPnL
}

// start connects the client and schedules the first cycle
func (s *Session) start(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect brokerage session: %w", err)
	}

	if err := s.verifyTokenCompliance(); err != nil {
		s.client.Close()
		return err
	}

	s.mu.Lock()
	s.running = true
	s.dailyDate = s.now().Format("2006-01-02")
	s.open = make(map[string]*openTrade)
	s.mu.Unlock()

	s.client.SetOfflineHandler(func() {
		s.bus.Publish(events.Event{Type: events.EventConnectionLost, UserID: s.cfg.UserID})
		s.shutdown("brokerage unreachable")
	})

	if err := s.repo.SetBotRunning(ctx, s.cfg.UserID, true); err != nil {
		s.logger.Error("failed to persist running flag", "error", err.Error())
	}

	metrics.ActiveSessions.Inc()
	s.notifier.SessionStarted(ctx, s.cfg.UserID, s.cfg.AccountType)
	s.logger.Info("session started",
		"symbols", strings.Join(s.cfg.Symbols, ","),
		"account", s.cfg.AccountType,
		"mode", s.cfg.ExecutionMode)

	s.schedule(0)
	return nil
}

// stop pauses the loop and records the reason. The protocol connection stays
// open so the session can resume without a fresh dial; the socket is released
// only by shutdown or an account switch.
func (s *Session) stop(reason string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.repo.SetBotRunning(ctx, s.cfg.UserID, false); err != nil {
		s.logger.Error("failed to persist stopped flag", "error", err.Error())
	}
	s.notifier.SessionStopped(ctx, s.cfg.UserID, reason)

	s.logger.Info("session stopped", "reason", reason)
}

// shutdown stops the session, closes its socket and releases the registry
// slot. Used when the connection is gone or the engine is going down.
func (s *Session) shutdown(reason string) {
	s.stop(reason)
	s.client.Close()
	s.registry.remove(s.cfg.UserID)
}

// resume restarts a paused session on its existing connection
func (s *Session) resume(ctx context.Context) error {
	if s.client.Unreachable() {
		return fmt.Errorf("connection lost while paused")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.repo.SetBotRunning(ctx, s.cfg.UserID, true); err != nil {
		s.logger.Error("failed to persist running flag", "error", err.Error())
	}

	metrics.ActiveSessions.Inc()
	s.notifier.SessionStarted(ctx, s.cfg.UserID, s.cfg.AccountType)
	s.logger.Info("session resumed", "account", s.cfg.AccountType)

	s.schedule(0)
	return nil
}

// schedule arms the next cycle. Cycles never overlap: the next one is armed
// only after the previous finished.
func (s *Session) schedule(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.timer = time.AfterFunc(delay, s.runCycle)
}

// verifyTokenCompliance rejects a token whose account type contradicts the
// configured one. Virtual logins carry the VRTC prefix.
func (s *Session) verifyTokenCompliance() error {
	acct := s.client.Account()
	if acct == nil {
		return fmt.Errorf("no account after authorization")
	}

	isDemo := s.client.IsDemoAccount()
	if s.cfg.AccountType == "demo" && !isDemo {
		return fmt.Errorf("demo account selected but token authorizes real login %s", acct.LoginID)
	}
	if s.cfg.AccountType == "real" && isDemo {
		return fmt.Errorf("real account selected but token authorizes virtual login %s", acct.LoginID)
	}
	return nil
}

// switchAccount tears down the current socket and dials a fresh one with the
// other account's token. The new session must authorize within the deadline
// and pass the compliance check before the switch commits.
func (s *Session) switchAccount(ctx context.Context, accountType, token string, derivCfg config.DerivConfig) error {
	newClient := deriv.NewClient(derivCfg, token, s.logger)
	if err := newClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect %s account: %w", accountType, err)
	}
	if err := newClient.AwaitAuthorization(ctx, 10*time.Second); err != nil {
		newClient.Close()
		return fmt.Errorf("%s account did not authorize in time: %w", accountType, err)
	}

	isDemo := newClient.IsDemoAccount()
	if accountType == "demo" && !isDemo {
		newClient.Close()
		return fmt.Errorf("token is not a demo token")
	}
	if accountType == "real" && isDemo {
		newClient.Close()
		return fmt.Errorf("token is not a real-account token")
	}

	old := s.client

	s.mu.Lock()
	s.client = newClient
	s.cfg.AccountType = accountType
	s.cfg.Token = token
	s.mu.Unlock()

	old.Close()

	newClient.SetOfflineHandler(func() {
		s.bus.Publish(events.Event{Type: events.EventConnectionLost, UserID: s.cfg.UserID})
		s.shutdown("brokerage unreachable")
	})

	s.bus.Publish(events.Event{Type: events.EventAccountSwitched, UserID: s.cfg.UserID, Data: map[string]interface{}{
		"account_type": accountType,
	}})
	s.logger.Info("account switched", "account", accountType)
	return nil
}
