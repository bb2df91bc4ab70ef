package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/deriv"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/logging"
)

func engineDefaults() config.EngineConfig {
	return config.EngineConfig{
		DefaultCycleInterval:  30 * time.Second,
		DefaultCandleCount:    100,
		DefaultAmountPerTrade: 10,
		InterSymbolDelay:      2 * time.Second,
		OpenTradeMaxAge:       time.Hour,
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	bc := &database.BotConfig{
		UserID:  "user-1",
		Symbols: []string{"R_100"},
	}

	cfg, err := Normalize(bc, engineDefaults(), "token-abc")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if cfg.Amount != 10 {
		t.Errorf("expected default stake 10, got %.2f", cfg.Amount)
	}
	if cfg.CandleCount != 100 {
		t.Errorf("expected default candle count 100, got %d", cfg.CandleCount)
	}
	if cfg.CycleInterval != 30*time.Second {
		t.Errorf("expected default cycle interval 30s, got %s", cfg.CycleInterval)
	}
	if cfg.MaxTradesPerCycle != 1 {
		t.Errorf("expected one trade per cycle by default, got %d", cfg.MaxTradesPerCycle)
	}
	if cfg.DailyTradeLimit != 10 {
		t.Errorf("expected default daily limit 10, got %d", cfg.DailyTradeLimit)
	}
	if cfg.ExecutionMode != database.ExecutionModeAuto {
		t.Errorf("expected auto execution by default, got %s", cfg.ExecutionMode)
	}
	if cfg.Tier != database.TierFree {
		t.Errorf("expected free tier by default, got %s", cfg.Tier)
	}
	if cfg.AccountType != "demo" {
		t.Errorf("expected demo account by default, got %s", cfg.AccountType)
	}
}

func TestNormalizeKeepsStoredValues(t *testing.T) {
	bc := &database.BotConfig{
		UserID:            "user-1",
		Symbols:           []string{"R_100", "R_50"},
		AmountPerTrade:    25,
		CandleCount:       200,
		CycleIntervalSecs: 60,
		MaxTradesPerCycle: 3,
		DailyTradeLimit:   20,
		ExecutionMode:     database.ExecutionModeSignalOnly,
		SubscriptionTier:  database.TierElite,
		AccountType:       "real",
	}

	cfg, err := Normalize(bc, engineDefaults(), "token-abc")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if cfg.Amount != 25 || cfg.CandleCount != 200 || cfg.CycleInterval != time.Minute {
		t.Errorf("stored values overwritten: %+v", cfg)
	}
	if cfg.MaxTradesPerCycle != 3 || cfg.DailyTradeLimit != 20 {
		t.Errorf("stored limits overwritten: %+v", cfg)
	}
	if cfg.ExecutionMode != database.ExecutionModeSignalOnly || cfg.Tier != database.TierElite {
		t.Errorf("stored mode or tier overwritten: %+v", cfg)
	}
}

func TestNormalizeRequiresSymbols(t *testing.T) {
	bc := &database.BotConfig{UserID: "user-1"}
	if _, err := Normalize(bc, engineDefaults(), "token-abc"); err == nil {
		t.Fatal("a configuration without symbols must be rejected")
	}
}

func TestNormalizeRequiresToken(t *testing.T) {
	bc := &database.BotConfig{UserID: "user-1", Symbols: []string{"R_100"}}
	if _, err := Normalize(bc, engineDefaults(), ""); err == nil {
		t.Fatal("a configuration without a token must be rejected")
	}
}

func testRegistry() *Registry {
	return NewRegistry(
		&config.Config{EngineConfig: engineDefaults()},
		nil, nil, nil, nil, nil, nil, nil,
		events.NewBus(),
		logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}),
	)
}

func TestGlobalPauseState(t *testing.T) {
	r := testRegistry()

	if paused, _ := r.Paused(); paused {
		t.Fatal("registry must start unpaused")
	}

	r.Pause("maintenance window", "ops")
	paused, state := r.Paused()
	if !paused {
		t.Fatal("pause did not engage")
	}
	if state.Reason != "maintenance window" || state.Actor != "ops" {
		t.Errorf("pause state not recorded: %+v", state)
	}
	if state.PausedAt.IsZero() {
		t.Error("pause time not recorded")
	}

	r.Resume("ops")
	if paused, _ := r.Paused(); paused {
		t.Fatal("resume did not lift the pause")
	}
}

func TestRegistryTracksSessions(t *testing.T) {
	r := testRegistry()

	if r.Count() != 0 || r.Get("user-1") != nil {
		t.Fatal("registry must start empty")
	}
	if err := r.StopSession("user-1", "test"); err == nil {
		t.Fatal("stopping an absent session must error")
	}
}

func TestCycleReentrancyGuard(t *testing.T) {
	s := &Session{
		cfg:     Config{CycleInterval: time.Hour},
		running: true,
	}
	s.isProcessing = true

	// the in-flight flag makes the trigger a no-op apart from rescheduling,
	// no dependency is touched
	s.runCycle()

	s.mu.Lock()
	if !s.isProcessing {
		t.Error("guard flag must survive a dropped trigger")
	}
	if s.timer == nil {
		t.Error("a dropped trigger still arms the next cycle")
	} else {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

type fakeBroker struct {
	mu          sync.Mutex
	closeCalls  int
	unreachable bool
}

func (f *fakeBroker) Connect(ctx context.Context) error { return nil }

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) SetOfflineHandler(fn func()) {}

func (f *fakeBroker) AwaitAuthorization(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (f *fakeBroker) Account() *deriv.AccountInfo {
	return &deriv.AccountInfo{LoginID: "VRTC1001"}
}

func (f *fakeBroker) IsDemoAccount() bool { return true }

func (f *fakeBroker) Unreachable() bool { return f.unreachable }

func (f *fakeBroker) Balance(fallback float64) float64 { return fallback }

func (f *fakeBroker) GetCandles(ctx context.Context, symbol string, count, granularity int) ([]deriv.Candle, error) {
	return nil, nil
}

func (f *fakeBroker) ExecuteTrade(ctx context.Context, req deriv.TradeRequest) (*deriv.BuyResult, error) {
	return nil, nil
}

func (f *fakeBroker) GetContractStatus(ctx context.Context, contractID int64) (*deriv.ContractStatus, error) {
	return nil, nil
}

func (f *fakeBroker) GetProfitTable(ctx context.Context, limit int) ([]deriv.ProfitTableEntry, error) {
	return nil, nil
}

func (f *fakeBroker) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeLedger struct {
	runningFlags []bool
	sweepCutoff  time.Time
	sweepResult  int64
}

func (f *fakeLedger) SetBotRunning(ctx context.Context, userID string, running bool) error {
	f.runningFlags = append(f.runningFlags, running)
	return nil
}

func (f *fakeLedger) CreateTrade(ctx context.Context, trade *database.Trade) error { return nil }

func (f *fakeLedger) SettleTrade(ctx context.Context, tradeID, status string, pnl, exitPrice float64, closedAt time.Time) error {
	return nil
}

func (f *fakeLedger) MarkFreeTradeUsed(ctx context.Context, userID string) error { return nil }

func (f *fakeLedger) SetExecutionMode(ctx context.Context, userID, mode string) error { return nil }

func (f *fakeLedger) GetBotConfig(ctx context.Context, userID string) (*database.BotConfig, error) {
	return nil, nil
}

func (f *fakeLedger) SetAccountType(ctx context.Context, userID, accountType string) error {
	return nil
}

func (f *fakeLedger) GetTradeStats(ctx context.Context, userID string) (*database.TradeStats, error) {
	return &database.TradeStats{}, nil
}

func (f *fakeLedger) MarkStoppedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.sweepCutoff = cutoff
	return f.sweepResult, nil
}

type fakeNotifier struct {
	started int
	stopped int
}

func (f *fakeNotifier) SessionStarted(ctx context.Context, userID, accountType string) {
	f.started++
}

func (f *fakeNotifier) SessionStopped(ctx context.Context, userID, reason string) {
	f.stopped++
}

func (f *fakeNotifier) TradeSettled(ctx context.Context, userID, symbol, status string, pnl float64) {
}

func (f *fakeNotifier) BreakerTripped(ctx context.Context, userID string, pnl, threshold float64) {}

func (f *fakeNotifier) DailyLimitReached(ctx context.Context, userID string, limit int) {}

func (f *fakeNotifier) TakeProfitHit(ctx context.Context, userID string, pnl float64) {}

func (f *fakeNotifier) StopLossHit(ctx context.Context, userID string, pnl float64) {}

// newTestSession registers a session built on fakes so lifecycle transitions
// can run without a socket or database.
func newTestSession(r *Registry, broker brokerClient, ledger *fakeLedger, notifier *fakeNotifier) *Session {
	s := &Session{
		cfg: Config{
			UserID:        "user-1",
			Symbols:       []string{"R_100"},
			CycleInterval: time.Hour,
			AccountType:   "demo",
		},
		engineCfg: engineDefaults(),
		client:    broker,
		repo:      ledger,
		notifier:  notifier,
		bus:       r.bus,
		logger:    r.logger,
		registry:  r,
		open:      make(map[string]*openTrade),
		now:       time.Now,
	}
	r.mu.Lock()
	r.sessions[s.cfg.UserID] = s
	r.mu.Unlock()
	return s
}

func TestStopKeepsSocketForResume(t *testing.T) {
	r := testRegistry()
	broker := &fakeBroker{}
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}
	s := newTestSession(r, broker, ledger, notifier)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.stop("user requested stop")

	if s.Running() {
		t.Fatal("stop must flag the session not running")
	}
	if broker.closes() != 0 {
		t.Error("stop must leave the protocol connection open")
	}
	if r.Get("user-1") == nil {
		t.Error("a paused session must keep its registry slot")
	}
	if notifier.stopped != 1 {
		t.Errorf("expected one stop notification, got %d", notifier.stopped)
	}
	if len(ledger.runningFlags) != 1 || ledger.runningFlags[0] {
		t.Errorf("stop must persist the not-running flag, got %v", ledger.runningFlags)
	}
}

func TestShutdownReleasesSocket(t *testing.T) {
	r := testRegistry()
	broker := &fakeBroker{}
	s := newTestSession(r, broker, &fakeLedger{}, &fakeNotifier{})
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.shutdown("engine shutdown")

	if broker.closes() != 1 {
		t.Errorf("shutdown must close the protocol connection, got %d closes", broker.closes())
	}
	if r.Get("user-1") != nil {
		t.Error("shutdown must release the registry slot")
	}
}

func TestStartSessionResumesPausedSession(t *testing.T) {
	r := testRegistry()
	broker := &fakeBroker{}
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}
	s := newTestSession(r, broker, ledger, notifier)

	// keep the resumed cycle inert so no dependency is touched
	s.mu.Lock()
	s.isProcessing = true
	s.mu.Unlock()

	if err := r.StartSession(context.Background(), "user-1"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if !s.Running() {
		t.Fatal("resumed session must be running")
	}
	if broker.closes() != 0 {
		t.Error("resume must reuse the live connection, not redial")
	}
	if notifier.started != 1 {
		t.Errorf("expected one start notification, got %d", notifier.started)
	}
	if len(ledger.runningFlags) != 1 || !ledger.runningFlags[0] {
		t.Errorf("resume must persist the running flag, got %v", ledger.runningFlags)
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

func TestResumeRequiresLiveConnection(t *testing.T) {
	r := testRegistry()
	broker := &fakeBroker{unreachable: true}
	s := newTestSession(r, broker, &fakeLedger{}, &fakeNotifier{})

	if err := s.resume(context.Background()); err == nil {
		t.Fatal("resume on a dead connection must fail")
	}
	if s.Running() {
		t.Error("a failed resume must leave the session stopped")
	}
}

func TestSweepClearsStaleRunningFlags(t *testing.T) {
	ledger := &fakeLedger{sweepResult: 3}
	r := NewRegistry(
		&config.Config{EngineConfig: engineDefaults()},
		ledger, nil, nil, nil, nil, nil, nil,
		events.NewBus(),
		logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}),
	)

	before := time.Now()
	if err := r.SweepStaleSessions(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if ledger.sweepCutoff.Before(before) {
		t.Errorf("sweep cutoff predates the call: %s", ledger.sweepCutoff)
	}
}

func TestStartSessionRejectsRunningSession(t *testing.T) {
	r := testRegistry()
	s := newTestSession(r, &fakeBroker{}, &fakeLedger{}, &fakeNotifier{})
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	if err := r.StartSession(context.Background(), "user-1"); err == nil {
		t.Fatal("starting a running session must error")
	}
}

func TestDailyRollover(t *testing.T) {
	s := &Session{
		cfg:         Config{DailyTradeLimit: 5},
		dailyTrades: 5,
		dailyDate:   "2026-01-14",
		now:         func() time.Time { return time.Date(2026, 1, 15, 0, 5, 0, 0, time.UTC) },
	}

	s.rolloverDailyCounters()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dailyTrades != 0 {
		t.Errorf("date change must reset the daily count, got %d", s.dailyTrades)
	}
	if s.dailyDate != "2026-01-15" {
		t.Errorf("daily date not advanced: %s", s.dailyDate)
	}
}
