package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/cache"
	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/deriv"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/logging"
	"deriv-trading-bot/internal/notification"
	"deriv-trading-bot/internal/risk"
	"deriv-trading-bot/internal/sentinel"
	"deriv-trading-bot/internal/settlement"
	"deriv-trading-bot/internal/strategy"
	"deriv-trading-bot/internal/vault"
)

// PauseState describes an engine-wide trading pause
type PauseState struct {
	Active   bool      `json:"active"`
	Reason   string    `json:"reason"`
	Actor    string    `json:"actor"`
	PausedAt time.Time `json:"paused_at"`
}

// registryLedger extends the session's ledger slice with the reads the
// registry itself needs.
type registryLedger interface {
	sessionLedger
	GetBotConfig(ctx context.Context, userID string) (*database.BotConfig, error)
	SetAccountType(ctx context.Context, userID, accountType string) error
	GetTradeStats(ctx context.Context, userID string) (*database.TradeStats, error)
	MarkStoppedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Registry owns every live session and the global pause switch. All session
// lifecycle operations go through it; nothing else holds session references.
type Registry struct {
	cfg        *config.Config
	repo       registryLedger
	cache      *cache.Cache
	vault      *vault.Client
	gate       *sentinel.Gate
	breaker    *risk.Breaker
	reconciler *settlement.Reconciler
	notifier   *notification.Manager
	bus        *events.Bus
	logger     *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	pause    PauseState
}

// NewRegistry wires the registry with its shared dependencies
func NewRegistry(
	cfg *config.Config,
	repo registryLedger,
	c *cache.Cache,
	v *vault.Client,
	gate *sentinel.Gate,
	breaker *risk.Breaker,
	reconciler *settlement.Reconciler,
	notifier *notification.Manager,
	bus *events.Bus,
	logger *logging.Logger,
) *Registry {
	return &Registry{
		cfg:        cfg,
		repo:       repo,
		cache:      c,
		vault:      v,
		gate:       gate,
		breaker:    breaker,
		reconciler: reconciler,
		notifier:   notifier,
		bus:        bus,
		logger:     logger.WithComponent("session"),
		sessions:   make(map[string]*Session),
	}
}

// StartSession brings a user's session up. A paused session resumes on its
// live socket; a missing or stale one is built from the stored configuration.
// Starting a running session is an error.
func (r *Registry) StartSession(ctx context.Context, userID string) error {
	if sess := r.Get(userID); sess != nil {
		if sess.Running() {
			return fmt.Errorf("session already running for %s", userID)
		}
		if !sess.client.Unreachable() {
			return sess.resume(ctx)
		}
		// the socket died while paused, discard and rebuild
		sess.shutdown("stale connection discarded")
	}

	r.mu.Lock()
	if _, exists := r.sessions[userID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("session already running for %s", userID)
	}
	// reserve the slot so concurrent starts cannot race past the check
	r.sessions[userID] = nil
	r.mu.Unlock()

	sess, err := r.buildSession(ctx, userID)
	if err != nil {
		r.remove(userID)
		return err
	}

	r.mu.Lock()
	r.sessions[userID] = sess
	r.mu.Unlock()

	if err := sess.start(ctx); err != nil {
		r.remove(userID)
		return err
	}
	return nil
}

func (r *Registry) buildSession(ctx context.Context, userID string) (*Session, error) {
	bc, err := r.repo.GetBotConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bc == nil {
		return nil, fmt.Errorf("no trading configuration for %s", userID)
	}

	token, err := r.resolveToken(ctx, bc, bc.AccountType)
	if err != nil {
		return nil, err
	}

	cfg, err := Normalize(bc, r.cfg.EngineConfig, token)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", userID, err)
	}

	logger := r.logger.WithUser(userID)
	detector := strategy.NewZoneDetector(strategy.DefaultDetectorConfig())
	supplyDemand := strategy.NewSupplyDemandStrategy(detector, time.Duration(bc.MinSignalGapMinutes)*time.Minute)
	scalp := strategy.NewHybridScalpStrategy(detector)

	return &Session{
		cfg:        cfg,
		engineCfg:  r.cfg.EngineConfig,
		client:     deriv.NewClient(r.cfg.DerivConfig, token, logger),
		strat:      strategy.ForMode(cfg.StrategyMode, supplyDemand, scalp),
		gate:       r.gate,
		breaker:    r.breaker,
		repo:       r.repo,
		cache:      r.cache,
		reconciler: r.reconciler,
		notifier:   r.notifier,
		bus:        r.bus,
		logger:     logger,
		registry:   r,
		open:       make(map[string]*openTrade),
		now:        time.Now,
	}, nil
}

// resolveToken finds the API token for an account type: Vault first, then
// the stored configuration row, then the process-wide default.
func (r *Registry) resolveToken(ctx context.Context, bc *database.BotConfig, accountType string) (string, error) {
	if r.vault != nil {
		if data, err := r.vault.GetToken(ctx, bc.UserID, accountType); err == nil && data.Token != "" {
			return data.Token, nil
		}
	}

	if accountType == "real" && bc.RealToken != "" {
		return bc.RealToken, nil
	}
	if accountType != "real" && bc.DemoToken != "" {
		return bc.DemoToken, nil
	}

	if r.cfg.DerivConfig.DefaultToken != "" {
		return r.cfg.DerivConfig.DefaultToken, nil
	}
	return "", fmt.Errorf("no %s token configured for %s", accountType, bc.UserID)
}

// StopSession pauses a user's session with a reason. The session keeps its
// socket and registry slot so a later StartSession resumes it in place.
func (r *Registry) StopSession(userID, reason string) error {
	sess := r.Get(userID)
	if sess == nil {
		return fmt.Errorf("no session running for %s", userID)
	}
	sess.stop(reason)
	return nil
}

// Get returns the live session for a user, or nil
func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// remove drops a session slot; called by sessions as they stop
func (r *Registry) remove(userID string) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Pause halts trading across every session. Cycles still fire but place no
// trades until Resume.
func (r *Registry) Pause(reason, actor string) {
	r.mu.Lock()
	r.pause = PauseState{Active: true, Reason: reason, Actor: actor, PausedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Warn("global trading pause engaged", "reason", reason, "actor", actor)
	r.bus.Publish(events.Event{Type: events.EventGlobalPause, Data: map[string]interface{}{
		"reason": reason,
		"actor":  actor,
	}})
}

// Resume lifts the global pause
func (r *Registry) Resume(actor string) {
	r.mu.Lock()
	r.pause = PauseState{}
	r.mu.Unlock()

	r.logger.Info("global trading pause lifted", "actor", actor)
	r.bus.Publish(events.Event{Type: events.EventGlobalResume, Data: map[string]interface{}{
		"actor": actor,
	}})
}

// Paused returns the pause switch and its state
func (r *Registry) Paused() (bool, PauseState) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pause.Active, r.pause
}

// ToggleAccount switches a user between demo and real. A live session swaps
// its socket in place; a stopped user just gets the stored selection updated.
func (r *Registry) ToggleAccount(ctx context.Context, userID, accountType string) error {
	if accountType != "demo" && accountType != "real" {
		return fmt.Errorf("unknown account type %q", accountType)
	}

	bc, err := r.repo.GetBotConfig(ctx, userID)
	if err != nil {
		return err
	}
	if bc == nil {
		return fmt.Errorf("no trading configuration for %s", userID)
	}

	if sess := r.Get(userID); sess != nil {
		token, err := r.resolveToken(ctx, bc, accountType)
		if err != nil {
			return err
		}
		if err := sess.switchAccount(ctx, accountType, token, r.cfg.DerivConfig); err != nil {
			return err
		}
	}

	return r.repo.SetAccountType(ctx, userID, accountType)
}

// SweepStaleSessions clears running flags left behind by an unclean shutdown.
// Run once at engine start, before any session comes up; callers wanting to
// revive those sessions list them first.
func (r *Registry) SweepStaleSessions(ctx context.Context) error {
	swept, err := r.repo.MarkStoppedBefore(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to clear stale running flags: %w", err)
	}
	if swept > 0 {
		r.logger.Info("stale session flags cleared", "count", swept)
	}
	return nil
}

// StopAll tears every session down, sockets included. Used during engine
// shutdown.
func (r *Registry) StopAll(reason string) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.shutdown(reason)
	}
}
