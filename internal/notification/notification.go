// Package notification writes persistent user-facing alerts through the
// ledger and mirrors them on the event bus.
package notification

import (
	"context"
	"fmt"

	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/logging"
)

// Notification types
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeError   = "error"
	TypeAlert   = "alert"
)

// Manager persists notifications and publishes matching events
type Manager struct {
	repo   *database.Repository
	bus    *events.Bus
	logger *logging.Logger
}

// NewManager creates a notification manager
func NewManager(repo *database.Repository, bus *events.Bus, logger *logging.Logger) *Manager {
	return &Manager{
		repo:   repo,
		bus:    bus,
		logger: logger.WithComponent("notification"),
	}
}

// Notify persists an alert for a user. Failures are logged, not propagated;
// a missed notification never interrupts the trading path.
func (m *Manager) Notify(ctx context.Context, userID, title, message, notifType string) {
	n := &database.Notification{
		UserID:  userID,
		Title:   title,
		Message: message,
		Type:    notifType,
	}

	if err := m.repo.CreateNotification(ctx, n); err != nil {
		m.logger.WithUser(userID).Error("failed to persist notification", "title", title, "error", err.Error())
	}
}

// SessionStarted records a session start for the user
func (m *Manager) SessionStarted(ctx context.Context, userID, accountType string) {
	m.Notify(ctx, userID, "Trading Started",
		fmt.Sprintf("Automated trading started on your %s account.", accountType), TypeSuccess)
	m.bus.Publish(events.Event{Type: events.EventSessionStarted, UserID: userID})
}

// SessionStopped records a session stop with a reason
func (m *Manager) SessionStopped(ctx context.Context, userID, reason string) {
	m.Notify(ctx, userID, "Trading Stopped", reason, TypeInfo)
	m.bus.Publish(events.Event{Type: events.EventSessionStopped, UserID: userID, Data: map[string]interface{}{"reason": reason}})
}

// TradeSettled records a settled contract outcome
func (m *Manager) TradeSettled(ctx context.Context, userID, symbol, status string, pnl float64) {
	title := "Trade Won"
	notifType := TypeSuccess
	if status == database.TradeStatusLost {
		title = "Trade Lost"
		notifType = TypeWarning
	}
	m.Notify(ctx, userID, title, fmt.Sprintf("%s settled with PnL %.2f.", symbol, pnl), notifType)
}

// BreakerTripped records a circuit breaker trip that halted trading
func (m *Manager) BreakerTripped(ctx context.Context, userID string, pnl, threshold float64) {
	m.Notify(ctx, userID, "Circuit Breaker Tripped",
		fmt.Sprintf("Trading halted: hourly loss %.2f breached the %.2f limit.", pnl, threshold), TypeAlert)
	m.bus.Publish(events.Event{Type: events.EventBreakerTripped, UserID: userID, Data: map[string]interface{}{
		"pnl":       pnl,
		"threshold": threshold,
	}})
}

// DailyLimitReached records that a session hit its daily trade cap
func (m *Manager) DailyLimitReached(ctx context.Context, userID string, limit int) {
	m.Notify(ctx, userID, "Daily Limit Reached",
		fmt.Sprintf("The daily limit of %d trades was reached. Trading resumes tomorrow.", limit), TypeInfo)
	m.bus.Publish(events.Event{Type: events.EventDailyLimitHit, UserID: userID})
}

// TakeProfitHit records a session-level take profit stop
func (m *Manager) TakeProfitHit(ctx context.Context, userID string, pnl float64) {
	m.Notify(ctx, userID, "Take Profit Reached",
		fmt.Sprintf("Session PnL %.2f reached your take profit target. Trading stopped.", pnl), TypeSuccess)
}

// StopLossHit records a session-level stop loss stop
func (m *Manager) StopLossHit(ctx context.Context, userID string, pnl float64) {
	m.Notify(ctx, userID, "Stop Loss Reached",
		fmt.Sprintf("Session PnL %.2f reached your stop loss limit. Trading stopped.", pnl), TypeAlert)
}
