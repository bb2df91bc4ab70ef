package session

import (
	"context"
	"errors"

	"deriv-trading-bot/internal/cache"
	"deriv-trading-bot/internal/database"
)

// Analytics is the cached per-user performance summary
type Analytics struct {
	Stats      database.TradeStats `json:"stats"`
	SessionPnL float64             `json:"session_pnl"`
	IsRunning  bool                `json:"is_running"`
}

// GetAnalytics returns a user's trading summary, served from cache when a
// fresh copy exists. Trade writes invalidate the cache, so staleness is
// bounded by the TTL only when nothing is trading.
func (r *Registry) GetAnalytics(ctx context.Context, userID string) (*Analytics, error) {
	key := cache.AnalyticsKey(userID)

	var cached Analytics
	if err := r.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		r.logger.WithUser(userID).Warn("analytics cache read failed", "error", err.Error())
	}

	stats, err := r.repo.GetTradeStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &Analytics{Stats: *stats}
	if sess := r.Get(userID); sess != nil {
		out.SessionPnL = sess.SessionPnL()
		out.IsRunning = sess.Running()
	}

	if err := r.cache.SetJSON(ctx, key, out, r.cfg.EngineConfig.AnalyticsCacheTTL); err != nil {
		r.logger.WithUser(userID).Warn("analytics cache write failed", "error", err.Error())
	}
	return out, nil
}
