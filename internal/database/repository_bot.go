package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetBotConfig fetches the stored trading configuration for a user.
// Returns (nil, nil) when the user has no config row.
func (r *Repository) GetBotConfig(ctx context.Context, userID string) (*BotConfig, error) {
	query := `
		SELECT user_id, symbols, amount_per_trade, candle_count,
			cycle_interval_seconds, max_trades_per_cycle, daily_trade_limit,
			COALESCE(take_profit, 0), COALESCE(stop_loss, 0), min_signal_gap_minutes,
			COALESCE(deriv_demo_token, ''), COALESCE(deriv_real_token, ''),
			account_type, subscription_tier, execution_mode, strategy_mode,
			has_taken_first_trade, updated_at
		FROM bot_configs WHERE user_id = $1
	`

	cfg := &BotConfig{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&cfg.UserID, &cfg.Symbols, &cfg.AmountPerTrade, &cfg.CandleCount,
		&cfg.CycleIntervalSecs, &cfg.MaxTradesPerCycle, &cfg.DailyTradeLimit,
		&cfg.TakeProfit, &cfg.StopLoss, &cfg.MinSignalGapMinutes,
		&cfg.DemoToken, &cfg.RealToken,
		&cfg.AccountType, &cfg.SubscriptionTier, &cfg.ExecutionMode,
		&cfg.StrategyMode, &cfg.HasTakenFirstTrade, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}
	return cfg, nil
}

// UpsertBotConfig writes the full configuration row for a user
func (r *Repository) UpsertBotConfig(ctx context.Context, cfg *BotConfig) error {
	query := `
		INSERT INTO bot_configs (
			user_id, symbols, amount_per_trade, candle_count,
			cycle_interval_seconds, max_trades_per_cycle, daily_trade_limit,
			take_profit, stop_loss, min_signal_gap_minutes,
			deriv_demo_token, deriv_real_token, account_type,
			subscription_tier, execution_mode, strategy_mode,
			has_taken_first_trade, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			symbols = EXCLUDED.symbols,
			amount_per_trade = EXCLUDED.amount_per_trade,
			candle_count = EXCLUDED.candle_count,
			cycle_interval_seconds = EXCLUDED.cycle_interval_seconds,
			max_trades_per_cycle = EXCLUDED.max_trades_per_cycle,
			daily_trade_limit = EXCLUDED.daily_trade_limit,
			take_profit = EXCLUDED.take_profit,
			stop_loss = EXCLUDED.stop_loss,
			min_signal_gap_minutes = EXCLUDED.min_signal_gap_minutes,
			deriv_demo_token = EXCLUDED.deriv_demo_token,
			deriv_real_token = EXCLUDED.deriv_real_token,
			account_type = EXCLUDED.account_type,
			subscription_tier = EXCLUDED.subscription_tier,
			execution_mode = EXCLUDED.execution_mode,
			strategy_mode = EXCLUDED.strategy_mode,
			has_taken_first_trade = EXCLUDED.has_taken_first_trade,
			updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query,
		cfg.UserID, cfg.Symbols, cfg.AmountPerTrade, cfg.CandleCount,
		cfg.CycleIntervalSecs, cfg.MaxTradesPerCycle, cfg.DailyTradeLimit,
		cfg.TakeProfit, cfg.StopLoss, cfg.MinSignalGapMinutes,
		cfg.DemoToken, cfg.RealToken, cfg.AccountType,
		cfg.SubscriptionTier, cfg.ExecutionMode, cfg.StrategyMode,
		cfg.HasTakenFirstTrade,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bot config: %w", err)
	}
	return nil
}

// SetAccountType flips the stored account selection (demo or real)
func (r *Repository) SetAccountType(ctx context.Context, userID, accountType string) error {
	query := `UPDATE bot_configs SET account_type = $2, updated_at = NOW() WHERE user_id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, userID, accountType)
	if err != nil {
		return fmt.Errorf("failed to set account type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no bot config for user %s", userID)
	}
	return nil
}

// SetExecutionMode updates the stored execution mode for a user
func (r *Repository) SetExecutionMode(ctx context.Context, userID, mode string) error {
	query := `UPDATE bot_configs SET execution_mode = $2, updated_at = NOW() WHERE user_id = $1`

	if _, err := r.db.Pool.Exec(ctx, query, userID, mode); err != nil {
		return fmt.Errorf("failed to set execution mode: %w", err)
	}
	return nil
}

// MarkFreeTradeUsed records that a free-tier user has consumed their one trade
func (r *Repository) MarkFreeTradeUsed(ctx context.Context, userID string) error {
	query := `UPDATE bot_configs SET has_taken_first_trade = TRUE, updated_at = NOW() WHERE user_id = $1`

	if _, err := r.db.Pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to mark free trade used: %w", err)
	}
	return nil
}

// SetBotRunning upserts the durable running flag for a user's session
func (r *Repository) SetBotRunning(ctx context.Context, userID string, running bool) error {
	var query string
	if running {
		query = `
			INSERT INTO bot_status (user_id, is_running, started_at, updated_at)
			VALUES ($1, TRUE, NOW(), NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				is_running = TRUE, started_at = NOW(), stopped_at = NULL, updated_at = NOW()
		`
	} else {
		query = `
			INSERT INTO bot_status (user_id, is_running, stopped_at, updated_at)
			VALUES ($1, FALSE, NOW(), NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				is_running = FALSE, stopped_at = NOW(), updated_at = NOW()
		`
	}

	if _, err := r.db.Pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to set bot status: %w", err)
	}
	return nil
}

// GetBotStatus returns the stored running flag, or (nil, nil) when unset
func (r *Repository) GetBotStatus(ctx context.Context, userID string) (*BotStatus, error) {
	query := `SELECT user_id, is_running, started_at, stopped_at, updated_at FROM bot_status WHERE user_id = $1`

	status := &BotStatus{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&status.UserID, &status.IsRunning, &status.StartedAt, &status.StoppedAt, &status.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bot status: %w", err)
	}
	return status, nil
}

// ListRunningUsers returns user ids flagged running in the ledger. The engine
// sweeps these at startup; any id without a live session is stale.
func (r *Repository) ListRunningUsers(ctx context.Context) ([]string, error) {
	query := `SELECT user_id FROM bot_status WHERE is_running = TRUE`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list running users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// MarkStoppedBefore clears running flags last updated before the cutoff.
// Covers sessions orphaned by an unclean shutdown.
func (r *Repository) MarkStoppedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE bot_status SET is_running = FALSE, stopped_at = NOW(), updated_at = NOW()
		WHERE is_running = TRUE AND updated_at < $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
