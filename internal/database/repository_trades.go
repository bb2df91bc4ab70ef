package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateTrade inserts a trade at order placement time (status open)
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (
			trade_id, user_id, symbol, contract_type, action, amount,
			entry_price, payout, status, contract_id, proposal_id,
			transaction_id, pnl, pnl_percent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	createdAt := trade.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err := r.db.Pool.QueryRow(ctx, query,
		trade.TradeID, trade.UserID, trade.Symbol, trade.ContractType,
		trade.Action, trade.Amount, trade.EntryPrice, trade.Payout,
		trade.Status, trade.ContractID, trade.ProposalID,
		trade.TransactionID, trade.PnL, trade.PnLPercent, createdAt,
	).Scan(&trade.ID)

	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	trade.CreatedAt = createdAt
	return nil
}

// SettleTrade marks an open trade as won or lost. The status guard keeps a
// settled trade from being reconciled twice with conflicting outcomes.
func (r *Repository) SettleTrade(ctx context.Context, tradeID, status string, pnl, exitPrice float64, closedAt time.Time) error {
	query := `
		UPDATE trades
		SET status = $2, pnl = $3, exit_price = $4, closed_at = $5,
			pnl_percent = CASE WHEN amount > 0 THEN ($3 / amount) * 100 ELSE 0 END
		WHERE trade_id = $1 AND status = $6
	`

	tag, err := r.db.Pool.Exec(ctx, query, tradeID, status, pnl, exitPrice, closedAt, TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to settle trade %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s is not open", tradeID)
	}
	return nil
}

// SumPnLSince returns the realized PnL for a user across trades settled since
// the given time. Feeds the circuit breaker's trailing-window check; trades
// opened earlier but settled inside the window still count.
func (r *Repository) SumPnLSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(pnl), 0) FROM trades
		WHERE user_id = $1 AND status IN ('won', 'lost') AND closed_at >= $2`

	var pnl float64
	if err := r.db.Pool.QueryRow(ctx, query, userID, since).Scan(&pnl); err != nil {
		return 0, fmt.Errorf("failed to sum pnl: %w", err)
	}
	return pnl, nil
}

// KnownContractIDs returns the set of broker contract ids already in the
// ledger for a user. Used by bulk sync to dedupe.
func (r *Repository) KnownContractIDs(ctx context.Context, userID string) (map[string]bool, error) {
	query := `SELECT contract_id FROM trades WHERE user_id = $1 AND contract_id IS NOT NULL AND contract_id <> ''`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contract ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contract id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// BulkInsertTrades inserts already-settled history trades in one batch
func (r *Repository) BulkInsertTrades(ctx context.Context, trades []*Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO trades (
			trade_id, user_id, symbol, contract_type, action, amount,
			entry_price, payout, status, contract_id, transaction_id,
			pnl, pnl_percent, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (trade_id) DO NOTHING
	`

	for _, t := range trades {
		batch.Queue(query,
			t.TradeID, t.UserID, t.Symbol, t.ContractType, t.Action,
			t.Amount, t.EntryPrice, t.Payout, t.Status, t.ContractID,
			t.TransactionID, t.PnL, t.PnLPercent, t.CreatedAt, t.ClosedAt,
		)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range trades {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("bulk insert failed: %w", err)
		}
	}
	return nil
}

// GetTradeStats aggregates a user's ledger for session analytics
func (r *Repository) GetTradeStats(ctx context.Context, userID string) (*TradeStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'won'),
			COUNT(*) FILTER (WHERE status = 'lost'),
			COUNT(*) FILTER (WHERE status = 'open'),
			COALESCE(SUM(pnl), 0)
		FROM trades WHERE user_id = $1
	`

	stats := &TradeStats{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalTrades, &stats.Won, &stats.Lost, &stats.Open, &stats.NetPnL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade stats: %w", err)
	}

	settled := stats.Won + stats.Lost
	if settled > 0 {
		stats.WinRate = float64(stats.Won) / float64(settled) * 100
	}
	return stats, nil
}

// GetRecentTrades returns a user's newest trades, most recent first
func (r *Repository) GetRecentTrades(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	query := `
		SELECT id, trade_id, user_id, symbol, contract_type, action, amount,
			COALESCE(entry_price, 0), exit_price, COALESCE(payout, 0), status,
			COALESCE(contract_id, ''), COALESCE(proposal_id, ''),
			COALESCE(transaction_id, ''), COALESCE(pnl, 0), COALESCE(pnl_percent, 0),
			created_at, closed_at
		FROM trades WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		err := rows.Scan(
			&t.ID, &t.TradeID, &t.UserID, &t.Symbol, &t.ContractType,
			&t.Action, &t.Amount, &t.EntryPrice, &t.ExitPrice, &t.Payout,
			&t.Status, &t.ContractID, &t.ProposalID, &t.TransactionID,
			&t.PnL, &t.PnLPercent, &t.CreatedAt, &t.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
