// Package settlement reconciles the local trade ledger with the brokerage's
// settled contract history.
package settlement

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/cache"
	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/deriv"
)

// ProfitSource is the slice of the protocol client the reconciler reads
type ProfitSource interface {
	GetProfitTable(ctx context.Context, limit int) ([]deriv.ProfitTableEntry, error)
}

// Ledger is the slice of the trade store the reconciler writes
type Ledger interface {
	KnownContractIDs(ctx context.Context, userID string) (map[string]bool, error)
	BulkInsertTrades(ctx context.Context, trades []*database.Trade) error
}

// CooldownStore gates sync frequency and invalidates derived caches
type CooldownStore interface {
	TrySyncLock(ctx context.Context, userID string, cooldown time.Duration) (bool, error)
	InvalidateAnalytics(ctx context.Context, userID string)
}

// Reconciler imports settled contracts the engine never saw open, covering
// trades placed outside the engine or lost to a crash mid-cycle.
type Reconciler struct {
	ledger   Ledger
	cache    CooldownStore
	cooldown time.Duration
	logger   zerolog.Logger
}

// NewReconciler builds a reconciler. The cooldown keeps repeated cycle-end
// syncs from hammering the profit table endpoint.
func NewReconciler(ledger Ledger, c CooldownStore, cooldown time.Duration, logger zerolog.Logger) *Reconciler {
	if cooldown <= 0 {
		cooldown = cache.DefaultSyncCooldown
	}
	return &Reconciler{
		ledger:   ledger,
		cache:    c,
		cooldown: cooldown,
		logger:   logger.With().Str("component", "settlement").Logger(),
	}
}

// SyncTrades pulls the account's recent settled contracts and inserts the
// ones the ledger does not know. Returns the number imported; a sync inside
// the cooldown window is a no-op.
func (r *Reconciler) SyncTrades(ctx context.Context, userID string, source ProfitSource) (int, error) {
	allowed, err := r.cache.TrySyncLock(ctx, userID, r.cooldown)
	if err != nil {
		r.logger.Warn().Err(err).Str("user", userID).Msg("sync cooldown check degraded")
	}
	if !allowed {
		return 0, nil
	}

	entries, err := source.GetProfitTable(ctx, 50)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	known, err := r.ledger.KnownContractIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	var imports []*database.Trade
	for _, entry := range entries {
		contractID := strconv.FormatInt(entry.ContractID, 10)
		if known[contractID] {
			continue
		}
		imports = append(imports, r.toTrade(userID, contractID, entry))
	}
	if len(imports) == 0 {
		return 0, nil
	}

	if err := r.ledger.BulkInsertTrades(ctx, imports); err != nil {
		return 0, err
	}

	r.cache.InvalidateAnalytics(ctx, userID)
	r.logger.Info().Int("imported", len(imports)).Str("user", userID).Msg("trade history synced")
	return len(imports), nil
}

// toTrade converts one history entry into a settled ledger row.
// A sell price at or above the buy price counts as a win; a break-even
// contract returned the stake.
func (r *Reconciler) toTrade(userID, contractID string, entry deriv.ProfitTableEntry) *database.Trade {
	pnl := entry.SellPrice - entry.BuyPrice
	status := database.TradeStatusWon
	if pnl < 0 {
		status = database.TradeStatusLost
	}

	pnlPercent := 0.0
	if entry.BuyPrice > 0 {
		pnlPercent = pnl / entry.BuyPrice * 100
	}

	createdAt := time.Unix(entry.PurchaseTime, 0)
	closedAt := time.Unix(entry.SellTime, 0)

	contractType := ParseContractType(entry.Longcode, entry.Shortcode)

	return &database.Trade{
		TradeID:      uuid.NewString(),
		UserID:       userID,
		Symbol:       ParseSymbol(entry.Shortcode),
		ContractType: contractType,
		Action:       "BUY_" + contractType,
		Amount:       entry.BuyPrice,
		Payout:       entry.Payout,
		Status:       status,
		ContractID:   contractID,
		PnL:          pnl,
		PnLPercent:   pnlPercent,
		CreatedAt:    createdAt,
		ClosedAt:     &closedAt,
	}
}

// ParseSymbol extracts the market symbol from a contract shortcode such as
// CALL_R_100_19.54_1700000000_1700000300_S0P_0. Volatility index symbols
// span two underscore tokens.
func ParseSymbol(shortcode string) string {
	parts := strings.Split(shortcode, "_")
	if len(parts) < 2 {
		return shortcode
	}
	symbol := parts[1]
	if len(parts) >= 3 {
		if _, err := strconv.Atoi(parts[2]); err == nil && len(symbol) <= 3 {
			symbol = symbol + "_" + parts[2]
		}
	}
	return symbol
}

// ParseContractType derives CALL or PUT from contract descriptions
func ParseContractType(longcode, shortcode string) string {
	upper := strings.ToUpper(longcode)
	switch {
	case strings.Contains(upper, "PUT") || strings.Contains(upper, "FALL") || strings.Contains(upper, "LOWER"):
		return "PUT"
	case strings.Contains(upper, "CALL") || strings.Contains(upper, "RISE") || strings.Contains(upper, "HIGHER"):
		return "CALL"
	}
	if strings.HasPrefix(strings.ToUpper(shortcode), "PUT") {
		return "PUT"
	}
	return "CALL"
}
