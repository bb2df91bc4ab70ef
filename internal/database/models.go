package database

import (
	"time"
)

// Trade status values
const (
	TradeStatusOpen = "open"
	TradeStatusWon  = "won"
	TradeStatusLost = "lost"
)

// Execution modes for a session
const (
	ExecutionModeAuto       = "auto"
	ExecutionModeSignalOnly = "signal_only"
	ExecutionModeFirstTrade = "first_trade"
)

// Subscription tiers the engine distinguishes
const (
	TierFree  = "free"
	TierBasic = "basic"
	TierElite = "elite"
)

// Trade is a ledger record of a single brokerage contract. Created at order
// placement with status open; settled exactly once by reconciliation.
type Trade struct {
	ID            int64      `json:"id"`
	TradeID       string     `json:"trade_id"`
	UserID        string     `json:"user_id"`
	Symbol        string     `json:"symbol"`
	ContractType  string     `json:"contract_type"` // CALL or PUT
	Action        string     `json:"action"`        // BUY_CALL or BUY_PUT
	Amount        float64    `json:"amount"`
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     *float64   `json:"exit_price,omitempty"`
	Payout        float64    `json:"payout"`
	Status        string     `json:"status"`
	ContractID    string     `json:"contract_id"`
	ProposalID    string     `json:"proposal_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	PnL           float64    `json:"pnl"`
	PnLPercent    float64    `json:"pnl_percent"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// BotConfig is the stored per-user trading configuration the engine
// normalizes at session start. Token fields may be empty when the user relies
// on the vault store or the process-wide default token.
type BotConfig struct {
	UserID              string    `json:"user_id"`
	Symbols             []string  `json:"symbols"`
	AmountPerTrade      float64   `json:"amount_per_trade"`
	CandleCount         int       `json:"candle_count"`
	CycleIntervalSecs   int       `json:"cycle_interval_seconds"`
	MaxTradesPerCycle   int       `json:"max_trades_per_cycle"`
	DailyTradeLimit     int       `json:"daily_trade_limit"`
	TakeProfit          float64   `json:"take_profit"`
	StopLoss            float64   `json:"stop_loss"`
	MinSignalGapMinutes int       `json:"min_signal_gap_minutes"`
	DemoToken           string    `json:"-"`
	RealToken           string    `json:"-"`
	AccountType         string    `json:"account_type"` // demo or real
	SubscriptionTier    string    `json:"subscription_tier"`
	ExecutionMode       string    `json:"execution_mode"`
	StrategyMode        string    `json:"strategy_mode"`
	HasTakenFirstTrade  bool      `json:"has_taken_first_trade"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BotStatus mirrors the durable running flag for a user's session
type BotStatus struct {
	UserID    string     `json:"user_id"`
	IsRunning bool       `json:"is_running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Notification is a persistent user-facing alert
type Notification struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"` // info, success, warning, error, alert
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeStats is an aggregate view over a user's settled trades
type TradeStats struct {
	TotalTrades int     `json:"total_trades"`
	Won         int     `json:"won"`
	Lost        int     `json:"lost"`
	Open        int     `json:"open"`
	NetPnL      float64 `json:"net_pnl"`
	WinRate     float64 `json:"win_rate"`
}
