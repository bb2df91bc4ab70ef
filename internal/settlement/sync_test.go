package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/database"
	"deriv-trading-bot/internal/deriv"
)

type fakeLedger struct {
	known    map[string]bool
	inserted []*database.Trade
}

func (f *fakeLedger) KnownContractIDs(ctx context.Context, userID string) (map[string]bool, error) {
	return f.known, nil
}

func (f *fakeLedger) BulkInsertTrades(ctx context.Context, trades []*database.Trade) error {
	f.inserted = append(f.inserted, trades...)
	return nil
}

type fakeCooldown struct {
	allowed     bool
	lockCalls   int
	invalidated int
}

func (f *fakeCooldown) TrySyncLock(ctx context.Context, userID string, cooldown time.Duration) (bool, error) {
	f.lockCalls++
	return f.allowed, nil
}

func (f *fakeCooldown) InvalidateAnalytics(ctx context.Context, userID string) {
	f.invalidated++
}

type fakeProfitSource struct {
	entries []deriv.ProfitTableEntry
	fetches int
}

func (f *fakeProfitSource) GetProfitTable(ctx context.Context, limit int) ([]deriv.ProfitTableEntry, error) {
	f.fetches++
	return f.entries, nil
}

func testEntries() []deriv.ProfitTableEntry {
	return []deriv.ProfitTableEntry{
		{
			ContractID:   111,
			BuyPrice:     10,
			SellPrice:    19.2,
			Payout:       19.2,
			PurchaseTime: 1700000000,
			SellTime:     1700000300,
			Shortcode:    "CALL_R_100_19.2_1700000000_1700000300_S0P_0",
			Longcode:     "Win payout if Volatility 100 Index is strictly higher than entry spot",
		},
		{
			ContractID:   222,
			BuyPrice:     10,
			SellPrice:    0,
			Payout:       19.2,
			PurchaseTime: 1700000600,
			SellTime:     1700000900,
			Shortcode:    "PUT_1HZ100V_19.2_1700000600_1700000900_S0P_0",
			Longcode:     "Win payout if Volatility 100 (1s) Index is strictly lower than entry spot",
		},
	}
}

func TestSyncImportsUnknownContracts(t *testing.T) {
	ledger := &fakeLedger{known: map[string]bool{}}
	cooldown := &fakeCooldown{allowed: true}
	source := &fakeProfitSource{entries: testEntries()}

	r := NewReconciler(ledger, cooldown, time.Minute, zerolog.Nop())
	imported, err := r.SyncTrades(context.Background(), "user-1", source)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if imported != 2 {
		t.Fatalf("expected 2 imports, got %d", imported)
	}
	if len(ledger.inserted) != 2 {
		t.Fatalf("expected 2 inserted rows, got %d", len(ledger.inserted))
	}
	if cooldown.invalidated != 1 {
		t.Errorf("imports must invalidate cached analytics, got %d calls", cooldown.invalidated)
	}

	win := ledger.inserted[0]
	if win.Status != database.TradeStatusWon || win.PnL != 9.2 {
		t.Errorf("winning contract: status=%s pnl=%.2f", win.Status, win.PnL)
	}
	if win.Symbol != "R_100" || win.ContractType != "CALL" {
		t.Errorf("winning contract parsed as %s %s", win.Symbol, win.ContractType)
	}
	if win.ClosedAt == nil || !win.ClosedAt.Equal(time.Unix(1700000300, 0)) {
		t.Error("imported trades must carry the settlement time")
	}

	loss := ledger.inserted[1]
	if loss.Status != database.TradeStatusLost || loss.PnL != -10 {
		t.Errorf("losing contract: status=%s pnl=%.2f", loss.Status, loss.PnL)
	}
	if loss.Symbol != "1HZ100V" || loss.ContractType != "PUT" {
		t.Errorf("losing contract parsed as %s %s", loss.Symbol, loss.ContractType)
	}
}

func TestSyncSkipsKnownContracts(t *testing.T) {
	ledger := &fakeLedger{known: map[string]bool{"111": true}}
	cooldown := &fakeCooldown{allowed: true}
	source := &fakeProfitSource{entries: testEntries()}

	r := NewReconciler(ledger, cooldown, time.Minute, zerolog.Nop())
	imported, err := r.SyncTrades(context.Background(), "user-1", source)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if imported != 1 {
		t.Fatalf("expected 1 import, got %d", imported)
	}
	if ledger.inserted[0].ContractID != "222" {
		t.Errorf("wrong contract imported: %s", ledger.inserted[0].ContractID)
	}
}

func TestSyncRespectsCooldown(t *testing.T) {
	ledger := &fakeLedger{known: map[string]bool{}}
	cooldown := &fakeCooldown{allowed: false}
	source := &fakeProfitSource{entries: testEntries()}

	r := NewReconciler(ledger, cooldown, time.Minute, zerolog.Nop())
	imported, err := r.SyncTrades(context.Background(), "user-1", source)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if imported != 0 {
		t.Fatalf("cooled-down sync must import nothing, got %d", imported)
	}
	if source.fetches != 0 {
		t.Error("cooled-down sync must not hit the profit table endpoint")
	}
}

func TestBreakEvenCountsAsWin(t *testing.T) {
	r := NewReconciler(nil, nil, time.Minute, zerolog.Nop())
	trade := r.toTrade("user-1", "333", deriv.ProfitTableEntry{
		BuyPrice:  10,
		SellPrice: 10,
		Shortcode: "CALL_R_50_19.2_1700000000_1700000300_S0P_0",
	})
	if trade.Status != database.TradeStatusWon {
		t.Errorf("break-even contract should settle as won, got %s", trade.Status)
	}
	if trade.PnL != 0 || trade.PnLPercent != 0 {
		t.Errorf("break-even pnl should be zero, got %.2f (%.2f%%)", trade.PnL, trade.PnLPercent)
	}
}

func TestParseSymbol(t *testing.T) {
	cases := map[string]string{
		"CALL_R_100_19.2_1700000000_1700000300_S0P_0":  "R_100",
		"PUT_R_50_19.2_1700000000_1700000300_S0P_0":    "R_50",
		"PUT_1HZ100V_19.2_1700000600_1700000900_S0P_0": "1HZ100V",
		"CALL_BOOM1000_19.2_1700000000_1700000300":     "BOOM1000",
	}
	for shortcode, want := range cases {
		if got := ParseSymbol(shortcode); got != want {
			t.Errorf("%s: expected %s, got %s", shortcode, want, got)
		}
	}
}

func TestParseContractType(t *testing.T) {
	cases := []struct {
		longcode  string
		shortcode string
		want      string
	}{
		{"Win payout if index is strictly higher than entry spot", "", "CALL"},
		{"Win payout if index is strictly lower than entry spot", "", "PUT"},
		{"Win payout if index rises", "", "CALL"},
		{"Win payout if index falls", "", "PUT"},
		{"", "PUT_R_100_19.2_1700000000_1700000300_S0P_0", "PUT"},
		{"", "CALL_R_100_19.2_1700000000_1700000300_S0P_0", "CALL"},
		{"", "", "CALL"},
	}
	for _, c := range cases {
		if got := ParseContractType(c.longcode, c.shortcode); got != c.want {
			t.Errorf("longcode=%q shortcode=%q: expected %s, got %s", c.longcode, c.shortcode, got, c.want)
		}
	}
}
