package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/logging"
)

type stubLedger struct {
	pnl   float64
	err   error
	since time.Time
}

func (s *stubLedger) SumPnLSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	s.since = since
	return s.pnl, s.err
}

func testBreaker(ledger Ledger) *Breaker {
	return NewBreaker(config.CircuitBreakerConfig{
		Enabled:              true,
		MaxHourlyLossPercent: 1.5,
		FallbackBalance:      10000,
	}, ledger, logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}))
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	ledger := &stubLedger{pnl: -150}
	b := testBreaker(ledger)

	verdict := b.Check(context.Background(), "user-1", 10000)
	if !verdict.Tripped {
		t.Fatalf("loss at the threshold must trip: %+v", verdict)
	}
	if verdict.Threshold != -150 {
		t.Errorf("expected threshold -150, got %.2f", verdict.Threshold)
	}
}

func TestBreakerHoldsBelowThreshold(t *testing.T) {
	ledger := &stubLedger{pnl: -149}
	b := testBreaker(ledger)

	if verdict := b.Check(context.Background(), "user-1", 10000); verdict.Tripped {
		t.Fatalf("loss inside the limit must not trip: %+v", verdict)
	}
}

func TestBreakerScalesWithBalance(t *testing.T) {
	ledger := &stubLedger{pnl: -200}
	b := testBreaker(ledger)

	// 1.5% of 20000 is 300, a 200 loss is within bounds
	if verdict := b.Check(context.Background(), "user-1", 20000); verdict.Tripped {
		t.Fatalf("loss within the scaled limit must not trip: %+v", verdict)
	}

	verdict := b.Check(context.Background(), "user-1", 10000)
	if !verdict.Tripped {
		t.Fatalf("same loss against half the balance must trip: %+v", verdict)
	}
}

func TestBreakerUsesFallbackBalance(t *testing.T) {
	ledger := &stubLedger{pnl: -150}
	b := testBreaker(ledger)

	// unauthorized sessions report a zero balance
	verdict := b.Check(context.Background(), "user-1", 0)
	if !verdict.Tripped {
		t.Fatal("fallback balance should bound pre-authorization sessions")
	}
	if verdict.Threshold != -150 {
		t.Errorf("expected fallback threshold -150, got %.2f", verdict.Threshold)
	}
}

func TestBreakerFailsOpenOnLedgerError(t *testing.T) {
	ledger := &stubLedger{err: errors.New("connection refused")}
	b := testBreaker(ledger)

	if verdict := b.Check(context.Background(), "user-1", 10000); verdict.Tripped {
		t.Fatal("a ledger failure must not halt trading")
	}
}

func TestBreakerDisabled(t *testing.T) {
	ledger := &stubLedger{pnl: -5000}
	b := NewBreaker(config.CircuitBreakerConfig{Enabled: false}, ledger,
		logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}))

	if verdict := b.Check(context.Background(), "user-1", 10000); verdict.Tripped {
		t.Fatal("disabled breaker must never trip")
	}
}

func TestBreakerWindowIsOneHour(t *testing.T) {
	ledger := &stubLedger{pnl: 0}
	b := testBreaker(ledger)

	fixed := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	b.Check(context.Background(), "user-1", 10000)
	if want := fixed.Add(-time.Hour); !ledger.since.Equal(want) {
		t.Errorf("expected trailing window starting %s, got %s", want, ledger.since)
	}
}
