package sentinel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/database"
)

func testGate(t *testing.T, serviceURL string, timeout time.Duration) *Gate {
	t.Helper()
	return New(config.SentinelConfig{
		ServiceURL:     serviceURL,
		Timeout:        timeout,
		MinConfidence:  85,
		FallbackFactor: 0.5,
	}, zerolog.Nop())
}

func confidenceServer(t *testing.T, confidence float64, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		if r.URL.Path != "/predict" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad predict payload: %v", err)
		}
		json.NewEncoder(w).Encode(predictResponse{Confidence: confidence})
	}))
}

func TestEliteHighConfidenceExecutes(t *testing.T) {
	srv := confidenceServer(t, 92, nil)
	defer srv.Close()

	gate := testGate(t, srv.URL, 500*time.Millisecond)
	decision := gate.Check(context.Background(), CheckRequest{
		Symbol: "R_100", Timeframe: 60, StrategyMode: "supply_demand", Tier: database.TierElite,
	})

	if !decision.Execute {
		t.Fatal("high-confidence elite signal should execute")
	}
	if decision.StakeFactor != 1 {
		t.Errorf("expected full stake, got factor %.2f", decision.StakeFactor)
	}
	if decision.IsFallback {
		t.Error("successful prediction must not be marked fallback")
	}
	if decision.Confidence != 92 {
		t.Errorf("expected confidence 92, got %.1f", decision.Confidence)
	}
}

func TestEliteLowConfidenceBlocks(t *testing.T) {
	srv := confidenceServer(t, 60, nil)
	defer srv.Close()

	gate := testGate(t, srv.URL, 500*time.Millisecond)
	decision := gate.Check(context.Background(), CheckRequest{Symbol: "R_100", Tier: database.TierElite})

	if decision.Execute {
		t.Fatal("confidence below the floor must block execution")
	}
	if decision.Reason == "" {
		t.Error("blocked decisions must carry a reason")
	}
}

func TestServiceTimeoutFallsOpenAtReducedStake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(predictResponse{Confidence: 99})
	}))
	defer srv.Close()

	gate := testGate(t, srv.URL, 20*time.Millisecond)
	decision := gate.Check(context.Background(), CheckRequest{Symbol: "R_100", Tier: database.TierElite})

	if !decision.Execute {
		t.Fatal("an unreachable service fails open, not closed")
	}
	if !decision.IsFallback {
		t.Error("timeout executions must be marked fallback")
	}
	if decision.StakeFactor != 0.5 {
		t.Errorf("fallback stake should be halved, got factor %.2f", decision.StakeFactor)
	}
}

func TestServiceErrorFallsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gate := testGate(t, srv.URL, 500*time.Millisecond)
	decision := gate.Check(context.Background(), CheckRequest{Symbol: "R_100", Tier: database.TierElite})

	if !decision.Execute || !decision.IsFallback || decision.StakeFactor != 0.5 {
		t.Errorf("5xx should degrade to half-stake fallback, got %+v", decision)
	}
}

func TestNonEliteTiersSkipPrediction(t *testing.T) {
	var calls int64
	srv := confidenceServer(t, 10, &calls)
	defer srv.Close()

	gate := testGate(t, srv.URL, 500*time.Millisecond)

	for _, tier := range []string{database.TierFree, database.TierBasic} {
		decision := gate.Check(context.Background(), CheckRequest{Symbol: "R_100", Tier: tier})
		if !decision.Execute || decision.StakeFactor != 1 {
			t.Errorf("tier %s should execute at full stake, got %+v", tier, decision)
		}
	}

	if atomic.LoadInt64(&calls) != 0 {
		t.Errorf("non-elite tiers must not call the prediction service, got %d calls", calls)
	}
}
