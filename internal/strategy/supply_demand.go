package strategy

import (
	"fmt"
	"sync"
	"time"

	"deriv-trading-bot/internal/deriv"
)

// Signal actions
const (
	ActionCall = "CALL"
	ActionPut  = "PUT"
	ActionHold = "HOLD"
)

// Signal is one strategy decision for a symbol
type Signal struct {
	Action       string
	Symbol       string
	Confidence   float64 // 0..1
	Duration     int
	DurationUnit string
	Reason       string
	Zone         *Zone
	TakeProfit   float64 // price level, scalp only
	StopLoss     float64 // price level, scalp only
}

// IsActionable reports whether the signal asks for a trade
func (s Signal) IsActionable() bool {
	return s.Action == ActionCall || s.Action == ActionPut
}

// MarketSnapshot is the per-symbol input a strategy evaluates
type MarketSnapshot struct {
	Symbol      string
	Candles     []deriv.Candle
	Granularity int
}

// durationForGranularity maps the chart interval onto a contract duration.
// Faster charts get shorter contracts.
func durationForGranularity(granularity int) (int, string) {
	switch {
	case granularity <= 60:
		return 5, "m"
	case granularity <= 300:
		return 15, "m"
	case granularity <= 900:
		return 60, "m"
	default:
		return 120, "m"
	}
}

// SupplyDemandStrategy trades zone retests confirmed by RSI(14): oversold
// inside a demand zone buys a rise, overbought inside a supply zone buys a
// fall. A per-symbol cooldown spaces signals out.
type SupplyDemandStrategy struct {
	detector   *ZoneDetector
	rsiPeriod  int
	oversold   float64
	overbought float64
	signalGap  time.Duration

	mu         sync.Mutex
	lastSignal map[string]time.Time
	now        func() time.Time
}

// NewSupplyDemandStrategy builds the strategy around a shared zone detector.
// A non-positive signalGap falls back to five minutes.
func NewSupplyDemandStrategy(detector *ZoneDetector, signalGap time.Duration) *SupplyDemandStrategy {
	if signalGap <= 0 {
		signalGap = 5 * time.Minute
	}
	return &SupplyDemandStrategy{
		detector:   detector,
		rsiPeriod:  14,
		oversold:   35,
		overbought: 65,
		signalGap:  signalGap,
		lastSignal: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Name identifies the strategy in logs and the ledger
func (s *SupplyDemandStrategy) Name() string { return "supply_demand" }

// Analyze evaluates one symbol and returns a signal. HOLD signals carry the
// reason they did not trade.
func (s *SupplyDemandStrategy) Analyze(snapshot MarketSnapshot) Signal {
	hold := func(reason string) Signal {
		return Signal{Action: ActionHold, Symbol: snapshot.Symbol, Reason: reason}
	}

	candles := snapshot.Candles
	if len(candles) < s.rsiPeriod+1 {
		return hold("not enough candles")
	}

	if !s.cooldownElapsed(snapshot.Symbol) {
		return hold("signal cooldown active")
	}

	zones := s.detector.Detect(snapshot.Symbol, candles)
	price := candles[len(candles)-1].Close
	rsi := RSI(Closes(candles), s.rsiPeriod)

	var active *Zone
	for _, z := range zones {
		if z.Contains(price) {
			active = z
			break
		}
	}
	if active == nil {
		return hold("price outside all zones")
	}

	var action string
	confidence := 0.5 + float64(10-active.Strength)*0.05

	switch {
	case active.Type == ZoneDemand && rsi < s.oversold:
		action = ActionCall
		confidence += 0.3
	case active.Type == ZoneSupply && rsi > s.overbought:
		action = ActionPut
		confidence += 0.3
	default:
		return hold(fmt.Sprintf("in %s zone but rsi %.1f lacks confirmation", active.Type, rsi))
	}
	if confidence > 1 {
		confidence = 1
	}

	s.recordSignal(snapshot.Symbol)
	s.detector.MarkTouched(snapshot.Symbol, active.ID)

	duration, unit := durationForGranularity(snapshot.Granularity)
	return Signal{
		Action:       action,
		Symbol:       snapshot.Symbol,
		Confidence:   confidence,
		Duration:     duration,
		DurationUnit: unit,
		Reason:       fmt.Sprintf("%s zone retest, rsi %.1f", active.Type, rsi),
		Zone:         active,
	}
}

func (s *SupplyDemandStrategy) cooldownElapsed(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSignal[symbol]
	return !ok || s.now().Sub(last) >= s.signalGap
}

func (s *SupplyDemandStrategy) recordSignal(symbol string) {
	s.mu.Lock()
	s.lastSignal[symbol] = s.now()
	s.mu.Unlock()
}
