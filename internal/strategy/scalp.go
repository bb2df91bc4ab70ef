package strategy

import (
	"fmt"
	"sync"
	"time"
)

// HybridScalpStrategy trades fast mean reversion off untouched zones. It
// wants an extreme RSI(7) print with the price on the favorable side of VWAP
// and only considers zones nothing has revisited yet. Contracts run one
// minute; exit levels are derived from ATR(14).
type HybridScalpStrategy struct {
	detector   *ZoneDetector
	rsiPeriod  int
	atrPeriod  int
	oversold   float64
	overbought float64
	tpFactor   float64
	slFactor   float64
	signalGap  time.Duration

	mu         sync.Mutex
	lastSignal map[string]time.Time
	now        func() time.Time
}

// NewHybridScalpStrategy builds the scalp strategy around a shared detector
func NewHybridScalpStrategy(detector *ZoneDetector) *HybridScalpStrategy {
	return &HybridScalpStrategy{
		detector:   detector,
		rsiPeriod:  7,
		atrPeriod:  14,
		oversold:   25,
		overbought: 75,
		tpFactor:   1.5,
		slFactor:   0.8,
		signalGap:  60 * time.Second,
		lastSignal: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Name identifies the strategy in logs and the ledger
func (s *HybridScalpStrategy) Name() string { return "hybrid_scalp" }

// Analyze evaluates one symbol for a scalp entry
func (s *HybridScalpStrategy) Analyze(snapshot MarketSnapshot) Signal {
	hold := func(reason string) Signal {
		return Signal{Action: ActionHold, Symbol: snapshot.Symbol, Reason: reason}
	}

	candles := snapshot.Candles
	if len(candles) < s.atrPeriod+1 {
		return hold("not enough candles")
	}

	if !s.cooldownElapsed(snapshot.Symbol) {
		return hold("signal cooldown active")
	}

	zones := s.detector.Detect(snapshot.Symbol, candles)
	price := candles[len(candles)-1].Close
	rsi := RSI(Closes(candles), s.rsiPeriod)
	vwap := VWAP(candles)
	atr := ATR(candles, s.atrPeriod)

	var active *Zone
	for _, z := range zones {
		if z.Touches == 0 && z.Contains(price) {
			active = z
			break
		}
	}
	if active == nil {
		return hold("no fresh zone at price")
	}

	var action string
	var takeProfit, stopLoss float64

	switch {
	case active.Type == ZoneDemand && rsi < s.oversold && price > vwap:
		action = ActionCall
		takeProfit = price + s.tpFactor*atr
		stopLoss = price - s.slFactor*atr
	case active.Type == ZoneSupply && rsi > s.overbought && price < vwap:
		action = ActionPut
		takeProfit = price - s.tpFactor*atr
		stopLoss = price + s.slFactor*atr
	default:
		return hold(fmt.Sprintf("fresh %s zone but rsi %.1f / vwap side unfavorable", active.Type, rsi))
	}

	s.recordSignal(snapshot.Symbol)
	s.detector.MarkTouched(snapshot.Symbol, active.ID)

	confidence := 0.6 + float64(active.Strength)*0.04
	if confidence > 1 {
		confidence = 1
	}

	return Signal{
		Action:       action,
		Symbol:       snapshot.Symbol,
		Confidence:   confidence,
		Duration:     1,
		DurationUnit: "m",
		Reason:       fmt.Sprintf("fresh %s zone scalp, rsi %.1f vs vwap %.4f", active.Type, rsi, vwap),
		Zone:         active,
		TakeProfit:   takeProfit,
		StopLoss:     stopLoss,
	}
}

func (s *HybridScalpStrategy) cooldownElapsed(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSignal[symbol]
	return !ok || s.now().Sub(last) >= s.signalGap
}

func (s *HybridScalpStrategy) recordSignal(symbol string) {
	s.mu.Lock()
	s.lastSignal[symbol] = s.now()
	s.mu.Unlock()
}
