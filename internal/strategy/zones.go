package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"deriv-trading-bot/internal/deriv"
)

// ZoneType distinguishes supply (resistance) from demand (support) zones
type ZoneType string

const (
	ZoneSupply ZoneType = "supply"
	ZoneDemand ZoneType = "demand"
)

// Zone is a price area where consolidation preceded an impulsive departure.
// Strength is scored 1..10; Touches counts revisits since creation.
type Zone struct {
	ID        string
	Symbol    string
	Type      ZoneType
	Top       float64
	Bottom    float64
	Strength  int
	Touches   int
	CreatedAt time.Time
}

// Contains reports whether a price sits inside the zone
func (z *Zone) Contains(price float64) bool {
	return price >= z.Bottom && price <= z.Top
}

// Mid returns the zone's midpoint price
func (z *Zone) Mid() float64 {
	return (z.Top + z.Bottom) / 2
}

// DetectorConfig tunes zone detection
type DetectorConfig struct {
	Window                 int           // candles examined per detection pass
	MinConsolidationBars   int           // shortest base that counts
	ConsolidationThreshold float64       // max relative range of a base
	ImpulseThreshold       float64       // min relative body of the departure bar
	MergeThreshold         float64       // max midpoint distance for merging
	CleanBreakThreshold    float64       // close beyond the base by this much scores extra
	MaxAge                 time.Duration // zones older than this expire
	MaxTouches             int           // zones revisited this often expire
}

// DefaultDetectorConfig returns the detection parameters tuned for synthetic
// indices on short timeframes.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:                 20,
		MinConsolidationBars:   5,
		ConsolidationThreshold: 0.02,
		ImpulseThreshold:       0.03,
		MergeThreshold:         0.01,
		CleanBreakThreshold:    0.005,
		MaxAge:                 24 * time.Hour,
		MaxTouches:             3,
	}
}

// ZoneDetector finds and tracks supply/demand zones per symbol. It is safe
// for concurrent use; each session shares one detector across its symbols.
type ZoneDetector struct {
	cfg DetectorConfig

	mu    sync.Mutex
	zones map[string][]*Zone
	now   func() time.Time
}

// NewZoneDetector builds a detector with the given configuration
func NewZoneDetector(cfg DetectorConfig) *ZoneDetector {
	if cfg.Window == 0 {
		cfg = DefaultDetectorConfig()
	}
	return &ZoneDetector{
		cfg:   cfg,
		zones: make(map[string][]*Zone),
		now:   time.Now,
	}
}

// Detect scans the most recent candles for fresh zones, merges overlapping
// finds into the tracked set and returns the live zones for the symbol.
// Expired zones are pruned on every pass.
func (d *ZoneDetector) Detect(symbol string, candles []deriv.Candle) []*Zone {
	d.mu.Lock()
	defer d.mu.Unlock()

	window := candles
	if len(window) > d.cfg.Window {
		window = window[len(window)-d.cfg.Window:]
	}

	for _, found := range d.scan(symbol, window) {
		d.mergeOrAdd(symbol, found)
	}

	d.prune(symbol)
	return d.snapshot(symbol)
}

// Zones returns the live zones for a symbol without running detection
func (d *ZoneDetector) Zones(symbol string) []*Zone {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune(symbol)
	return d.snapshot(symbol)
}

// MarkTouched records a price revisit of a zone. Enough touches retire it.
func (d *ZoneDetector) MarkTouched(symbol, zoneID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, z := range d.zones[symbol] {
		if z.ID == zoneID {
			z.Touches++
			return
		}
	}
}

// scan walks the window looking for a consolidation base followed by an
// impulsive departure bar.
func (d *ZoneDetector) scan(symbol string, candles []deriv.Candle) []*Zone {
	var found []*Zone
	if len(candles) < d.cfg.MinConsolidationBars+1 {
		return found
	}

	avgVolume := 0.0
	for _, c := range candles {
		avgVolume += c.Volume
	}
	avgVolume /= float64(len(candles))

	for start := 0; start+d.cfg.MinConsolidationBars < len(candles); start++ {
		end := start + d.cfg.MinConsolidationBars
		base := candles[start:end]

		low, high := baseRange(base)
		if low <= 0 || (high-low)/low > d.cfg.ConsolidationThreshold {
			continue
		}

		// extend the base while it stays inside the consolidation band
		for end < len(candles)-1 {
			extLow, extHigh := baseRange(candles[start : end+1])
			if extLow <= 0 || (extHigh-extLow)/extLow > d.cfg.ConsolidationThreshold {
				break
			}
			low, high = extLow, extHigh
			end++
		}

		impulse := candles[end]
		if impulse.Open <= 0 {
			continue
		}
		body := (impulse.Close - impulse.Open) / impulse.Open
		if math.Abs(body) < d.cfg.ImpulseThreshold {
			continue
		}

		// The departure direction names the zone: a breakdown below the
		// base leaves unfilled demand, a breakout above it leaves supply.
		var zoneType ZoneType
		switch {
		case impulse.Close < low:
			zoneType = ZoneDemand
		case impulse.Close > high:
			zoneType = ZoneSupply
		default:
			continue
		}

		found = append(found, &Zone{
			ID:        uuid.NewString(),
			Symbol:    symbol,
			Type:      zoneType,
			Top:       high,
			Bottom:    low,
			Strength:  d.score(impulse, body, avgVolume, low, high),
			CreatedAt: d.now(),
		})

		start = end // skip past the consumed base
	}
	return found
}

// score rates a zone 1..10: base 5, bonuses for volume expansion, a large
// impulse body and a clean break beyond the base.
func (d *ZoneDetector) score(impulse deriv.Candle, body, avgVolume, low, high float64) int {
	strength := 5

	if avgVolume > 0 && impulse.Volume > 1.5*avgVolume {
		strength += 2
	}
	if math.Abs(body) > 0.05 {
		strength += 2
	}

	cleanBreak := false
	if body > 0 && impulse.Close > high*(1+d.cfg.CleanBreakThreshold) {
		cleanBreak = true
	}
	if body < 0 && impulse.Close < low*(1-d.cfg.CleanBreakThreshold) {
		cleanBreak = true
	}
	if cleanBreak {
		strength++
	}

	if strength > 10 {
		strength = 10
	}
	return strength
}

// mergeOrAdd folds a freshly found zone into an overlapping tracked zone of
// the same type, or tracks it as new. Merging keeps the stronger score and
// counts as a revisit; it never weakens a zone.
func (d *ZoneDetector) mergeOrAdd(symbol string, found *Zone) {
	for _, existing := range d.zones[symbol] {
		if existing.Type != found.Type {
			continue
		}
		mid := existing.Mid()
		if mid <= 0 {
			continue
		}
		if math.Abs(found.Mid()-mid)/mid > d.cfg.MergeThreshold {
			continue
		}

		if found.Strength > existing.Strength {
			existing.Strength = found.Strength
		}
		existing.Top = math.Max(existing.Top, found.Top)
		existing.Bottom = math.Min(existing.Bottom, found.Bottom)
		existing.Touches++
		return
	}

	d.zones[symbol] = append(d.zones[symbol], found)
}

func (d *ZoneDetector) prune(symbol string) {
	cutoff := d.now().Add(-d.cfg.MaxAge)
	kept := d.zones[symbol][:0]
	for _, z := range d.zones[symbol] {
		if z.CreatedAt.Before(cutoff) || z.Touches >= d.cfg.MaxTouches {
			continue
		}
		kept = append(kept, z)
	}
	d.zones[symbol] = kept
}

func (d *ZoneDetector) snapshot(symbol string) []*Zone {
	out := make([]*Zone, len(d.zones[symbol]))
	copy(out, d.zones[symbol])
	return out
}

func baseRange(candles []deriv.Candle) (low, high float64) {
	low, high = math.MaxFloat64, 0
	for _, c := range candles {
		low = math.Min(low, c.Low)
		high = math.Max(high, c.High)
	}
	return low, high
}

// String describes a zone for logging
func (z *Zone) String() string {
	return fmt.Sprintf("%s %s [%.4f..%.4f] strength=%d touches=%d",
		z.Symbol, z.Type, z.Bottom, z.Top, z.Strength, z.Touches)
}
