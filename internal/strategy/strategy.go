package strategy

// Strategy is the evaluation interface a session drives once per cycle and
// symbol. Implementations keep their own cooldown and zone state.
type Strategy interface {
	Name() string
	Analyze(snapshot MarketSnapshot) Signal
}

// Strategy modes stored in a user's configuration
const (
	ModeSupplyDemand = "supply_demand"
	ModeHybridScalp  = "hybrid_scalp"
)

// ForMode returns the strategy for a stored mode string. Unknown modes fall
// back to supply/demand, the conservative default.
func ForMode(mode string, supplyDemand *SupplyDemandStrategy, scalp *HybridScalpStrategy) Strategy {
	if mode == ModeHybridScalp {
		return scalp
	}
	return supplyDemand
}
