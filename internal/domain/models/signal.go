package models

// Signal is an agent opinion or a consensus decision label.
type Signal string

const (
	SignalStrongBuy  Signal = "STRONG_BUY"
	SignalBuy        Signal = "BUY"
	SignalHold       Signal = "HOLD"
	SignalSell       Signal = "SELL"
	SignalStrongSell Signal = "STRONG_SELL"
	SignalRiskOn     Signal = "RISK_ON"
	SignalRiskOff    Signal = "RISK_OFF"
	SignalNeutral    Signal = "NEUTRAL"
)

var signalScores = map[Signal]float64{
	SignalStrongBuy:  1.0,
	SignalBuy:        0.5,
	SignalRiskOn:     0.5,
	SignalHold:       0.0,
	SignalNeutral:    0.0,
	SignalRiskOff:    -0.5,
	SignalSell:       -0.5,
	SignalStrongSell: -1.0,
}

// Score returns the aggregation score of the signal.
func (s Signal) Score() (float64, bool) {
	v, ok := signalScores[s]
	return v, ok
}

func (s Signal) Valid() bool {
	_, ok := signalScores[s]
	return ok
}

func (s Signal) String() string { return string(s) }

// Agent names double as ledger chain keys.
const (
	AgentMacro = "macro_agent"
	AgentValue = "value_agent"
	AgentQuant = "quant_agent"
	AgentRisk  = "risk_agent"
)

// MacroTicker is the ticker recorded on macro ledger entries, which are not asset specific.
const MacroTicker = "MARKET"

// AgentSignal is one weighted agent opinion for a single asset.
type AgentSignal struct {
	Agent   string
	Signal  Signal
	Score   float64 // in [-1, 1]
	Weight  float64
	Details map[string]interface{}
}
