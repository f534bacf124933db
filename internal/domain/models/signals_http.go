package models

import "time"

// Agent wire contracts. Field names and bounds follow the agents' request
// validation; responses are validated after decoding.

type MacroRequest struct {
	InflationRate    float64 `json:"inflation_rate"`
	InterestRate     float64 `json:"interest_rate"`
	GDPGrowth        float64 `json:"gdp_growth"`
	UnemploymentRate float64 `json:"unemployment_rate"`
	LiquidityIndex   float64 `json:"liquidity_index"`
}

type MacroResponse struct {
	Regime  string          `json:"regime"`
	Signal  string          `json:"signal" validate:"required,oneof=RISK_ON RISK_OFF NEUTRAL"`
	Details map[string]bool `json:"details"`
}

// ValueRequest is flat; debt, ebitda and shares_outstanding are notional
// values derived from the stored leverage ratio.
type ValueRequest struct {
	Ticker            string  `json:"ticker"`
	ROE               float64 `json:"roe"`
	FCF               float64 `json:"fcf"`
	Debt              float64 `json:"debt"`
	EBITDA            float64 `json:"ebitda"`
	CurrentPrice      float64 `json:"current_price"`
	SharesOutstanding float64 `json:"shares_outstanding"`
}

type ValueResponse struct {
	Ticker         string             `json:"ticker"`
	IntrinsicValue float64            `json:"intrinsic_value"`
	MarginOfSafety float64            `json:"margin_of_safety"`
	Signal         string             `json:"signal" validate:"required,oneof=STRONG_BUY BUY HOLD SELL STRONG_SELL"`
	Details        map[string]float64 `json:"details"`
}

// WirePrice is one dated price as the quant and risk agents expect it.
type WirePrice struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

type QuantRequest struct {
	Ticker string      `json:"ticker"`
	Prices []WirePrice `json:"prices"`
}

type QuantResponse struct {
	Ticker        string             `json:"ticker"`
	MomentumScore float64            `json:"momentum_score"`
	Volatility    float64            `json:"volatility" validate:"gte=0"`
	Signal        string             `json:"signal" validate:"required,oneof=STRONG_BUY BUY HOLD SELL STRONG_SELL"`
	Details       map[string]float64 `json:"details"`
}

type RiskRequest struct {
	Prices           []WirePrice `json:"prices"`
	TargetVolatility float64     `json:"target_volatility"`
}

type RiskResponse struct {
	MaxDrawdown          float64         `json:"max_drawdown"`
	Volatility           float64         `json:"volatility"`
	RiskAdjustedExposure float64         `json:"risk_adjusted_exposure" validate:"gte=0,lte=1"`
	Details              map[string]bool `json:"details"`
}

// Admin API requests.

type SetModeRequest struct {
	Mode   string `json:"mode" validate:"required,oneof=NORMAL FAIL_SAFE PANIC"`
	Reason string `json:"reason" validate:"max=256"`
}

type VerifyRequest struct {
	Chain string `query:"chain" json:"chain" validate:"max=64"`
}
