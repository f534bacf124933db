package agentclient

import (
	"context"
	"fmt"
	"math"
	"time"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/domain/service"
)

// Caller is the transport used by Gateway.
type Caller interface {
	Call(ctx context.Context, agent, endpoint string, payload, dest interface{}, timeout time.Duration) error
}

// Endpoints are the full URLs of the agent analyze routes.
type Endpoints struct {
	Macro string
	Value string
	Quant string
	Risk  string
}

// Weights are the consensus weights attached to each agent's signal.
type Weights struct {
	Macro float64
	Value float64
	Quant float64
	Risk  float64
}

// DefaultWeights favour the risk agent and discount macro context.
var DefaultWeights = Weights{Macro: 0.5, Value: 1.0, Quant: 1.0, Risk: 1.5}

// GatewayConfig holds per-agent request parameters.
type GatewayConfig struct {
	Endpoints         Endpoints
	Weights           Weights
	Timeout           time.Duration
	TargetVolatility  float64
	LiquidityIndex    float64
	NotionalDebt      float64
	SharesOutstanding float64
}

// Risk exposure bands.
const (
	RiskSellBelow = 0.5
	RiskBuyFrom   = 0.9
)

// Gateway maps domain inputs to agent requests and agent responses to signals.
type Gateway struct {
	caller Caller
	cfg    GatewayConfig
}

var _ service.AgentGateway = (*Gateway)(nil)

// NewGateway fills unset parameters with defaults.
func NewGateway(caller Caller, cfg GatewayConfig) *Gateway {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TargetVolatility <= 0 {
		cfg.TargetVolatility = 0.15
	}
	if cfg.LiquidityIndex <= 0 {
		cfg.LiquidityIndex = 0.10
	}
	if cfg.NotionalDebt <= 0 {
		cfg.NotionalDebt = 1e9
	}
	if cfg.SharesOutstanding <= 0 {
		cfg.SharesOutstanding = 1e8
	}
	return &Gateway{caller: caller, cfg: cfg}
}

// Macro scores the run's macro snapshot. The agent reports no magnitude, so
// the ledger score is zero and the signal alone carries the opinion.
func (g *Gateway) Macro(ctx context.Context, m models.MacroSnapshot) (models.AgentSignal, string, error) {
	var resp models.MacroResponse
	req := models.MacroRequest{
		InflationRate:    m.Inflation,
		InterestRate:     m.InterestRate,
		GDPGrowth:        m.GDPGrowth,
		UnemploymentRate: m.Unemployment,
		LiquidityIndex:   g.cfg.LiquidityIndex,
	}
	if err := g.caller.Call(ctx, models.AgentMacro, g.cfg.Endpoints.Macro, req, &resp, g.cfg.Timeout); err != nil {
		return models.AgentSignal{}, "", err
	}
	details := map[string]interface{}{
		"regime":            resp.Regime,
		"inflation_rate":    m.Inflation,
		"interest_rate":     m.InterestRate,
		"gdp_growth":        m.GDPGrowth,
		"unemployment_rate": m.Unemployment,
		"liquidity_index":   g.cfg.LiquidityIndex,
	}
	for k, v := range resp.Details {
		details[k] = v
	}
	return models.AgentSignal{
		Agent:   models.AgentMacro,
		Signal:  models.Signal(resp.Signal),
		Weight:  g.cfg.Weights.Macro,
		Details: details,
	}, resp.Regime, nil
}

// MacroFallback is the NEUTRAL macro opinion used when the macro agent cannot
// be reached.
func (g *Gateway) MacroFallback() models.AgentSignal {
	return models.AgentSignal{
		Agent:   models.AgentMacro,
		Signal:  models.SignalNeutral,
		Weight:  g.cfg.Weights.Macro,
		Details: map[string]interface{}{"fallback": true},
	}
}

func (g *Gateway) Value(ctx context.Context, ticker string, f models.Fundamental, lastPrice float64) (models.AgentSignal, error) {
	ebitda := 1.0
	if f.DebtToEBITDA != 0 {
		ebitda = g.cfg.NotionalDebt / f.DebtToEBITDA
	}
	req := models.ValueRequest{
		Ticker:            ticker,
		ROE:               f.ROE,
		FCF:               f.FCF,
		Debt:              g.cfg.NotionalDebt,
		EBITDA:            ebitda,
		CurrentPrice:      lastPrice,
		SharesOutstanding: g.cfg.SharesOutstanding,
	}

	var resp models.ValueResponse
	if err := g.caller.Call(ctx, models.AgentValue, g.cfg.Endpoints.Value, req, &resp, g.cfg.Timeout); err != nil {
		return models.AgentSignal{}, err
	}
	return models.AgentSignal{
		Agent:  models.AgentValue,
		Signal: models.Signal(resp.Signal),
		Score:  clamp(resp.MarginOfSafety),
		Weight: g.cfg.Weights.Value,
		Details: map[string]interface{}{
			"intrinsic_value":  resp.IntrinsicValue,
			"margin_of_safety": resp.MarginOfSafety,
			"current_price":    lastPrice,
			"debt_to_ebitda":   f.DebtToEBITDA,
		},
	}, nil
}

func (g *Gateway) Quant(ctx context.Context, ticker string, closes models.Closes) (models.AgentSignal, error) {
	var resp models.QuantResponse
	req := models.QuantRequest{Ticker: ticker, Prices: closes.Wire()}
	if err := g.caller.Call(ctx, models.AgentQuant, g.cfg.Endpoints.Quant, req, &resp, g.cfg.Timeout); err != nil {
		return models.AgentSignal{}, err
	}
	details := map[string]interface{}{
		"momentum_score": resp.MomentumScore,
		"volatility":     resp.Volatility,
	}
	for k, v := range resp.Details {
		details[k] = v
	}
	return models.AgentSignal{
		Agent:   models.AgentQuant,
		Signal:  models.Signal(resp.Signal),
		Score:   clamp(resp.MomentumScore),
		Weight:  g.cfg.Weights.Quant,
		Details: details,
	}, nil
}

func (g *Gateway) Risk(ctx context.Context, closes models.Closes) (models.AgentSignal, error) {
	var resp models.RiskResponse
	req := models.RiskRequest{
		Prices:           closes.Wire(),
		TargetVolatility: g.cfg.TargetVolatility,
	}
	if err := g.caller.Call(ctx, models.AgentRisk, g.cfg.Endpoints.Risk, req, &resp, g.cfg.Timeout); err != nil {
		return models.AgentSignal{}, err
	}
	details := map[string]interface{}{
		"risk_adjusted_exposure": resp.RiskAdjustedExposure,
		"max_drawdown":           resp.MaxDrawdown,
		"volatility":             resp.Volatility,
	}
	for k, v := range resp.Details {
		details[k] = v
	}
	return models.AgentSignal{
		Agent:   models.AgentRisk,
		Signal:  RiskSignal(resp.RiskAdjustedExposure),
		Score:   clamp(resp.RiskAdjustedExposure),
		Weight:  g.cfg.Weights.Risk,
		Details: details,
	}, nil
}

// RiskSignal maps a risk-adjusted exposure to a signal.
func RiskSignal(exposure float64) models.Signal {
	switch {
	case exposure < RiskSellBelow:
		return models.SignalSell
	case exposure >= RiskBuyFrom:
		return models.SignalBuy
	default:
		return models.SignalHold
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// String describes the endpoints for startup logs.
func (e Endpoints) String() string {
	return fmt.Sprintf("macro=%s value=%s quant=%s risk=%s", e.Macro, e.Value, e.Quant, e.Risk)
}
