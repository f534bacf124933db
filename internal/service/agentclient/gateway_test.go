package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgents/internal/domain/models"
)

// fakeCaller answers with a canned JSON body per agent.
type fakeCaller struct {
	bodies   map[string]string
	err      error
	requests map[string]interface{}
}

func (f *fakeCaller) Call(_ context.Context, agent, _ string, payload, dest interface{}, _ time.Duration) error {
	if f.requests == nil {
		f.requests = map[string]interface{}{}
	}
	f.requests[agent] = payload
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.bodies[agent]), dest)
}

func TestRiskSignal(t *testing.T) {
	assert.Equal(t, models.SignalSell, RiskSignal(0.2))
	assert.Equal(t, models.SignalHold, RiskSignal(0.5))
	assert.Equal(t, models.SignalHold, RiskSignal(0.89))
	assert.Equal(t, models.SignalBuy, RiskSignal(0.9))
	assert.Equal(t, models.SignalBuy, RiskSignal(1))
}

// wireKeys decodes a request payload as it goes on the wire.
func wireKeys(t *testing.T, payload interface{}) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func series(n int) models.Closes {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(models.Closes, n)
	for i := range out {
		out[i] = models.PricePoint{Date: start.AddDate(0, 0, i), Close: 100 + float64(i)}
	}
	return out
}

func TestGatewayValueRequest(t *testing.T) {
	fc := &fakeCaller{bodies: map[string]string{
		models.AgentValue: `{"ticker":"AAPL","signal":"STRONG_BUY","intrinsic_value":210,"margin_of_safety":1.7,"details":{"pe":12}}`,
	}}
	g := NewGateway(fc, GatewayConfig{})

	s, err := g.Value(context.Background(), "AAPL", models.Fundamental{ROE: 0.3, FCF: 5e9, DebtToEBITDA: 2}, 150)
	require.NoError(t, err)
	assert.Equal(t, models.SignalStrongBuy, s.Signal)
	assert.Equal(t, 1.0, s.Score)
	assert.Equal(t, 1.0, s.Weight)

	body := wireKeys(t, fc.requests[models.AgentValue])
	assert.ElementsMatch(t, []string{"ticker", "roe", "fcf", "debt", "ebitda", "current_price", "shares_outstanding"}, keys(body))
	assert.Equal(t, "AAPL", body["ticker"])
	assert.Equal(t, 5e8, body["ebitda"])
	assert.Equal(t, 1e9, body["debt"])
	assert.Equal(t, 1e8, body["shares_outstanding"])
	assert.Equal(t, 150.0, body["current_price"])
}

func TestGatewayValueZeroLeverage(t *testing.T) {
	fc := &fakeCaller{bodies: map[string]string{models.AgentValue: `{"signal":"HOLD"}`}}
	g := NewGateway(fc, GatewayConfig{})
	_, err := g.Value(context.Background(), "AAPL", models.Fundamental{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fc.requests[models.AgentValue].(models.ValueRequest).EBITDA)
}

func TestGatewayQuantSendsDatedPrices(t *testing.T) {
	fc := &fakeCaller{bodies: map[string]string{
		models.AgentQuant: `{"ticker":"AAPL","momentum_score":0.3,"volatility":0.2,"signal":"BUY","details":{"sma_50":101.5}}`,
	}}
	g := NewGateway(fc, GatewayConfig{})

	s, err := g.Quant(context.Background(), "AAPL", series(30))
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, s.Signal)
	assert.Equal(t, 0.3, s.Score)
	assert.Equal(t, 0.2, s.Details["volatility"])
	assert.Equal(t, 101.5, s.Details["sma_50"])

	body := wireKeys(t, fc.requests[models.AgentQuant])
	assert.ElementsMatch(t, []string{"ticker", "prices"}, keys(body))
	prices := body["prices"].([]interface{})
	require.Len(t, prices, 30)
	first := prices[0].(map[string]interface{})
	assert.ElementsMatch(t, []string{"date", "price"}, keys(first))
	assert.Equal(t, "2024-01-01T00:00:00Z", first["date"])
	assert.Equal(t, 100.0, first["price"])
}

func TestGatewayRiskAndMacro(t *testing.T) {
	fc := &fakeCaller{bodies: map[string]string{
		models.AgentRisk:  `{"max_drawdown":-0.3,"volatility":0.31,"risk_adjusted_exposure":0.4,"details":{"volatility_breach":true}}`,
		models.AgentMacro: `{"regime":"Stagflation","signal":"RISK_OFF","details":{"inflation_tolerance_exceeded":true}}`,
	}}
	g := NewGateway(fc, GatewayConfig{Weights: Weights{Macro: 0.25, Value: 1, Quant: 1, Risk: 2}})

	r, err := g.Risk(context.Background(), series(30))
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, r.Signal)
	assert.Equal(t, 2.0, r.Weight)
	assert.Equal(t, true, r.Details["volatility_breach"])

	body := wireKeys(t, fc.requests[models.AgentRisk])
	assert.ElementsMatch(t, []string{"prices", "target_volatility"}, keys(body))
	assert.Equal(t, 0.15, body["target_volatility"])

	m, regime, err := g.Macro(context.Background(), models.MacroSnapshot{Inflation: 0.06, Unemployment: 0.05})
	require.NoError(t, err)
	assert.Equal(t, "Stagflation", regime)
	assert.Equal(t, models.SignalRiskOff, m.Signal)
	assert.Equal(t, 0.25, m.Weight)
	assert.Zero(t, m.Score)
	assert.Equal(t, true, m.Details["inflation_tolerance_exceeded"])

	body = wireKeys(t, fc.requests[models.AgentMacro])
	assert.ElementsMatch(t, []string{"inflation_rate", "interest_rate", "gdp_growth", "unemployment_rate", "liquidity_index"}, keys(body))
	assert.Equal(t, 0.06, body["inflation_rate"])
	assert.Equal(t, 0.05, body["unemployment_rate"])
	assert.Equal(t, 0.10, body["liquidity_index"])
}

func TestGatewayMacroFallback(t *testing.T) {
	g := NewGateway(&fakeCaller{}, GatewayConfig{Weights: Weights{Macro: 0.25, Value: 1, Quant: 1, Risk: 2}})
	s := g.MacroFallback()
	assert.Equal(t, models.AgentMacro, s.Agent)
	assert.Equal(t, models.SignalNeutral, s.Signal)
	assert.Equal(t, 0.25, s.Weight)

	assert.Equal(t, 0.5, NewGateway(&fakeCaller{}, GatewayConfig{}).MacroFallback().Weight)
}

func TestGatewayPropagatesFailures(t *testing.T) {
	boom := &Failure{Kind: Rejected, Agent: models.AgentQuant, Err: errors.New("bad")}
	g := NewGateway(&fakeCaller{err: boom}, GatewayConfig{})
	_, err := g.Quant(context.Background(), "AAPL", series(30))
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, Rejected, f.Kind)
}
