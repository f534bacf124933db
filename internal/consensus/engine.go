// Package consensus reduces weighted agent signals to one decision.
package consensus

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"PortfolioAgents/internal/domain/models"
)

var ErrNoSignals = errors.New("consensus: no signals to aggregate")

// Classification thresholds, evaluated in declaration order by classify.
const (
	BuyThreshold        = 0.4
	StrongBuyThreshold  = 0.7
	SellThreshold       = -0.4
	StrongSellThreshold = -0.7
)

// Result is the aggregated opinion for one ticker.
type Result struct {
	Ticker     string
	Signal     models.Signal
	Confidence float64
	RawScore   float64
	AgentCount int
}

// Aggregate computes the weighted average score of signals and classifies it.
// It holds no state and is safe for concurrent use.
func Aggregate(ticker string, signals []models.AgentSignal) (Result, error) {
	if len(signals) == 0 {
		return Result{}, fmt.Errorf("%w for %s", ErrNoSignals, ticker)
	}

	var weighted, total float64
	for _, s := range signals {
		score, ok := s.Signal.Score()
		if !ok {
			return Result{}, fmt.Errorf("consensus: agent %s sent unknown signal %q", s.Agent, s.Signal)
		}
		if !(s.Weight > 0) || math.IsInf(s.Weight, 0) {
			return Result{}, fmt.Errorf("consensus: agent %s has non-positive weight %v", s.Agent, s.Weight)
		}
		weighted += score * s.Weight
		total += s.Weight
	}

	raw := weighted / total
	rounded := round2(raw)

	return Result{
		Ticker:     ticker,
		Signal:     classify(raw),
		Confidence: round2(math.Abs(rounded)),
		RawScore:   rounded,
		AgentCount: len(signals),
	}, nil
}

// classify takes the first matching branch. A score above 0.7 already
// satisfies the BUY branch, so STRONG_BUY and STRONG_SELL are never produced.
func classify(raw float64) models.Signal {
	switch {
	case raw > BuyThreshold:
		return models.SignalBuy
	case raw > StrongBuyThreshold:
		return models.SignalStrongBuy
	case raw < SellThreshold:
		return models.SignalSell
	case raw < StrongSellThreshold:
		return models.SignalStrongSell
	default:
		return models.SignalHold
	}
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
