package service

import (
	"context"

	"PortfolioAgents/internal/domain/models"
)

// AgentGateway calls the scoring agents. Every method returns either a
// signal or a failure; a failure never carries a partial signal.
type AgentGateway interface {
	Macro(ctx context.Context, snapshot models.MacroSnapshot) (models.AgentSignal, string, error)
	// MacroFallback stands in for a failed macro call.
	MacroFallback() models.AgentSignal
	Value(ctx context.Context, ticker string, fundamental models.Fundamental, lastPrice float64) (models.AgentSignal, error)
	Quant(ctx context.Context, ticker string, closes models.Closes) (models.AgentSignal, error)
	Risk(ctx context.Context, closes models.Closes) (models.AgentSignal, error)
}

// ModeGate is the go/no-go switch consulted once per run.
type ModeGate interface {
	CurrentMode() string
	IsSafeToExecute() bool
}

// LedgerAppender appends payloads to hash chains.
type LedgerAppender interface {
	Append(ctx context.Context, chainKey string, payload models.LedgerPayload, runID string) (models.LedgerEntry, error)
}
