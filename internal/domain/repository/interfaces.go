package repository

import (
	"context"

	"PortfolioAgents/internal/domain/models"
)

// MarketData is the read-only data provider of the pipeline.
type MarketData interface {
	ListAssets(ctx context.Context) ([]models.Asset, error)
	// PriceHistory returns daily closes in ascending date order.
	PriceHistory(ctx context.Context, ticker string) ([]models.PricePoint, error)
	// LatestFundamental returns storage.ErrNotFound when the asset has none.
	LatestFundamental(ctx context.Context, ticker string) (*models.Fundamental, error)
	// LatestMacro returns storage.ErrNotFound when no snapshot exists.
	LatestMacro(ctx context.Context) (*models.MacroSnapshot, error)
}

// LedgerStore persists chain entries. Insert must reject an entry whose
// PreviousHash is not the current tail of its chain.
type LedgerStore interface {
	Tail(ctx context.Context, chainKey string) (string, error)
	Insert(ctx context.Context, entry *models.LedgerEntry) error
	ListChain(ctx context.Context, chainKey string) ([]models.LedgerEntry, error)
	ChainKeys(ctx context.Context) ([]string, error)
}

// ArtifactSink stores the export document of a completed run.
type ArtifactSink interface {
	WriteArtifact(ctx context.Context, artifact models.RunArtifact) (string, error)
}

// DecisionPublisher fans final decisions out to subscribers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, event models.DecisionEvent) error
}

type Metrics interface {
	RecordAgentCall(agent, result string, seconds float64)
	RecordRetry(agent string)
	RecordDecision(outcome, decision string)
	RecordLedgerAppend(chain string)
	RecordRun(state string, seconds float64)
	RecordError(kind string)
}

// MarketWriter loads market data. Used by the seeder.
type MarketWriter interface {
	UpsertAsset(ctx context.Context, asset models.Asset) (models.Asset, error)
	// AddPrices inserts closes, keeping existing rows on date collisions.
	AddPrices(ctx context.Context, ticker string, points []models.PricePoint) error
	AddFundamental(ctx context.Context, f models.Fundamental) error
	AddMacro(ctx context.Context, m models.MacroSnapshot) error
}
