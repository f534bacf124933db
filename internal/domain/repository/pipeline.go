package repository

import (
	"context"
	"time"

	"PortfolioAgents/internal/domain/models"
)

// PriceSource serves daily close history from an analytical store.
type PriceSource interface {
	PriceHistory(ctx context.Context, ticker string) ([]models.PricePoint, error)
}

// RunLock guards the single-writer run model across processes.
type RunLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RunStore keeps the summary of the latest run for the admin API.
type RunStore interface {
	SaveLatest(ctx context.Context, run *models.Run) error
	Latest(ctx context.Context) (*models.Run, error)
}
