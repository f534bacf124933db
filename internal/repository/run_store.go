package repository

import (
	"context"
	"errors"
	"time"

	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/storage"
	"PortfolioAgents/pkg/cache"
)

const latestRunKey = "runs:latest"

// CacheRunStore keeps the latest run summary in the cache.
type CacheRunStore struct {
	cache cache.Service
	ttl   time.Duration
}

var _ domrepo.RunStore = (*CacheRunStore)(nil)

// NewCacheRunStore stores the summary for ttl. Zero keeps it forever.
func NewCacheRunStore(c cache.Service, ttl time.Duration) *CacheRunStore {
	return &CacheRunStore{cache: c, ttl: ttl}
}

func (s *CacheRunStore) SaveLatest(ctx context.Context, run *models.Run) error {
	return s.cache.Set(ctx, latestRunKey, run, s.ttl)
}

// Latest returns storage.ErrNotFound before the first run.
func (s *CacheRunStore) Latest(ctx context.Context) (*models.Run, error) {
	var run models.Run
	if err := s.cache.Get(ctx, latestRunKey, &run); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}
