package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/storage"
)

// MarketStore is an in-memory data provider.
type MarketStore struct {
	mu           sync.RWMutex
	assets       []models.Asset
	prices       map[string][]models.PricePoint
	fundamentals map[string]models.Fundamental
	macro        *models.MacroSnapshot
}

var (
	_ repository.MarketData   = (*MarketStore)(nil)
	_ repository.MarketWriter = (*MarketStore)(nil)
)

func NewMarketStore() *MarketStore {
	return &MarketStore{
		prices:       make(map[string][]models.PricePoint),
		fundamentals: make(map[string]models.Fundamental),
	}
}

func (s *MarketStore) UpsertAsset(_ context.Context, a models.Asset) (models.Asset, error) {
	if a.Ticker == "" {
		return models.Asset{}, fmt.Errorf("%w: empty ticker", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assets {
		if s.assets[i].Ticker == a.Ticker {
			a.ID = s.assets[i].ID
			s.assets[i] = a
			return a, nil
		}
	}
	a.ID = int64(len(s.assets) + 1)
	s.assets = append(s.assets, a)
	return a, nil
}

func (s *MarketStore) AddPrices(_ context.Context, ticker string, points []models.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.prices[ticker]))
	merged := append([]models.PricePoint(nil), s.prices[ticker]...)
	for _, p := range merged {
		seen[p.Date.Format("2006-01-02")] = true
	}
	for _, p := range points {
		day := p.Date.Format("2006-01-02")
		if seen[day] {
			continue
		}
		seen[day] = true
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })
	s.prices[ticker] = merged
	return nil
}

// AddFundamental keeps the snapshot if it is the newest for its ticker.
func (s *MarketStore) AddFundamental(_ context.Context, f models.Fundamental) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.fundamentals[f.Ticker]; ok && cur.Date.After(f.Date) {
		return nil
	}
	s.fundamentals[f.Ticker] = f
	return nil
}

// AddMacro keeps the snapshot if it is the newest.
func (s *MarketStore) AddMacro(_ context.Context, m models.MacroSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.macro != nil && s.macro.Date.After(m.Date) {
		return nil
	}
	s.macro = &m
	return nil
}

func (s *MarketStore) ListAssets(_ context.Context) ([]models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Asset(nil), s.assets...), nil
}

func (s *MarketStore) PriceHistory(_ context.Context, ticker string) ([]models.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PricePoint(nil), s.prices[ticker]...), nil
}

func (s *MarketStore) LatestFundamental(_ context.Context, ticker string) (*models.Fundamental, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fundamentals[ticker]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &f, nil
}

func (s *MarketStore) LatestMacro(_ context.Context) (*models.MacroSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.macro == nil {
		return nil, storage.ErrNotFound
	}
	m := *s.macro
	return &m, nil
}
