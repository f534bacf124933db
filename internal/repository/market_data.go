package repository

import (
	"context"

	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
)

// MarketData reads price history from a dedicated source and everything
// else from the relational store.
type MarketData struct {
	domrepo.MarketData
	prices domrepo.PriceSource
}

var _ domrepo.MarketData = (*MarketData)(nil)

func NewMarketData(base domrepo.MarketData, prices domrepo.PriceSource) *MarketData {
	return &MarketData{MarketData: base, prices: prices}
}

func (m *MarketData) PriceHistory(ctx context.Context, ticker string) ([]models.PricePoint, error) {
	return m.prices.PriceHistory(ctx, ticker)
}

// PriceWriter loads closes into the price source.
type PriceWriter interface {
	AddPrices(ctx context.Context, ticker string, points []models.PricePoint) error
}

// MarketWriter writes prices to both stores so either can serve reads.
type MarketWriter struct {
	domrepo.MarketWriter
	prices PriceWriter
}

var _ domrepo.MarketWriter = (*MarketWriter)(nil)

func NewMarketWriter(base domrepo.MarketWriter, prices PriceWriter) *MarketWriter {
	return &MarketWriter{MarketWriter: base, prices: prices}
}

func (m *MarketWriter) AddPrices(ctx context.Context, ticker string, points []models.PricePoint) error {
	if err := m.MarketWriter.AddPrices(ctx, ticker, points); err != nil {
		return err
	}
	return m.prices.AddPrices(ctx, ticker, points)
}
