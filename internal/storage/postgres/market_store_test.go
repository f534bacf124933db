//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/storage"
	"PortfolioAgents/internal/storage/postgres"
)

func TestMarketStore(t *testing.T) {
	ctx := context.Background()
	s := postgres.NewMarketStore(setupTestDB(t))

	_, err := s.LatestMacro(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	a, err := s.UpsertAsset(ctx, models.Asset{Ticker: "AAPL", Name: "Apple", Sector: "Tech"})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)

	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddPrices(ctx, "AAPL", []models.PricePoint{
		{Date: d.AddDate(0, 0, 1), Close: 101},
		{Date: d, Close: 100},
	}))
	require.NoError(t, s.AddPrices(ctx, "AAPL", []models.PricePoint{{Date: d, Close: 1}}))

	pts, err := s.PriceHistory(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101}, models.Closes(pts).Values())

	require.NoError(t, s.AddFundamental(ctx, models.Fundamental{Ticker: "AAPL", Date: d, ROE: 0.2, FCF: 1e9, DebtToEBITDA: 1.5}))
	f, err := s.LatestFundamental(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1.5, f.DebtToEBITDA)

	_, err = s.LatestFundamental(ctx, "MSFT")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.AddFundamental(ctx, models.Fundamental{Ticker: "MSFT", Date: d}), storage.ErrNotFound)

	require.NoError(t, s.AddMacro(ctx, models.MacroSnapshot{Date: d, Inflation: 2.5, InterestRate: 4, GDPGrowth: 2, Unemployment: 4}))
	m, err := s.LatestMacro(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.5, m.Inflation)

	assets, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "Tech", assets[0].Sector)
}
