package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/storage"
)

// MarketStore reads and seeds assets, prices, fundamentals and macro data.
type MarketStore struct {
	pool *Pool
}

var (
	_ repository.MarketData   = (*MarketStore)(nil)
	_ repository.MarketWriter = (*MarketStore)(nil)
)

func NewMarketStore(pool *Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

func (s *MarketStore) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, ticker, name, sector FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.Ticker, &a.Name, &a.Sector); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *MarketStore) PriceHistory(ctx context.Context, ticker string) ([]models.PricePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.date, p.close
		FROM prices p
		JOIN assets a ON a.id = p.asset_id
		WHERE a.ticker = $1
		ORDER BY p.date ASC
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *MarketStore) LatestFundamental(ctx context.Context, ticker string) (*models.Fundamental, error) {
	f := models.Fundamental{Ticker: ticker}
	err := s.pool.QueryRow(ctx, `
		SELECT f.date, f.roe, f.fcf, f.debt_to_ebitda
		FROM fundamentals f
		JOIN assets a ON a.id = f.asset_id
		WHERE a.ticker = $1
		ORDER BY f.date DESC
		LIMIT 1
	`, ticker).Scan(&f.Date, &f.ROE, &f.FCF, &f.DebtToEBITDA)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query fundamental: %w", err)
	}
	return &f, nil
}

func (s *MarketStore) LatestMacro(ctx context.Context) (*models.MacroSnapshot, error) {
	var m models.MacroSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT date, inflation, interest_rate, gdp_growth, unemployment
		FROM macro_data
		ORDER BY date DESC
		LIMIT 1
	`).Scan(&m.Date, &m.Inflation, &m.InterestRate, &m.GDPGrowth, &m.Unemployment)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query macro: %w", err)
	}
	return &m, nil
}

func (s *MarketStore) UpsertAsset(ctx context.Context, a models.Asset) (models.Asset, error) {
	if a.Ticker == "" {
		return models.Asset{}, fmt.Errorf("%w: empty ticker", storage.ErrInvalidInput)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO assets (ticker, name, sector) VALUES ($1, $2, $3)
		ON CONFLICT (ticker) DO UPDATE SET name = EXCLUDED.name, sector = EXCLUDED.sector
		RETURNING id
	`, a.Ticker, a.Name, a.Sector).Scan(&a.ID)
	if err != nil {
		return models.Asset{}, fmt.Errorf("upsert asset: %w", err)
	}
	return a, nil
}

func (s *MarketStore) AddPrices(ctx context.Context, ticker string, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var assetID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM assets WHERE ticker = $1`, ticker).Scan(&assetID); err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("asset %s: %w", ticker, storage.ErrNotFound)
		}
		return fmt.Errorf("query asset: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO prices (asset_id, date, close) VALUES ($1, $2, $3)
			ON CONFLICT (asset_id, date) DO NOTHING
		`, assetID, p.Date, p.Close)
	}
	br := tx.SendBatch(ctx, batch)
	for range points {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert price: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *MarketStore) AddFundamental(ctx context.Context, f models.Fundamental) error {
	var assetID int64
	if err := s.pool.QueryRow(ctx, `SELECT id FROM assets WHERE ticker = $1`, f.Ticker).Scan(&assetID); err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("asset %s: %w", f.Ticker, storage.ErrNotFound)
		}
		return fmt.Errorf("query asset: %w", err)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO fundamentals (asset_id, date, roe, fcf, debt_to_ebitda)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id, date) DO UPDATE
		SET roe = EXCLUDED.roe, fcf = EXCLUDED.fcf, debt_to_ebitda = EXCLUDED.debt_to_ebitda
	`, assetID, f.Date, f.ROE, f.FCF, f.DebtToEBITDA)
	if err != nil {
		return fmt.Errorf("insert fundamental: %w", err)
	}
	return nil
}

func (s *MarketStore) AddMacro(ctx context.Context, m models.MacroSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO macro_data (date, inflation, interest_rate, gdp_growth, unemployment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE
		SET inflation = EXCLUDED.inflation, interest_rate = EXCLUDED.interest_rate,
		    gdp_growth = EXCLUDED.gdp_growth, unemployment = EXCLUDED.unemployment
	`, m.Date, m.Inflation, m.InterestRate, m.GDPGrowth, m.Unemployment)
	if err != nil {
		return fmt.Errorf("insert macro: %w", err)
	}
	return nil
}
