package usecase

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/pkg/logger"
	"PortfolioAgents/pkg/util"

	"github.com/shopspring/decimal"
)

// DefaultUniverse is the demo asset list.
var DefaultUniverse = []models.Asset{
	{Ticker: "AAPL", Name: "Apple Inc.", Sector: "Technology"},
	{Ticker: "MSFT", Name: "Microsoft Corp.", Sector: "Technology"},
	{Ticker: "GOOGL", Name: "Alphabet Inc.", Sector: "Technology"},
	{Ticker: "JPM", Name: "JPMorgan Chase", Sector: "Finance"},
	{Ticker: "XOM", Name: "Exxon Mobil", Sector: "Energy"},
	{Ticker: "TSLA", Name: "Tesla Inc.", Sector: "Consumer Cyclical"},
	{Ticker: "JNJ", Name: "Johnson & Johnson", Sector: "Healthcare"},
	{Ticker: "V", Name: "Visa Inc.", Sector: "Finance"},
	{Ticker: "WMT", Name: "Walmart Inc.", Sector: "Consumer Defensive"},
	{Ticker: "PG", Name: "Procter & Gamble", Sector: "Consumer Defensive"},
}

// SeedOption configures Seeder.
type SeedOption func(*Seeder)

// WithSeedDays sets the length of each price history.
func WithSeedDays(n int) SeedOption {
	return func(s *Seeder) {
		if n > 0 {
			s.days = n
		}
	}
}

// WithSeedUniverse replaces the asset list.
func WithSeedUniverse(assets []models.Asset) SeedOption {
	return func(s *Seeder) { s.assets = assets }
}

// WithRandSeed makes the generated data reproducible.
func WithRandSeed(seed uint64) SeedOption {
	return func(s *Seeder) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithSeedClock(now func() time.Time) SeedOption {
	return func(s *Seeder) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSeedLogger(l *logger.Logger) SeedOption {
	return func(s *Seeder) {
		if l != nil {
			s.logger = l
		}
	}
}

// Seeder writes a synthetic universe: a random-walk close series per asset,
// one fundamental snapshot each and one macro snapshot.
type Seeder struct {
	market     domrepo.MarketWriter
	assets     []models.Asset
	days       int
	startPrice float64
	rng        *rand.Rand
	now        func() time.Time
	logger     *logger.Logger
}

func NewSeeder(market domrepo.MarketWriter, opts ...SeedOption) *Seeder {
	s := &Seeder{
		market:     market,
		assets:     DefaultUniverse,
		days:       200,
		startPrice: 150,
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:        time.Now,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedSummary counts what was written.
type SeedSummary struct {
	Assets       int `json:"assets"`
	Prices       int `json:"prices"`
	Fundamentals int `json:"fundamentals"`
}

// Seed writes the universe. Existing prices on the same dates are kept.
func (s *Seeder) Seed(ctx context.Context) (SeedSummary, error) {
	var sum SeedSummary
	today := util.Day(s.now())
	days := util.BusinessDays(today, s.days)

	for _, a := range s.assets {
		if _, err := s.market.UpsertAsset(ctx, a); err != nil {
			return sum, fmt.Errorf("seed asset %s: %w", a.Ticker, err)
		}
		sum.Assets++

		points := s.walk(days)
		if err := s.market.AddPrices(ctx, a.Ticker, points); err != nil {
			return sum, fmt.Errorf("seed prices %s: %w", a.Ticker, err)
		}
		sum.Prices += len(points)

		f := models.Fundamental{
			Ticker:       a.Ticker,
			Date:         today,
			ROE:          round(s.uniform(0.10, 0.35), 4),
			FCF:          round(s.uniform(1e9, 5e9), 0),
			DebtToEBITDA: round(s.uniform(0.5, 4.0), 2),
		}
		if err := s.market.AddFundamental(ctx, f); err != nil {
			return sum, fmt.Errorf("seed fundamentals %s: %w", a.Ticker, err)
		}
		sum.Fundamentals++
		s.logger.Debug("seeded asset", logger.String("ticker", a.Ticker), logger.Int("prices", len(points)))
	}

	macro := models.MacroSnapshot{
		Date:         today,
		Inflation:    0.035,
		InterestRate: 0.0525,
		GDPGrowth:    0.021,
		Unemployment: 0.039,
	}
	if err := s.market.AddMacro(ctx, macro); err != nil {
		return sum, fmt.Errorf("seed macro: %w", err)
	}

	s.logger.Info("market data seeded",
		logger.Int("assets", sum.Assets),
		logger.Int("prices", sum.Prices),
		logger.Int("fundamentals", sum.Fundamentals),
	)
	return sum, nil
}

// walk moves the price by a uniform ±2% step per day.
func (s *Seeder) walk(days []time.Time) []models.PricePoint {
	price := s.startPrice
	points := make([]models.PricePoint, len(days))
	for i, d := range days {
		price *= 1 + s.uniform(-0.02, 0.02)
		points[i] = models.PricePoint{Date: d, Close: round(price, 2)}
	}
	return points
}

func (s *Seeder) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
