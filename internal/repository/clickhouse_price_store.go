package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
	pkgch "PortfolioAgents/pkg/clickhouse"
	applogger "PortfolioAgents/pkg/logger"
)

// CHPriceStore serves daily closes from the ClickHouse daily_prices table.
type CHPriceStore struct {
	db        *sql.DB
	table     string
	maxPoints int
	l         *applogger.Logger
}

var _ domrepo.PriceSource = (*CHPriceStore)(nil)

// NewCHPriceStore reads from table. maxPoints > 0 keeps only the most recent closes.
func NewCHPriceStore(client *pkgch.Client, table string, maxPoints int) *CHPriceStore {
	if table == "" {
		table = "daily_prices"
	}
	return &CHPriceStore{db: client.DB(), table: table, maxPoints: maxPoints, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHPriceStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// PriceHistory returns closes in ascending date order. ReplacingMergeTree may
// hold unmerged duplicates, so rows are collapsed with FINAL.
func (s *CHPriceStore) PriceHistory(ctx context.Context, ticker string) ([]models.PricePoint, error) {
	start := time.Now()
	var (
		rows *sql.Rows
		err  error
	)
	if s.maxPoints > 0 {
		q := fmt.Sprintf(`SELECT date, close FROM %s FINAL WHERE ticker = ? ORDER BY date DESC LIMIT ?`, s.table)
		rows, err = s.db.QueryContext(ctx, q, ticker, s.maxPoints)
	} else {
		q := fmt.Sprintf(`SELECT date, close FROM %s FINAL WHERE ticker = ? ORDER BY date ASC`, s.table)
		rows, err = s.db.QueryContext(ctx, q, ticker)
	}
	if err != nil {
		s.l.Error("clickhouse price_history query error",
			applogger.String("table", s.table),
			applogger.String("ticker", ticker),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("price history %s: %w", ticker, err)
	}
	defer rows.Close()

	out := make([]models.PricePoint, 0, 256)
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.maxPoints > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	s.l.Debug("clickhouse price_history ok",
		applogger.String("ticker", ticker),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// AddPrices batch-inserts closes. Date collisions are collapsed by the table engine.
func (s *CHPriceStore) AddPrices(ctx context.Context, ticker string, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (ticker, date, close)", s.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, ticker, p.Date, p.Close); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append price: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
