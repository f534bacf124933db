package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/storage"
)

// LedgerStore keeps all chains in ledger_entries. Details are stored as TEXT
// so the hashed bytes come back unchanged.
type LedgerStore struct {
	pool *Pool
}

var _ repository.LedgerStore = (*LedgerStore)(nil)

func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tail(ctx context.Context, q querier, chainKey string) (string, error) {
	var hash string
	err := q.QueryRow(ctx,
		`SELECT hash FROM ledger_entries WHERE chain_key = $1 ORDER BY id DESC LIMIT 1`,
		chainKey,
	).Scan(&hash)
	if err != nil {
		if isNotFoundError(err) {
			return models.GenesisHash, nil
		}
		return "", fmt.Errorf("query tail: %w", err)
	}
	return hash, nil
}

func (s *LedgerStore) Tail(ctx context.Context, chainKey string) (string, error) {
	return tail(ctx, s.pool, chainKey)
}

// Insert appends entry under a transaction-scoped advisory lock on the chain
// key, checking that PreviousHash is still the tail.
func (s *LedgerStore) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	if entry == nil || entry.ChainKey == "" || entry.Hash == "" {
		return fmt.Errorf("%w: incomplete ledger entry", storage.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.ChainKey); err != nil {
		return fmt.Errorf("lock chain %s: %w", entry.ChainKey, err)
	}

	current, err := tail(ctx, tx, entry.ChainKey)
	if err != nil {
		return err
	}
	if current != entry.PreviousHash {
		return storage.ErrChainConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (
			chain_key, ticker, signal, score, details, hash, previous_hash, run_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		entry.ChainKey,
		entry.Ticker,
		entry.Signal,
		entry.Score,
		string(entry.Details),
		entry.Hash,
		entry.PreviousHash,
		entry.RunID,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrChainConflict
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *LedgerStore) ListChain(ctx context.Context, chainKey string) ([]models.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chain_key, ticker, signal, score, details, hash, previous_hash, run_id, created_at
		FROM ledger_entries
		WHERE chain_key = $1
		ORDER BY id ASC
	`, chainKey)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var (
			e       models.LedgerEntry
			details string
		)
		if err := rows.Scan(&e.ID, &e.ChainKey, &e.Ticker, &e.Signal, &e.Score, &details,
			&e.Hash, &e.PreviousHash, &e.RunID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Details = []byte(details)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) ChainKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT chain_key FROM ledger_entries ORDER BY chain_key`)
	if err != nil {
		return nil, fmt.Errorf("query chain keys: %w", err)
	}
	defer rows.Close()

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect chain keys: %w", err)
	}
	return keys, nil
}
