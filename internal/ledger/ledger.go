// Package ledger appends agent outputs and final decisions to hash chains.
//
// Each chain key owns its own lock and cached tail hash, so appends to
// different chains run in parallel while appends to one chain are strictly
// ordered. The store additionally refuses entries that do not extend the
// current tail, which keeps a chain linear when several processes share it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/domain/service"
	"PortfolioAgents/internal/storage"
)

// Option configures Ledger.
type Option func(*Ledger)

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMetrics records appends per chain.
func WithMetrics(m repository.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

type chain struct {
	mu     sync.Mutex
	tail   string
	loaded bool
}

// Ledger is the only writer of ledger entries.
type Ledger struct {
	store   repository.LedgerStore
	metrics repository.Metrics
	now     func() time.Time

	mu     sync.Mutex
	chains map[string]*chain
}

var _ service.LedgerAppender = (*Ledger)(nil)

// New creates a ledger over store.
func New(store repository.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    time.Now,
		chains: make(map[string]*chain),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) chain(key string) *chain {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[key]
	if !ok {
		c = &chain{}
		l.chains[key] = c
	}
	return c
}

// Append links payload to the tail of chainKey and stores it.
func (l *Ledger) Append(ctx context.Context, chainKey string, payload models.LedgerPayload, runID string) (models.LedgerEntry, error) {
	if chainKey == "" {
		return models.LedgerEntry{}, fmt.Errorf("%w: empty chain key", storage.ErrInvalidInput)
	}
	details, err := CanonicalDetails(payload.Details)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	c := l.chain(chainKey)
	c.mu.Lock()
	defer c.mu.Unlock()

	// One reload on conflict covers a tail moved by another process.
	for attempt := 0; ; attempt++ {
		if !c.loaded {
			tail, err := l.store.Tail(ctx, chainKey)
			if err != nil {
				return models.LedgerEntry{}, fmt.Errorf("read tail of %s: %w", chainKey, err)
			}
			c.tail, c.loaded = tail, true
		}

		entry := models.LedgerEntry{
			ChainKey:     chainKey,
			Ticker:       payload.Ticker,
			Signal:       payload.Signal,
			Score:        payload.Score,
			Details:      details,
			PreviousHash: c.tail,
			RunID:        runID,
			CreatedAt:    l.now().UTC(),
		}
		entry.Hash = ComputeHash(&entry)

		err := l.store.Insert(ctx, &entry)
		if err == nil {
			c.tail = entry.Hash
			if l.metrics != nil {
				l.metrics.RecordLedgerAppend(chainKey)
			}
			return entry, nil
		}
		c.loaded = false
		if !errors.Is(err, storage.ErrChainConflict) || attempt > 0 {
			return models.LedgerEntry{}, fmt.Errorf("append to %s: %w", chainKey, err)
		}
	}
}

// VerifyChain recomputes every hash of chainKey.
func (l *Ledger) VerifyChain(ctx context.Context, chainKey string) (models.ChainVerification, error) {
	entries, err := l.store.ListChain(ctx, chainKey)
	if err != nil {
		return models.ChainVerification{}, fmt.Errorf("list %s: %w", chainKey, err)
	}
	return VerifyEntries(chainKey, entries), nil
}

// VerifyAll verifies every chain in the store, ordered by key.
func (l *Ledger) VerifyAll(ctx context.Context) ([]models.ChainVerification, error) {
	keys, err := l.store.ChainKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	sort.Strings(keys)

	out := make([]models.ChainVerification, 0, len(keys))
	for _, key := range keys {
		v, err := l.VerifyChain(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ChainKeys lists the chains present in the store.
func (l *Ledger) ChainKeys(ctx context.Context) ([]string, error) {
	keys, err := l.store.ChainKeys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
