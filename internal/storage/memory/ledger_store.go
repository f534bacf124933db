// Package memory provides in-process stores used by tests and the demo mode.
package memory

import (
	"context"
	"fmt"
	"sync"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/storage"
)

// LedgerStore keeps chains in memory. Insert is a compare-and-append on the tail.
type LedgerStore struct {
	mu     sync.RWMutex
	nextID int64
	chains map[string][]models.LedgerEntry
}

var _ repository.LedgerStore = (*LedgerStore)(nil)

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{chains: make(map[string][]models.LedgerEntry)}
}

func (s *LedgerStore) Tail(_ context.Context, chainKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tailLocked(chainKey), nil
}

func (s *LedgerStore) tailLocked(chainKey string) string {
	entries := s.chains[chainKey]
	if len(entries) == 0 {
		return models.GenesisHash
	}
	return entries[len(entries)-1].Hash
}

func (s *LedgerStore) Insert(_ context.Context, entry *models.LedgerEntry) error {
	if entry == nil || entry.ChainKey == "" || entry.Hash == "" {
		return fmt.Errorf("%w: incomplete ledger entry", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tail := s.tailLocked(entry.ChainKey); entry.PreviousHash != tail {
		return storage.ErrChainConflict
	}

	s.nextID++
	entry.ID = s.nextID
	stored := *entry
	stored.Details = append([]byte(nil), entry.Details...)
	s.chains[entry.ChainKey] = append(s.chains[entry.ChainKey], stored)
	return nil
}

func (s *LedgerStore) ListChain(_ context.Context, chainKey string) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.chains[chainKey]
	out := make([]models.LedgerEntry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Details = append([]byte(nil), e.Details...)
	}
	return out, nil
}

func (s *LedgerStore) ChainKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.chains))
	for k := range s.chains {
		keys = append(keys, k)
	}
	return keys, nil
}
