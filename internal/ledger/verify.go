package ledger

import (
	"PortfolioAgents/internal/domain/models"
)

// VerifyEntries walks entries in creation order and reports the first
// entry whose link or hash does not hold.
func VerifyEntries(chainKey string, entries []models.LedgerEntry) models.ChainVerification {
	res := models.ChainVerification{
		ChainKey: chainKey,
		Valid:    true,
		Entries:  len(entries),
	}

	prev := models.GenesisHash
	for i := range entries {
		e := &entries[i]
		if e.PreviousHash != prev {
			res.Valid = false
			res.FirstBrokenID = e.ID
			res.Reason = models.BreakBrokenLink
			res.Expected = prev
			res.Actual = e.PreviousHash
			return res
		}
		if want := ComputeHash(e); want != e.Hash {
			res.Valid = false
			res.FirstBrokenID = e.ID
			res.Reason = models.BreakHashMismatch
			res.Expected = want
			res.Actual = e.Hash
			return res
		}
		prev = e.Hash
	}
	res.TailHash = prev
	return res
}

// AllValid reports whether every verification passed.
func AllValid(results []models.ChainVerification) bool {
	for _, r := range results {
		if !r.Valid {
			return false
		}
	}
	return true
}
