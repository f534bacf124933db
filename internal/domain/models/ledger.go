package models

import (
	"encoding/json"
	"strings"
	"time"
)

// GlobalChainKey is the chain holding final decisions. No agent uses this name.
const GlobalChainKey = "final_decision"

// GenesisHash is the previous hash of the first entry in every chain.
var GenesisHash = strings.Repeat("0", 64)

// LedgerPayload is the hashed content of an entry.
type LedgerPayload struct {
	Ticker  string
	Signal  string
	Score   float64
	Details map[string]interface{}
}

// LedgerEntry is an immutable record on one chain.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	ChainKey     string          `json:"chain_key"`
	Ticker       string          `json:"ticker"`
	Signal       string          `json:"signal"`
	Score        float64         `json:"score"`
	Details      json.RawMessage `json:"details"`
	Hash         string          `json:"hash"`
	PreviousHash string          `json:"previous_hash"`
	RunID        string          `json:"run_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BreakReason tells why verification stopped.
type BreakReason string

const (
	BreakBrokenLink   BreakReason = "broken_link"
	BreakHashMismatch BreakReason = "hash_mismatch"
)

// ChainVerification is the verdict for one chain.
type ChainVerification struct {
	ChainKey      string      `json:"chain_key"`
	Valid         bool        `json:"valid"`
	Entries       int         `json:"entries"`
	FirstBrokenID int64       `json:"first_broken_id,omitempty"`
	Reason        BreakReason `json:"reason,omitempty"`
	Expected      string      `json:"expected,omitempty"`
	Actual        string      `json:"actual,omitempty"`
	TailHash      string      `json:"tail_hash,omitempty"`
}
