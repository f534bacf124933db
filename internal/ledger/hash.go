package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"PortfolioAgents/internal/domain/models"
)

// CanonicalDetails encodes details as compact JSON with sorted keys.
// A nil map encodes as {}.
func CanonicalDetails(details map[string]interface{}) (json.RawMessage, error) {
	if details == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return b, nil
}

// CanonicalString encodes the hashed payload fields in fixed order. Each
// field is prefixed with its byte length so no field content can shift a
// boundary.
func CanonicalString(e *models.LedgerEntry) string {
	details := string(e.Details)
	if details == "" {
		details = "{}"
	}
	fields := []string{
		e.ChainKey,
		e.Ticker,
		e.Signal,
		strconv.FormatFloat(e.Score, 'f', -1, 64),
		details,
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}

// ComputeHash returns hex(SHA256(previous_hash || canonical payload)).
func ComputeHash(e *models.LedgerEntry) string {
	sum := sha256.Sum256([]byte(e.PreviousHash + CanonicalString(e)))
	return hex.EncodeToString(sum[:])
}
