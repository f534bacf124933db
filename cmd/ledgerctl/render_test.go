package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"PortfolioAgents/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderVerificationTable(t *testing.T) {
	var buf bytes.Buffer
	err := renderVerification(&buf, []models.ChainVerification{
		{ChainKey: "quant_agent", Valid: true, Entries: 3, TailHash: "abcdef0123456789"},
		{ChainKey: "final_decision", Valid: false, Entries: 4, FirstBrokenID: 7, Reason: models.BreakHashMismatch},
	}, false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "quant_agent")
	assert.Contains(t, out, "abcdef012345")
	assert.NotContains(t, out, "abcdef0123456789")
	assert.Contains(t, out, "BROKEN")
	assert.Contains(t, out, "entry 7: hash_mismatch")
}

func TestRenderVerificationJSON(t *testing.T) {
	var buf bytes.Buffer
	err := renderVerification(&buf, []models.ChainVerification{
		{ChainKey: "risk_agent", Valid: false, Entries: 2, FirstBrokenID: 2, Reason: models.BreakBrokenLink},
	}, true)
	require.NoError(t, err)

	var got struct {
		Valid  bool                       `json:"valid"`
		Chains []models.ChainVerification `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.False(t, got.Valid)
	require.Len(t, got.Chains, 1)
	assert.Equal(t, int64(2), got.Chains[0].FirstBrokenID)
}

func TestRenderVerificationEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderVerification(&buf, nil, false))
	assert.Equal(t, "no chains recorded\n", buf.String())
}

func TestRenderRun(t *testing.T) {
	run := &models.Run{
		ID:    "20240614_120000-deadbeef",
		State: models.RunCompleted,
		Mode:  "NORMAL",
		Results: []models.AssetResult{
			{Ticker: "AAPL", Outcome: models.OutcomeDecided, Decision: "BUY", Confidence: 0.42, AgentCount: 4},
			{Ticker: "TSLA", Outcome: models.OutcomeNoSignal, Decision: "NO_SIGNAL"},
			{Ticker: "XOM", Outcome: models.OutcomeSkipped, Reason: "insufficient price history"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderRun(&buf, run, false))
	out := buf.String()
	assert.Contains(t, out, "run 20240614_120000-deadbeef  state=COMPLETED  mode=NORMAL")
	assert.Contains(t, out, "0.42")
	assert.Contains(t, out, "insufficient price history")
	assert.Contains(t, out, "decided=1 no_signal=1 skipped=1")
}

func TestRenderRunAborted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderRun(&buf, &models.Run{ID: "r", State: models.RunAborted, Mode: "PANIC", AbortReason: "mode denied"}, false))
	assert.Contains(t, buf.String(), "aborted: mode denied")
	assert.NotContains(t, buf.String(), "TICKER")
}
