package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/ledger"
	"PortfolioAgents/internal/mode"
	"PortfolioAgents/internal/service/ratelimit"
	"PortfolioAgents/internal/storage"
	"PortfolioAgents/internal/storage/memory"
	"PortfolioAgents/internal/usecase"
	xhttp "PortfolioAgents/pkg/http"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiKey = "0123456789abcdef0123456789abcdef"

type fakeRuns struct {
	running  bool
	err      error
	triggers int
}

func (f *fakeRuns) Trigger(string) error {
	if f.err != nil {
		return f.err
	}
	f.triggers++
	return nil
}

func (f *fakeRuns) Running() bool { return f.running }

type fakeLatest struct{ run *models.Run }

func (f *fakeLatest) SaveLatest(_ context.Context, run *models.Run) error {
	f.run = run
	return nil
}

func (f *fakeLatest) Latest(context.Context) (*models.Run, error) {
	if f.run == nil {
		return nil, storage.ErrNotFound
	}
	return f.run, nil
}

type brokenLedger struct{ LedgerReader }

func (brokenLedger) VerifyAll(context.Context) ([]models.ChainVerification, error) {
	return []models.ChainVerification{
		{ChainKey: models.AgentQuant, Valid: true, Entries: 3},
		{ChainKey: models.GlobalChainKey, Valid: false, Entries: 3, FirstBrokenID: 2, Reason: models.BreakHashMismatch},
	}, nil
}

type env struct {
	e      *echo.Echo
	gate   *mode.Gate
	runs   *fakeRuns
	latest *fakeLatest
	store  *memory.LedgerStore
	ledger *ledger.Ledger
}

func newEnv(t *testing.T, mutate ...func(*AdminDeps)) *env {
	t.Helper()
	gate, err := mode.NewGate(mode.Normal)
	require.NoError(t, err)
	store := memory.NewLedgerStore()
	v := &env{
		e:      echo.New(),
		gate:   gate,
		runs:   &fakeRuns{},
		latest: &fakeLatest{},
		store:  store,
		ledger: ledger.New(store),
	}
	deps := AdminDeps{
		Modes:   gate,
		Runs:    v.runs,
		Latest:  v.latest,
		Ledger:  v.ledger,
		Entries: store,
		APIKey:  apiKey,
	}
	for _, m := range mutate {
		m(&deps)
	}
	v.e.HTTPErrorHandler = xhttp.ErrorHandler
	NewAdminEchoHandler(nil, deps).RegisterRoutes(v.e)
	return v
}

func (v *env) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("X-API-KEY", apiKey)
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	return rec
}

func data(t *testing.T, rec *httptest.ResponseRecorder) interface{} {
	t.Helper()
	var body xhttp.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func (v *env) appendN(t *testing.T, chain string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := v.ledger.Append(context.Background(), chain, models.LedgerPayload{
			Ticker: fmt.Sprintf("T%d", i), Signal: "BUY", Score: 0.5, Details: map[string]interface{}{"i": i},
		}, "run-1")
		require.NoError(t, err)
	}
}

func TestHealthNeedsNoKey(t *testing.T) {
	v := newEnv(t)
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NORMAL", data(t, rec).(map[string]interface{})["mode"])
}

func TestAPIRequiresKey(t *testing.T) {
	v := newEnv(t)
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mode", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetMode(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodPut, "/api/mode", `{"mode":"PANIC","reason":"drill"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mode.Panic, v.gate.Current())
	assert.Equal(t, "NORMAL", data(t, rec).(map[string]interface{})["previous"])

	rec = v.do(http.MethodGet, "/api/mode", "")
	got := data(t, rec).(map[string]interface{})
	assert.Equal(t, "PANIC", got["mode"])
	assert.Equal(t, false, got["safe_to_execute"])

	rec = v.do(http.MethodPut, "/api/mode", `{"mode":"CALM"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, mode.Panic, v.gate.Current())
}

func TestTriggerRun(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, v.runs.triggers)

	v.runs.err = usecase.ErrRunInProgress
	rec = v.do(http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerRunDeniedInPanic(t *testing.T) {
	v := newEnv(t)
	_, err := v.gate.SetMode(mode.Panic)
	require.NoError(t, err)

	rec := v.do(http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, v.runs.triggers)
}

func TestLatestRun(t *testing.T) {
	v := newEnv(t)
	assert.Equal(t, http.StatusNotFound, v.do(http.MethodGet, "/api/runs/latest", "").Code)

	v.latest.run = &models.Run{ID: "20240102_030405-abcdef01", State: models.RunCompleted, StartedAt: time.Now()}
	rec := v.do(http.MethodGet, "/api/runs/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20240102_030405-abcdef01", data(t, rec).(map[string]interface{})["run_id"])
}

func TestChainsAndVerify(t *testing.T) {
	v := newEnv(t)
	v.appendN(t, models.AgentQuant, 3)
	v.appendN(t, models.GlobalChainKey, 2)

	rec := v.do(http.MethodGet, "/api/ledger/chains", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := data(t, rec).(map[string]interface{})
	assert.EqualValues(t, 2, list["total"])

	rec = v.do(http.MethodGet, "/api/ledger/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := data(t, rec).(map[string]interface{})
	assert.Equal(t, true, res["valid"])
	assert.Len(t, res["chains"], 2)

	rec = v.do(http.MethodGet, "/api/ledger/verify?chain="+models.AgentQuant, "")
	res = data(t, rec).(map[string]interface{})
	chains := res["chains"].([]interface{})
	require.Len(t, chains, 1)
	assert.EqualValues(t, 3, chains[0].(map[string]interface{})["entries"])
}

func TestVerifyReportsBrokenChain(t *testing.T) {
	v := newEnv(t, func(d *AdminDeps) { d.Ledger = brokenLedger{d.Ledger} })

	rec := v.do(http.MethodGet, "/api/ledger/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := data(t, rec).(map[string]interface{})
	assert.Equal(t, false, res["valid"])
}

func TestEntriesLimit(t *testing.T) {
	v := newEnv(t)
	v.appendN(t, models.AgentRisk, 5)

	rec := v.do(http.MethodGet, "/api/ledger/entries?chain="+models.AgentRisk+"&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := data(t, rec).(map[string]interface{})
	assert.EqualValues(t, 5, list["total"])
	rows := list["rows"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "T4", rows[1].(map[string]interface{})["ticker"])

	assert.Equal(t, http.StatusBadRequest, v.do(http.MethodGet, "/api/ledger/entries", "").Code)
}

func TestRateLimitedAPI(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := ratelimit.New(2, time.Minute, ratelimit.WithClock(func() time.Time { return now }))
	v := newEnv(t, func(d *AdminDeps) { d.Limiter = limiter })

	assert.Equal(t, http.StatusOK, v.do(http.MethodGet, "/api/mode", "").Code)
	assert.Equal(t, http.StatusOK, v.do(http.MethodGet, "/api/mode", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, v.do(http.MethodGet, "/api/mode", "").Code)
}
