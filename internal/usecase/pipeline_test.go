package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/ledger"
	"PortfolioAgents/internal/mode"
	"PortfolioAgents/internal/storage/memory"
)

type fakeAgents struct {
	mu     sync.Mutex
	calls  map[string][]string
	series map[string]models.Closes

	macro func() (models.AgentSignal, error)
	value func(ticker string) (models.AgentSignal, error)
	quant func(ticker string) (models.AgentSignal, error)
	risk  func() (models.AgentSignal, error)
}

func sig(agent string, s models.Signal, weight float64) models.AgentSignal {
	return models.AgentSignal{Agent: agent, Signal: s, Score: 0.1, Weight: weight, Details: map[string]interface{}{"k": "v"}}
}

// newFakeAgents answers with the weighted set BUY x1, BUY x1, HOLD x0.5, RISK_ON x0.5.
func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		calls:  map[string][]string{},
		series: map[string]models.Closes{},
		macro: func() (models.AgentSignal, error) { return sig(models.AgentMacro, models.SignalRiskOn, 0.5), nil },
		value: func(string) (models.AgentSignal, error) { return sig(models.AgentValue, models.SignalBuy, 1), nil },
		quant: func(string) (models.AgentSignal, error) { return sig(models.AgentQuant, models.SignalBuy, 1), nil },
		risk:  func() (models.AgentSignal, error) { return sig(models.AgentRisk, models.SignalHold, 0.5), nil },
	}
}

func (f *fakeAgents) record(agent, ticker string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[agent] = append(f.calls[agent], ticker)
}

func (f *fakeAgents) count(agent string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[agent])
}

func (f *fakeAgents) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += len(c)
	}
	return n
}

func (f *fakeAgents) Macro(_ context.Context, _ models.MacroSnapshot) (models.AgentSignal, string, error) {
	f.record(models.AgentMacro, models.MacroTicker)
	s, err := f.macro()
	return s, "Goldilocks", err
}

func (f *fakeAgents) MacroFallback() models.AgentSignal {
	return sig(models.AgentMacro, models.SignalNeutral, 0.5)
}

func (f *fakeAgents) Value(_ context.Context, ticker string, _ models.Fundamental, _ float64) (models.AgentSignal, error) {
	f.record(models.AgentValue, ticker)
	return f.value(ticker)
}

func (f *fakeAgents) Quant(_ context.Context, ticker string, closes models.Closes) (models.AgentSignal, error) {
	f.record(models.AgentQuant, ticker)
	f.mu.Lock()
	f.series[ticker] = closes
	f.mu.Unlock()
	return f.quant(ticker)
}

func (f *fakeAgents) Risk(_ context.Context, _ models.Closes) (models.AgentSignal, error) {
	f.record(models.AgentRisk, "")
	return f.risk()
}

type fakeSink struct {
	mu        sync.Mutex
	artifacts []models.RunArtifact
}

func (s *fakeSink) WriteArtifact(_ context.Context, a models.RunArtifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, a)
	return "mem://" + a.RunID + ".json", nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.DecisionEvent
}

func (p *fakePublisher) PublishDecision(_ context.Context, ev models.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fakeRuns struct {
	mu     sync.Mutex
	latest *models.Run
}

func (r *fakeRuns) SaveLatest(_ context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = run
	return nil
}

func (r *fakeRuns) Latest(_ context.Context) (*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, nil
}

type fakeLock struct {
	held     bool
	unlocked int
}

func (l *fakeLock) TryLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Unlock(_ context.Context, _ string) error {
	l.held = false
	l.unlocked++
	return nil
}

type fixture struct {
	market    *memory.MarketStore
	store     *memory.LedgerStore
	ledger    *ledger.Ledger
	agents    *fakeAgents
	gate      *mode.Gate
	sink      *fakeSink
	publisher *fakePublisher
	runs      *fakeRuns
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gate, err := mode.NewGate(mode.Normal)
	require.NoError(t, err)
	store := memory.NewLedgerStore()
	f := &fixture{
		market:    memory.NewMarketStore(),
		store:     store,
		ledger:    ledger.New(store),
		agents:    newFakeAgents(),
		gate:      gate,
		sink:      &fakeSink{},
		publisher: &fakePublisher{},
		runs:      &fakeRuns{},
	}
	require.NoError(t, f.market.AddMacro(context.Background(), models.MacroSnapshot{
		Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Inflation: 2.5, InterestRate: 4, GDPGrowth: 2, Unemployment: 4,
	}))
	return f
}

func (f *fixture) addAsset(t *testing.T, ticker string, prices int, fundamentals bool) {
	t.Helper()
	ctx := context.Background()
	_, err := f.market.UpsertAsset(ctx, models.Asset{Ticker: ticker, Name: ticker})
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]models.PricePoint, prices)
	for i := range points {
		points[i] = models.PricePoint{Date: start.AddDate(0, 0, i), Close: 100 + float64(i)}
	}
	require.NoError(t, f.market.AddPrices(ctx, ticker, points))
	if fundamentals {
		require.NoError(t, f.market.AddFundamental(ctx, models.Fundamental{Ticker: ticker, Date: start, ROE: 0.2, FCF: 1e9, DebtToEBITDA: 1.5}))
	}
}

func (f *fixture) pipeline(opts ...PipelineOption) *Pipeline {
	base := []PipelineOption{
		WithArtifactSink(f.sink),
		WithDecisionPublisher(f.publisher),
		WithRunStore(f.runs),
		WithPipelineConfig(PipelineConfig{Workers: 4, MinPriceHistory: 30}),
	}
	return NewPipeline(f.gate, f.market, f.agents, f.ledger, append(base, opts...)...)
}

func (f *fixture) chain(t *testing.T, key string) []models.LedgerEntry {
	t.Helper()
	entries, err := f.store.ListChain(context.Background(), key)
	require.NoError(t, err)
	return entries
}

func TestPipelineRunDecides(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	f.addAsset(t, "MSFT", 40, false)

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.State)
	assert.Equal(t, string(mode.Normal), run.Mode)
	require.Len(t, run.Results, 2)

	aapl := run.Results[0]
	assert.Equal(t, "AAPL", aapl.Ticker)
	assert.Equal(t, models.OutcomeDecided, aapl.Outcome)
	assert.Equal(t, "BUY", aapl.Decision)
	assert.Equal(t, 0.42, aapl.Confidence)
	assert.Equal(t, 0.42, aapl.RawScore)
	assert.Equal(t, 4, aapl.AgentCount)
	assert.NotEmpty(t, aapl.DecisionHash)

	msft := run.Results[1]
	assert.Equal(t, models.OutcomeDecided, msft.Outcome)
	assert.Equal(t, 3, msft.AgentCount)
	assert.Equal(t, 1, f.agents.count(models.AgentValue))

	assert.Len(t, f.chain(t, models.AgentMacro), 1)
	assert.Len(t, f.chain(t, models.AgentValue), 1)
	assert.Len(t, f.chain(t, models.AgentQuant), 2)
	assert.Len(t, f.chain(t, models.AgentRisk), 2)
	global := f.chain(t, models.GlobalChainKey)
	require.Len(t, global, 2)
	for _, e := range global {
		assert.Equal(t, run.ID, e.RunID)
	}

	checks, err := f.ledger.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ledger.AllValid(checks))

	require.Len(t, f.sink.artifacts, 1)
	assert.Equal(t, run.ID, f.sink.artifacts[0].RunID)
	assert.Len(t, f.sink.artifacts[0].Results, 2)
	assert.Len(t, f.publisher.events, 2)
	assert.Same(t, run, f.runs.latest)
	assert.Equal(t, models.SignalRiskOn, run.Macro.Signal)
}

func TestPipelineSkipsShortHistory(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "NEW", 29, true)
	f.addAsset(t, "OLD", 30, false)

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Results, 2)
	assert.Equal(t, models.OutcomeSkipped, run.Results[0].Outcome)
	assert.Contains(t, run.Results[0].Reason, "insufficient price history")
	assert.Equal(t, models.OutcomeDecided, run.Results[1].Outcome)

	for agent, tickers := range f.agents.calls {
		assert.NotContains(t, tickers, "NEW", agent)
	}
	for _, key := range []string{models.AgentValue, models.AgentQuant, models.AgentRisk, models.GlobalChainKey} {
		for _, e := range f.chain(t, key) {
			assert.NotEqual(t, "NEW", e.Ticker)
		}
	}
	assert.Equal(t, 1, run.Count(models.OutcomeSkipped))
	assert.Len(t, f.sink.artifacts[0].Results, 2)
}

func TestPipelineNoSignal(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	boom := errors.New("agent down")
	f.agents.macro = func() (models.AgentSignal, error) { return models.AgentSignal{}, boom }
	f.agents.value = func(string) (models.AgentSignal, error) { return models.AgentSignal{}, boom }
	f.agents.quant = func(string) (models.AgentSignal, error) { return models.AgentSignal{}, boom }
	f.agents.risk = func() (models.AgentSignal, error) { return models.AgentSignal{}, boom }

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Results, 1)

	res := run.Results[0]
	assert.Equal(t, models.OutcomeNoSignal, res.Outcome)
	assert.Equal(t, "NO_SIGNAL", res.Decision)
	assert.ElementsMatch(t, []string{models.AgentValue, models.AgentQuant, models.AgentRisk}, res.FailedAgents)
	assert.Empty(t, f.chain(t, models.GlobalChainKey))
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, "NO_SIGNAL", f.sink.artifacts[0].Results[0].Decision)
}

func TestPipelineMacroAloneDecides(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	boom := errors.New("agent down")
	f.agents.value = func(string) (models.AgentSignal, error) { return models.AgentSignal{}, boom }
	f.agents.quant = func(string) (models.AgentSignal, error) { return models.AgentSignal{}, boom }
	f.agents.risk = func() (models.AgentSignal, error) { return models.AgentSignal{}, boom }

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)

	res := run.Results[0]
	assert.Equal(t, models.OutcomeDecided, res.Outcome)
	assert.Equal(t, "BUY", res.Decision)
	assert.Equal(t, 0.5, res.RawScore)
	assert.Equal(t, 1, res.AgentCount)
	assert.Len(t, res.FailedAgents, 3)

	global := f.chain(t, models.GlobalChainKey)
	require.Len(t, global, 1)
	assert.Equal(t, "BUY", global[0].Signal)
}

func TestPipelineDegradesOnAgentFailure(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	f.agents.quant = func(string) (models.AgentSignal, error) { return models.AgentSignal{}, errors.New("timeout") }

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)

	res := run.Results[0]
	assert.Equal(t, models.OutcomeDecided, res.Outcome)
	assert.Equal(t, 3, res.AgentCount)
	assert.Equal(t, []string{models.AgentQuant}, res.FailedAgents)
	assert.Empty(t, f.chain(t, models.AgentQuant))
	assert.Len(t, f.chain(t, models.GlobalChainKey), 1)
}

func TestPipelineModeGate(t *testing.T) {
	t.Run("panic aborts without work", func(t *testing.T) {
		f := newFixture(t)
		f.addAsset(t, "AAPL", 40, true)
		_, err := f.gate.SetMode(mode.Panic)
		require.NoError(t, err)

		run, err := f.pipeline().Run(context.Background())
		require.ErrorIs(t, err, ErrModeDenied)
		assert.Equal(t, models.RunAborted, run.State)
		assert.Equal(t, string(mode.Panic), run.Mode)
		assert.Zero(t, f.agents.total())
		keys, err := f.store.ChainKeys(context.Background())
		require.NoError(t, err)
		assert.Empty(t, keys)
		assert.Empty(t, f.sink.artifacts)
		assert.Equal(t, models.RunAborted, f.runs.latest.State)
	})

	t.Run("fail safe executes", func(t *testing.T) {
		f := newFixture(t)
		f.addAsset(t, "AAPL", 40, true)
		_, err := f.gate.SetMode(mode.FailSafe)
		require.NoError(t, err)

		run, err := f.pipeline().Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.RunCompleted, run.State)
	})
}

func TestPipelineAbortsWithoutMacroData(t *testing.T) {
	f := newFixture(t)
	f.market = memory.NewMarketStore()
	f.addAsset(t, "AAPL", 40, true)

	run, err := f.pipeline().Run(context.Background())
	require.ErrorIs(t, err, ErrNoMacroContext)
	assert.Equal(t, models.RunAborted, run.State)
	assert.Zero(t, f.agents.total())
	assert.Empty(t, run.Results)
}

func TestPipelineMacroAgentFailure(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	f.agents.macro = func() (models.AgentSignal, error) { return models.AgentSignal{}, errors.New("503") }

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run.Macro)
	assert.True(t, run.Macro.Failed)
	assert.Equal(t, models.SignalNeutral, run.Macro.Signal)
	assert.Empty(t, f.chain(t, models.AgentMacro))

	// BUY x1, BUY x1, HOLD x0.5 and the NEUTRAL x0.5 fallback average to
	// 0.33, below the BUY the live RISK_ON run reaches.
	res := run.Results[0]
	assert.Equal(t, models.OutcomeDecided, res.Outcome)
	assert.Equal(t, 4, res.AgentCount)
	assert.Equal(t, 0.33, res.RawScore)
	assert.Equal(t, "HOLD", res.Decision)
	assert.Empty(t, res.FailedAgents)
}

func TestPipelineMacroFallbackWithoutAssetSignals(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, false)
	f.agents.macro = func() (models.AgentSignal, error) { return models.AgentSignal{}, errors.New("503") }
	f.agents.risk = func() (models.AgentSignal, error) { return models.AgentSignal{}, errors.New("503") }

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)

	// quant BUY x1 plus NEUTRAL x0.5 is 0.33.
	res := run.Results[0]
	assert.Equal(t, models.OutcomeDecided, res.Outcome)
	assert.Equal(t, 2, res.AgentCount)
	assert.Equal(t, 0.33, res.RawScore)
	assert.Equal(t, "HOLD", res.Decision)
}

func TestPipelineSendsDatedCloses(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 35, false)

	_, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)

	closes := f.agents.series["AAPL"]
	require.Len(t, closes, 35)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes[0].Date)
	assert.Equal(t, 134.0, closes.Last())
}

func TestPipelineRunLock(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	lock := &fakeLock{held: true}

	run, err := f.pipeline(WithRunLock(lock)).Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, models.RunAborted, run.State)
	assert.Zero(t, f.agents.total())

	lock.held = false
	_, err = f.pipeline(WithRunLock(lock)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, lock.held)
	assert.Equal(t, 1, lock.unlocked)
}

func TestPipelineRejectsOverlappingRun(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.agents.macro = func() (models.AgentSignal, error) {
		close(entered)
		<-release
		return sig(models.AgentMacro, models.SignalNeutral, 0.5), nil
	}
	p := f.pipeline()

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()
	<-entered
	assert.True(t, p.Running())

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, p.Running())
	assert.Equal(t, models.RunCompleted, f.runs.latest.State)
}

func TestPipelineCancelledBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "AAPL", 40, true)
	f.addAsset(t, "MSFT", 40, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := f.pipeline().Run(ctx)
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	require.Len(t, run.Results, 2)
	for _, r := range run.Results {
		assert.Equal(t, models.OutcomeSkipped, r.Outcome)
		assert.Equal(t, SkipReasonCancelled, r.Reason)
	}
	assert.Len(t, f.sink.artifacts, 1)
}

func TestPipelineCancelMidRun(t *testing.T) {
	f := newFixture(t)
	for _, tk := range []string{"A", "B", "C"} {
		f.addAsset(t, tk, 40, false)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	f.agents.quant = func(string) (models.AgentSignal, error) {
		once.Do(cancel)
		return sig(models.AgentQuant, models.SignalBuy, 1), nil
	}

	run, err := f.pipeline(WithPipelineConfig(PipelineConfig{Workers: 1})).Run(ctx)
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	assert.Equal(t, models.OutcomeDecided, run.Results[0].Outcome)
	assert.Equal(t, models.OutcomeSkipped, run.Results[2].Outcome)
	assert.Equal(t, SkipReasonCancelled, run.Results[2].Reason)

	checks, err := f.ledger.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ledger.AllValid(checks))
}

func TestPipelineConcurrentAssetsKeepChainsLinear(t *testing.T) {
	f := newFixture(t)
	const n = 24
	for i := 0; i < n; i++ {
		f.addAsset(t, fmt.Sprintf("T%02d", i), 35, i%2 == 0)
	}

	run, err := f.pipeline(WithPipelineConfig(PipelineConfig{Workers: 8})).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, run.Count(models.OutcomeDecided))

	assert.Len(t, f.chain(t, models.AgentQuant), n)
	assert.Len(t, f.chain(t, models.AgentRisk), n)
	assert.Len(t, f.chain(t, models.AgentValue), n/2)
	global := f.chain(t, models.GlobalChainKey)
	require.Len(t, global, n)

	seen := map[string]bool{}
	for _, e := range global {
		assert.False(t, seen[e.PreviousHash], "fork at %s", e.PreviousHash)
		seen[e.PreviousHash] = true
	}
	checks, err := f.ledger.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ledger.AllValid(checks))
}
