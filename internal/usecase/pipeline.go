package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"PortfolioAgents/internal/consensus"
	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/domain/service"
	"PortfolioAgents/internal/storage"
	"PortfolioAgents/pkg/logger"
	"PortfolioAgents/pkg/util"
)

var (
	ErrModeDenied     = errors.New("pipeline: execution denied by system mode")
	ErrNoMacroContext = errors.New("pipeline: no macro context available")
	ErrRunInProgress  = errors.New("pipeline: another run is in progress")
)

// SkipReasonCancelled marks assets never dispatched because the run was cancelled.
const SkipReasonCancelled = "cancelled"

// PipelineConfig bounds a run.
type PipelineConfig struct {
	Workers         int
	MinPriceHistory int
	RunTimeout      time.Duration
	LockKey         string
	LockTTL         time.Duration
}

// DefaultPipelineConfig returns the production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:         4,
		MinPriceHistory: 30,
		RunTimeout:      10 * time.Minute,
		LockKey:         "pipeline:run",
		LockTTL:         15 * time.Minute,
	}
}

// PipelineOption configures Pipeline.
type PipelineOption func(*Pipeline)

func WithPipelineConfig(cfg PipelineConfig) PipelineOption {
	return func(p *Pipeline) {
		def := DefaultPipelineConfig()
		if cfg.Workers <= 0 {
			cfg.Workers = def.Workers
		}
		if cfg.MinPriceHistory <= 0 {
			cfg.MinPriceHistory = def.MinPriceHistory
		}
		if cfg.LockKey == "" {
			cfg.LockKey = def.LockKey
		}
		if cfg.LockTTL <= 0 {
			cfg.LockTTL = def.LockTTL
		}
		p.cfg = cfg
	}
}

func WithArtifactSink(s domrepo.ArtifactSink) PipelineOption {
	return func(p *Pipeline) { p.sink = s }
}

func WithDecisionPublisher(pub domrepo.DecisionPublisher) PipelineOption {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithRunStore(s domrepo.RunStore) PipelineOption {
	return func(p *Pipeline) { p.runs = s }
}

// WithRunLock enables the cross-process single-run lock.
func WithRunLock(l domrepo.RunLock) PipelineOption {
	return func(p *Pipeline) { p.lock = l }
}

func WithPipelineMetrics(m domrepo.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func WithRunIDFunc(f func(time.Time) string) PipelineOption {
	return func(p *Pipeline) {
		if f != nil {
			p.newRunID = f
		}
	}
}

// Pipeline runs the agents over every asset and records the outcome.
type Pipeline struct {
	gate   service.ModeGate
	market domrepo.MarketData
	agents service.AgentGateway
	ledger service.LedgerAppender

	sink      domrepo.ArtifactSink
	publisher domrepo.DecisionPublisher
	runs      domrepo.RunStore
	lock      domrepo.RunLock
	metrics   domrepo.Metrics
	logger    *logger.Logger
	now       func() time.Time
	newRunID  func(time.Time) string
	cfg       PipelineConfig

	running atomic.Bool
}

func NewPipeline(gate service.ModeGate, market domrepo.MarketData, agents service.AgentGateway, ledger service.LedgerAppender, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gate:     gate,
		market:   market,
		agents:   agents,
		ledger:   ledger,
		logger:   logger.Nop(),
		now:      time.Now,
		newRunID: util.NewRunID,
		cfg:      DefaultPipelineConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Running reports whether this process is executing a run.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Run executes one pipeline run. The returned run is never nil. A non-nil
// error means the run was aborted before processing assets.
func (p *Pipeline) Run(ctx context.Context) (*models.Run, error) {
	started := p.now().UTC()
	run := &models.Run{
		ID:        p.newRunID(started),
		StartedAt: started,
		State:     models.RunNotStarted,
		Results:   []models.AssetResult{},
	}
	log := p.logger.With(logger.String("run_id", run.ID))

	if !p.running.CompareAndSwap(false, true) {
		return p.abort(ctx, log, run, ErrRunInProgress, false)
	}
	defer p.running.Store(false)

	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	p.transition(log, run, models.RunCheckingMode)
	run.Mode = p.gate.CurrentMode()
	if !p.gate.IsSafeToExecute() {
		return p.abort(ctx, log, run, ErrModeDenied, true)
	}

	if p.lock != nil {
		ok, err := p.lock.TryLock(ctx, p.cfg.LockKey, p.cfg.LockTTL)
		if err != nil {
			return p.abort(ctx, log, run, fmt.Errorf("acquire run lock: %w", err), true)
		}
		if !ok {
			return p.abort(ctx, log, run, ErrRunInProgress, true)
		}
		defer func() {
			if err := p.lock.Unlock(context.WithoutCancel(ctx), p.cfg.LockKey); err != nil {
				log.Warn("release run lock failed", logger.Error(err))
			}
		}()
	}

	p.transition(log, run, models.RunFetchingMacroContext)
	snapshot, err := p.market.LatestMacro(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return p.abort(ctx, log, run, ErrNoMacroContext, true)
		}
		return p.abort(ctx, log, run, fmt.Errorf("%w: %v", ErrNoMacroContext, err), true)
	}
	macro := p.macroSignal(ctx, log, run, *snapshot)

	assets, err := p.market.ListAssets(ctx)
	if err != nil {
		return p.abort(ctx, log, run, fmt.Errorf("list assets: %w", err), true)
	}

	p.transition(log, run, models.RunProcessingAssets)
	run.Results = p.processAssets(ctx, log, run, assets, macro)

	p.transition(log, run, models.RunCompleted)
	run.FinishedAt = p.now().UTC()
	p.finish(ctx, log, run)

	log.Info("run completed",
		logger.Int("assets", len(run.Results)),
		logger.Int("decided", run.Count(models.OutcomeDecided)),
		logger.Int("no_signal", run.Count(models.OutcomeNoSignal)),
		logger.Int("skipped", run.Count(models.OutcomeSkipped)),
		logger.Bool("cancelled", run.Cancelled),
		logger.Duration("duration_ms", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (p *Pipeline) transition(log *logger.Logger, run *models.Run, to models.RunState) {
	log.Debug("run state", logger.String("from", string(run.State)), logger.String("to", string(to)))
	run.State = to
}

// abort closes the run as ABORTED. persist is false when another run owns
// the latest-run slot.
func (p *Pipeline) abort(ctx context.Context, log *logger.Logger, run *models.Run, cause error, persist bool) (*models.Run, error) {
	run.State = models.RunAborted
	run.AbortReason = cause.Error()
	run.FinishedAt = p.now().UTC()
	log.Warn("run aborted", logger.String("mode", run.Mode), logger.Error(cause))
	if p.metrics != nil {
		p.metrics.RecordRun(string(run.State), run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	if persist {
		p.saveLatest(ctx, log, run)
	}
	return run, cause
}

func (p *Pipeline) finish(ctx context.Context, log *logger.Logger, run *models.Run) {
	// Export and bookkeeping run even when the run deadline has passed.
	ctx = context.WithoutCancel(ctx)
	if p.sink != nil {
		location, err := p.sink.WriteArtifact(ctx, run.Artifact())
		if err != nil {
			log.Error("write run artifact failed", logger.Error(err))
			p.recordError("artifact")
		} else {
			log.Info("run artifact written", logger.String("location", location))
		}
	}
	if p.metrics != nil {
		p.metrics.RecordRun(string(run.State), run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	p.saveLatest(ctx, log, run)
}

func (p *Pipeline) saveLatest(ctx context.Context, log *logger.Logger, run *models.Run) {
	if p.runs == nil {
		return
	}
	if err := p.runs.SaveLatest(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("save latest run failed", logger.Error(err))
	}
}

// macroOpinion is the macro signal shared by every asset of a run. live is
// false when the agent failed and the NEUTRAL fallback stands in.
type macroOpinion struct {
	signal models.AgentSignal
	live   bool
}

// macroSignal calls the macro agent once for the run. A failed call is
// replaced by a NEUTRAL signal at the macro weight.
func (p *Pipeline) macroSignal(ctx context.Context, log *logger.Logger, run *models.Run, snapshot models.MacroSnapshot) macroOpinion {
	fallback := func() macroOpinion {
		sig := p.agents.MacroFallback()
		run.Macro = &models.MacroOutcome{Signal: sig.Signal, Failed: true}
		return macroOpinion{signal: sig}
	}

	sig, regime, err := p.agents.Macro(ctx, snapshot)
	if err != nil {
		log.Warn("macro agent failed, using NEUTRAL macro signal",
			logger.String("agent", models.AgentMacro), logger.Error(err))
		p.recordError("agent")
		return fallback()
	}
	payload := models.LedgerPayload{
		Ticker:  models.MacroTicker,
		Signal:  string(sig.Signal),
		Score:   sig.Score,
		Details: sig.Details,
	}
	if _, err := p.ledger.Append(ctx, models.AgentMacro, payload, run.ID); err != nil {
		log.Error("ledger append failed for macro signal", logger.Error(err))
		p.recordError("ledger")
		return fallback()
	}
	run.Macro = &models.MacroOutcome{Signal: sig.Signal, Regime: regime}
	log.Info("macro context", logger.String("signal", string(sig.Signal)), logger.String("regime", regime))
	return macroOpinion{signal: sig, live: true}
}

// processAssets fans assets out to a bounded worker pool. Once ctx is done no
// new asset is dispatched; dispatched assets finish on a detached context.
func (p *Pipeline) processAssets(ctx context.Context, log *logger.Logger, run *models.Run, assets []models.Asset, macro macroOpinion) []models.AssetResult {
	results := make([]models.AssetResult, len(assets))
	jobs := make(chan int)
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	workers := min(p.cfg.Workers, len(assets))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.processAsset(work, log, run.ID, assets[i], macro)
			}
		}()
	}

	next := 0
dispatch:
	for ; next < len(assets); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	if next < len(assets) {
		run.Cancelled = true
		log.Warn("run cancelled, remaining assets not dispatched",
			logger.Int("remaining", len(assets)-next), logger.Error(ctx.Err()))
		for i := next; i < len(assets); i++ {
			results[i] = models.AssetResult{
				Ticker:   assets[i].Ticker,
				Outcome:  models.OutcomeSkipped,
				Decision: string(models.OutcomeSkipped),
				Reason:   SkipReasonCancelled,
			}
			p.recordDecision(results[i])
		}
	}
	return results
}

type agentOutcome struct {
	agent  string
	signal models.AgentSignal
	err    error
}

func (p *Pipeline) processAsset(ctx context.Context, log *logger.Logger, runID string, asset models.Asset, macro macroOpinion) models.AssetResult {
	log = log.With(logger.String("ticker", asset.Ticker))
	res := models.AssetResult{Ticker: asset.Ticker}

	history, err := p.market.PriceHistory(ctx, asset.Ticker)
	if err != nil {
		log.Warn("price history unavailable, skipping asset", logger.Error(err))
		return p.skip(res, fmt.Sprintf("price history unavailable: %v", err))
	}
	if len(history) < p.cfg.MinPriceHistory {
		log.Info("insufficient price history, skipping asset",
			logger.Int("observations", len(history)), logger.Int("required", p.cfg.MinPriceHistory))
		return p.skip(res, fmt.Sprintf("insufficient price history: %d < %d", len(history), p.cfg.MinPriceHistory))
	}
	closes := models.Closes(history)
	lastPrice := closes.Last()

	fundamental, err := p.market.LatestFundamental(ctx, asset.Ticker)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn("fundamentals unavailable", logger.Error(err))
		}
		fundamental = nil
	}

	outcomes := p.callAgents(ctx, log, runID, asset.Ticker, closes, lastPrice, fundamental)

	var signals []models.AgentSignal
	for _, o := range outcomes {
		if o.err != nil {
			res.FailedAgents = append(res.FailedAgents, o.agent)
			continue
		}
		signals = append(signals, o.signal)
	}
	// A live macro signal decides an asset on its own; the fallback only
	// dilutes signals that exist.
	if len(signals) == 0 && !macro.live {
		log.Warn("no agent signals, recording NO_SIGNAL", logger.Strings("failed_agents", res.FailedAgents))
		res.Outcome = models.OutcomeNoSignal
		res.Decision = string(models.OutcomeNoSignal)
		res.Reason = "no agent signals"
		p.recordDecision(res)
		return res
	}
	signals = append(signals, macro.signal)

	decision, err := consensus.Aggregate(asset.Ticker, signals)
	if err != nil {
		log.Error("consensus failed", logger.Error(err))
		res.Outcome = models.OutcomeNoSignal
		res.Decision = string(models.OutcomeNoSignal)
		res.Reason = err.Error()
		p.recordDecision(res)
		return res
	}

	res.Outcome = models.OutcomeDecided
	res.Decision = string(decision.Signal)
	res.Confidence = decision.Confidence
	res.RawScore = decision.RawScore
	res.AgentCount = decision.AgentCount

	agents := make([]string, 0, len(signals))
	for _, s := range signals {
		agents = append(agents, s.Agent)
	}
	entry, err := p.ledger.Append(ctx, models.GlobalChainKey, models.LedgerPayload{
		Ticker: asset.Ticker,
		Signal: res.Decision,
		Score:  res.Confidence,
		Details: map[string]interface{}{
			"raw_score":     res.RawScore,
			"agent_count":   res.AgentCount,
			"agents":        agents,
			"failed_agents": res.FailedAgents,
		},
	}, runID)
	if err != nil {
		log.Error("ledger append failed for final decision", logger.Error(err))
		p.recordError("ledger")
	} else {
		res.DecisionHash = entry.Hash
		p.publish(ctx, log, models.DecisionEvent{
			RunID:      runID,
			Ticker:     asset.Ticker,
			Decision:   res.Decision,
			Confidence: res.Confidence,
			RawScore:   res.RawScore,
			AgentCount: res.AgentCount,
			Hash:       entry.Hash,
			Timestamp:  entry.CreatedAt,
		})
	}

	log.Info("asset decided",
		logger.String("decision", res.Decision),
		logger.Float64("confidence", res.Confidence),
		logger.Int("agent_count", res.AgentCount),
	)
	p.recordDecision(res)
	return res
}

// callAgents runs the asset agents concurrently. Each signal is appended to
// its agent chain as soon as its call returns; a signal whose append fails
// is treated as a failed call.
func (p *Pipeline) callAgents(ctx context.Context, log *logger.Logger, runID, ticker string, closes models.Closes, lastPrice float64, fundamental *models.Fundamental) []agentOutcome {
	type call struct {
		agent string
		fn    func() (models.AgentSignal, error)
	}
	var calls []call
	if fundamental != nil {
		f := *fundamental
		calls = append(calls, call{models.AgentValue, func() (models.AgentSignal, error) {
			return p.agents.Value(ctx, ticker, f, lastPrice)
		}})
	} else {
		log.Debug("no fundamentals, value agent not called")
	}
	calls = append(calls,
		call{models.AgentQuant, func() (models.AgentSignal, error) { return p.agents.Quant(ctx, ticker, closes) }},
		call{models.AgentRisk, func() (models.AgentSignal, error) { return p.agents.Risk(ctx, closes) }},
	)

	outcomes := make([]agentOutcome, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := agentOutcome{agent: c.agent}
			out.signal, out.err = c.fn()
			if out.err != nil {
				log.Warn("agent call failed", logger.String("agent", c.agent), logger.Error(out.err))
				p.recordError("agent")
				outcomes[i] = out
				return
			}
			_, err := p.ledger.Append(ctx, c.agent, models.LedgerPayload{
				Ticker:  ticker,
				Signal:  string(out.signal.Signal),
				Score:   out.signal.Score,
				Details: out.signal.Details,
			}, runID)
			if err != nil {
				log.Error("ledger append failed", logger.String("agent", c.agent), logger.Error(err))
				p.recordError("ledger")
				out.err = err
			}
			outcomes[i] = out
		}()
	}
	wg.Wait()

	sort.SliceStable(outcomes, func(a, b int) bool { return outcomes[a].agent < outcomes[b].agent })
	return outcomes
}

func (p *Pipeline) skip(res models.AssetResult, reason string) models.AssetResult {
	res.Outcome = models.OutcomeSkipped
	res.Decision = string(models.OutcomeSkipped)
	res.Reason = reason
	p.recordDecision(res)
	return res
}

func (p *Pipeline) publish(ctx context.Context, log *logger.Logger, ev models.DecisionEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishDecision(ctx, ev); err != nil {
		log.Warn("publish decision failed", logger.Error(err))
		p.recordError("publish")
	}
}

func (p *Pipeline) recordDecision(res models.AssetResult) {
	if p.metrics != nil {
		p.metrics.RecordDecision(string(res.Outcome), res.Decision)
	}
}

func (p *Pipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
