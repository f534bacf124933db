package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/mode"
	"PortfolioAgents/internal/storage/memory"
	"PortfolioAgents/pkg/logger"
)

type blockingExec struct {
	release chan struct{}
	started chan struct{}
	calls   atomic.Int32
	running atomic.Bool
	ctxErr  atomic.Value
}

func newBlockingExec() *blockingExec {
	return &blockingExec{release: make(chan struct{}), started: make(chan struct{}, 8)}
}

func (e *blockingExec) Run(ctx context.Context) (*models.Run, error) {
	e.running.Store(true)
	defer e.running.Store(false)
	e.calls.Add(1)
	select {
	case e.started <- struct{}{}:
	default:
	}
	select {
	case <-e.release:
	case <-ctx.Done():
		e.ctxErr.Store(ctx.Err())
	}
	return &models.Run{ID: "r", State: models.RunCompleted}, nil
}

func (e *blockingExec) Running() bool { return e.running.Load() }

func TestRunnerRejectsOverlap(t *testing.T) {
	exec := newBlockingExec()
	r := NewRunner(exec, logger.Nop())

	require.NoError(t, r.Trigger("api"))
	<-exec.started
	assert.True(t, r.Running())
	assert.ErrorIs(t, r.Trigger("api"), ErrRunInProgress)

	close(exec.release)
	require.NoError(t, r.Stop(context.Background()))
	assert.False(t, r.Running())
	assert.EqualValues(t, 1, exec.calls.Load())
}

func TestRunnerStopCancelsInFlightRun(t *testing.T) {
	exec := newBlockingExec()
	r := NewRunner(exec, logger.Nop())

	require.NoError(t, r.Trigger("api"))
	<-exec.started
	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, context.Canceled, exec.ctxErr.Load())
	assert.Error(t, r.Trigger("api"))
}

func TestRunnerSchedule(t *testing.T) {
	exec := newBlockingExec()
	close(exec.release)
	r := NewRunner(exec, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Schedule(ctx, 5*time.Millisecond)
		close(done)
	}()

	<-exec.started
	<-exec.started
	cancel()
	<-done
	require.NoError(t, r.Stop(context.Background()))
	assert.GreaterOrEqual(t, exec.calls.Load(), int32(2))
}

type recordingTrigger struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (t *recordingTrigger) Trigger(source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sources = append(t.sources, source)
	return t.err
}

func TestControlHandlerSetMode(t *testing.T) {
	gate, err := mode.NewGate(mode.Normal)
	require.NoError(t, err)
	h := NewControlHandler("portfolio.control", gate, &recordingTrigger{}, nil, logger.Nop())

	assert.Equal(t, "portfolio.control", h.Topic())
	require.NoError(t, h.Handle(context.Background(), []byte(`{"command":"set_mode","mode":"panic","reason":"drill"}`)))
	assert.Equal(t, mode.Panic, gate.Current())
	assert.False(t, gate.IsSafeToExecute())

	err = h.Handle(context.Background(), []byte(`{"command":"set_mode","mode":"OFF"}`))
	assert.ErrorIs(t, err, mode.ErrInvalidMode)
	assert.Equal(t, mode.Panic, gate.Current())
}

func TestControlHandlerRun(t *testing.T) {
	gate, err := mode.NewGate(mode.Normal)
	require.NoError(t, err)
	trig := &recordingTrigger{}
	h := NewControlHandler("c", gate, trig, nil, logger.Nop())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"command":"run"}`)))
	assert.Equal(t, []string{"kafka"}, trig.sources)

	trig.err = ErrRunInProgress
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"command":"run"}`)))

	trig.err = errors.New("shutting down")
	assert.Error(t, h.Handle(context.Background(), []byte(`{"command":"run"}`)))
}

func TestControlHandlerRejectsGarbage(t *testing.T) {
	gate, err := mode.NewGate(mode.Normal)
	require.NoError(t, err)
	h := NewControlHandler("c", gate, &recordingTrigger{}, nil, logger.Nop())

	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
	assert.ErrorContains(t, h.Handle(context.Background(), []byte(`{"command":"reboot"}`)), "unknown control command")
}

func TestSeederWritesUniverse(t *testing.T) {
	market := memory.NewMarketStore()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) // Saturday
	s := NewSeeder(market, WithRandSeed(42), WithSeedClock(func() time.Time { return now }))

	sum, err := s.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SeedSummary{Assets: 10, Prices: 2000, Fundamentals: 10}, sum)

	ctx := context.Background()
	assets, err := market.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 10)

	prices, err := market.PriceHistory(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, prices, 200)
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), prices[199].Date)
	for i, p := range prices {
		assert.NotContains(t, []time.Weekday{time.Saturday, time.Sunday}, p.Date.Weekday())
		assert.Greater(t, p.Close, 0.0)
		if i > 0 {
			assert.True(t, p.Date.After(prices[i-1].Date))
			step := p.Close/prices[i-1].Close - 1
			assert.InDelta(t, 0, step, 0.0201)
		}
	}

	f, err := market.LatestFundamental(ctx, "PG")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.DebtToEBITDA, 0.5)
	assert.LessOrEqual(t, f.DebtToEBITDA, 4.0)

	macro, err := market.LatestMacro(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0525, macro.InterestRate)
}

func TestSeederFeedsPipeline(t *testing.T) {
	f := newFixture(t)
	_, err := NewSeeder(f.market, WithRandSeed(7), WithSeedDays(40),
		WithSeedUniverse(DefaultUniverse[:3])).Seed(context.Background())
	require.NoError(t, err)

	run, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, run.Count(models.OutcomeDecided))
}

func TestSeederIsReproducible(t *testing.T) {
	a, b := memory.NewMarketStore(), memory.NewMarketStore()
	now := func() time.Time { return time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC) }
	_, err := NewSeeder(a, WithRandSeed(1), WithSeedClock(now)).Seed(context.Background())
	require.NoError(t, err)
	_, err = NewSeeder(b, WithRandSeed(1), WithSeedClock(now)).Seed(context.Background())
	require.NoError(t, err)

	pa, _ := a.PriceHistory(context.Background(), "TSLA")
	pb, _ := b.PriceHistory(context.Background(), "TSLA")
	assert.Equal(t, pa, pb)
}
