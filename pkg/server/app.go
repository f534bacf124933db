package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PortfolioAgents/internal/service/ratelimit"
	"PortfolioAgents/internal/usecase"
	"PortfolioAgents/pkg/config"
	xhttp "PortfolioAgents/pkg/http"
	pkgkafka "PortfolioAgents/pkg/kafka"
	"PortfolioAgents/pkg/logger"
)

// App encapsulates the daemon lifecycle: the admin HTTP server, the control
// command consumer and the run scheduler.
type App struct {
	cfg        *config.Config
	logger     *logger.Logger
	httpServer *xhttp.Server
	runner     *usecase.Runner
	consumer   *pkgkafka.Consumer
	control    pkgkafka.MessageHandler
	seeder     *usecase.Seeder
	limiter    *ratelimit.Limiter
}

// New creates a new App. consumer may be nil when Kafka is disabled.
func New(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	runner *usecase.Runner,
	consumer *pkgkafka.Consumer,
	control pkgkafka.MessageHandler,
	seeder *usecase.Seeder,
	limiter *ratelimit.Limiter,
) *App {
	return &App{
		cfg:        cfg,
		logger:     l,
		httpServer: httpServer,
		runner:     runner,
		consumer:   consumer,
		control:    control,
		seeder:     seeder,
		limiter:    limiter,
	}
}

// Run starts the application and blocks until interrupted or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Market.Seed && a.seeder != nil {
		if _, err := a.seeder.Seed(ctx); err != nil {
			a.logger.Error("seed market data failed", logger.Error(err))
			return err
		}
	}

	if a.consumer != nil && a.control != nil {
		a.consumer.RegisterHandler(a.control)
		if err := a.consumer.Start(ctx); err != nil {
			a.logger.Error("kafka consumer start error", logger.Error(err))
			return err
		}
		a.logger.Info("kafka consumer started", logger.String("topic", a.control.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", logger.Error(err))
		return err
	}

	if interval := a.cfg.Pipeline.ScheduleInterval; interval > 0 {
		go a.runner.Schedule(ctx, interval)
		a.logger.Info("run scheduler started", logger.Duration("interval_ms", interval))
	}

	if a.limiter != nil && a.cfg.Security.RateLimit.Window > 0 {
		go a.pruneLimiter(ctx, a.cfg.Security.RateLimit.Window)
	}

	a.logger.Info("portfolio agents started",
		logger.String("env", a.cfg.App.Environment),
		logger.String("mode", a.cfg.Mode),
		logger.String("addr", a.cfg.Addr()),
	)

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

// pruneLimiter drops rate limit buckets idle for a full window.
func (a *App) pruneLimiter(ctx context.Context, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Prune(window); n > 0 {
				a.logger.Debug("rate limit buckets pruned", logger.Int("count", n))
			}
		}
	}
}

// shutdown stops intake first, then waits for the in-flight run.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout+a.cfg.Pipeline.RunTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", logger.Error(err))
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", logger.Error(err))
		}
	}

	start := time.Now()
	if err := a.runner.Stop(ctx); err != nil {
		a.logger.Error("in-flight run did not finish", logger.Error(err))
		errs = append(errs, err)
	} else {
		a.logger.Info("runner stopped", logger.Duration("waited_ms", time.Since(start)))
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
