package di

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	domrepo "PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/handler/api"
	"PortfolioAgents/internal/ledger"
	"PortfolioAgents/internal/mode"
	internalrepo "PortfolioAgents/internal/repository"
	"PortfolioAgents/internal/service/agentclient"
	"PortfolioAgents/internal/service/feed"
	"PortfolioAgents/internal/service/ratelimit"
	"PortfolioAgents/internal/storage/memory"
	"PortfolioAgents/internal/storage/migrations"
	"PortfolioAgents/internal/storage/postgres"
	"PortfolioAgents/internal/usecase"
	"PortfolioAgents/pkg/cache"
	pkgch "PortfolioAgents/pkg/clickhouse"
	"PortfolioAgents/pkg/config"
	xhttp "PortfolioAgents/pkg/http"
	pkgkafka "PortfolioAgents/pkg/kafka"
	"PortfolioAgents/pkg/logger"
	"PortfolioAgents/pkg/metrics"
	"PortfolioAgents/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketBackend is the relational market store: read by the pipeline,
// written by the seeder.
type MarketBackend interface {
	domrepo.MarketData
	domrepo.MarketWriter
}

// Toolkit bundles the one-shot operations used by the CLI. Pool is nil
// unless a postgres store is configured.
type Toolkit struct {
	Pipeline *usecase.Pipeline
	Seeder   *usecase.Seeder
	Ledger   *ledger.Ledger
	Pool     *postgres.Pool
}

const connectTimeout = 15 * time.Second

// ProvideLogger creates the structured logger. With a collect topic set,
// repeated warn and error lines are aggregated and published to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.CollectTopic != "" && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval: cfg.Logging.CollectInterval,
			Source:       cfg.App.Name,
			Topic:        cfg.Logging.CollectTopic,
			Publisher:    producer,
		})
	}
	return l.With(logger.String("app", cfg.App.Name)), l.RemoveCollector, nil
}

var (
	recorderOnce sync.Once
	recorder     *metrics.Recorder
)

// ProvideMetrics returns the process-wide recorder on the default registry.
func ProvideMetrics() domrepo.Metrics {
	recorderOnce.Do(func() {
		recorder = metrics.New(prometheus.DefaultRegisterer)
	})
	return recorder
}

// ProvideModeGate starts the gate in the configured mode.
func ProvideModeGate(cfg *config.Config) (*mode.Gate, error) {
	m, err := mode.Parse(cfg.Mode)
	if err != nil {
		return nil, err
	}
	return mode.NewGate(m)
}

// ProvidePostgresPool connects only when a postgres store is selected;
// otherwise it returns a nil pool.
func ProvidePostgresPool(cfg *config.Config, l *logger.Logger) (*postgres.Pool, func(), error) {
	if cfg.Ledger.Store != "postgres" && cfg.Market.Store != "postgres" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN,
		postgres.WithMaxConns(cfg.Postgres.MaxConns),
		postgres.WithConnLifetime(cfg.Postgres.Lifetime),
	)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Postgres.Migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		l.Info("postgres migrations applied")
	}
	return pool, pool.Close, nil
}

// ProvideLedgerStore selects the chain store.
func ProvideLedgerStore(cfg *config.Config, pool *postgres.Pool) domrepo.LedgerStore {
	if cfg.Ledger.Store == "postgres" {
		return postgres.NewLedgerStore(pool)
	}
	return memory.NewLedgerStore()
}

// ProvideMarketBackend selects the relational market store.
func ProvideMarketBackend(cfg *config.Config, pool *postgres.Pool) MarketBackend {
	if cfg.Market.Store == "postgres" {
		return postgres.NewMarketStore(pool)
	}
	return memory.NewMarketStore()
}

// ProvideClickHouseClient connects only for price_source clickhouse and
// applies the embedded DDL.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Market.PriceSource != "clickhouse" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	stmts, err := migrations.ClickhouseStatements()
	if err == nil {
		err = client.InitSchema(ctx, stmts)
	}
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func priceStore(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) *internalrepo.CHPriceStore {
	s := internalrepo.NewCHPriceStore(ch, cfg.Market.PriceTable, cfg.Market.MaxPoints)
	s.SetLogger(l)
	return s
}

// ProvideMarketData reads closes from ClickHouse when it is configured.
func ProvideMarketData(cfg *config.Config, backend MarketBackend, ch *pkgch.Client, l *logger.Logger) domrepo.MarketData {
	if ch == nil {
		return backend
	}
	return internalrepo.NewMarketData(backend, priceStore(cfg, ch, l))
}

// ProvideMarketWriter mirrors seeded closes into ClickHouse when it is configured.
func ProvideMarketWriter(cfg *config.Config, backend MarketBackend, ch *pkgch.Client, l *logger.Logger) domrepo.MarketWriter {
	if ch == nil {
		return backend
	}
	return internalrepo.NewMarketWriter(backend, priceStore(cfg, ch, l))
}

// ProvideLedger creates the hash-chained ledger.
func ProvideLedger(store domrepo.LedgerStore, m domrepo.Metrics) *ledger.Ledger {
	return ledger.New(store, ledger.WithMetrics(m))
}

// ProvideAgentGateway creates the retrying agent client and its gateway.
func ProvideAgentGateway(cfg *config.Config, m domrepo.Metrics, l *logger.Logger) *agentclient.Gateway {
	client := agentclient.New(cfg.Security.APIKey,
		agentclient.WithMaxAttempts(cfg.Agents.MaxAttempts),
		agentclient.WithBackoff(cfg.Agents.BackoffBase, cfg.Agents.BackoffMax),
		agentclient.WithMetrics(m),
		agentclient.WithLogger(l),
		agentclient.WithHTTPClient(xhttp.NewClient(xhttp.WithTransport(agentTransport(cfg.Pipeline.Workers)))),
	)
	return agentclient.NewGateway(client, agentclient.GatewayConfig{
		Endpoints: agentclient.Endpoints{
			Macro: cfg.Agents.Endpoints.Macro,
			Value: cfg.Agents.Endpoints.Value,
			Quant: cfg.Agents.Endpoints.Quant,
			Risk:  cfg.Agents.Endpoints.Risk,
		},
		Weights: agentclient.Weights{
			Macro: cfg.Agents.Weights.Macro,
			Value: cfg.Agents.Weights.Value,
			Quant: cfg.Agents.Weights.Quant,
			Risk:  cfg.Agents.Weights.Risk,
		},
		Timeout: cfg.Agents.Timeout,
	})
}

// agentTransport keeps an idle connection per concurrent agent call: every
// worker calls up to three asset agents at once.
func agentTransport(workers int) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = max(workers*3, 2)
	return t
}

const cacheMaxEntries = 1000

// ProvideCache uses Redis behind an in-process L1 when enabled, memory otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		c := cache.NewMemoryCache(cache.WithMemoryMaxSize(cacheMaxEntries))
		return c, func() { _ = c.Close() }, nil
	}
	remote, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, cfg.Redis.Timeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	c := cache.NewLayeredCache(remote,
		cache.WithLayeredMemorySize(cacheMaxEntries),
		cache.WithLayeredL1TTL(30*time.Second),
	)
	return c, func() { _ = c.Close() }, nil
}

// ProvideRunStore keeps the latest run summary in the cache.
func ProvideRunStore(cfg *config.Config, c cache.Service) domrepo.RunStore {
	return internalrepo.NewCacheRunStore(c, cfg.Pipeline.LatestRunTTL)
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithClientID(cfg.Kafka.Producer.ClientID),
		pkgkafka.WithCompression(cfg.Kafka.Producer.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.Producer.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideKafkaConsumer returns nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook(l))
	return consumer, nil
}

// ProvideFeedHub creates the websocket decision feed.
func ProvideFeedHub(cfg *config.Config, l *logger.Logger) (*feed.Hub, func()) {
	var opts []feed.Option
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, feed.WithAllowedOrigins(cfg.Server.CORSOrigins))
	}
	hub := feed.NewHub(l, opts...)
	return hub, func() { _ = hub.Close() }
}

// ProvideDecisionPublisher fans decisions out to the websocket feed and,
// when enabled, the Kafka decisions topic.
func ProvideDecisionPublisher(cfg *config.Config, producer *pkgkafka.Producer, hub *feed.Hub) domrepo.DecisionPublisher {
	pubs := internalrepo.MultiPublisher{hub}
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.DecisionsTopic))
	}
	return pubs
}

// ProvideArtifactSink selects where run documents are exported.
func ProvideArtifactSink(cfg *config.Config) (domrepo.ArtifactSink, error) {
	switch cfg.Artifacts.Sink {
	case "minio":
		sink, err := internalrepo.NewMinIOSink(internalrepo.MinIOConfig{
			Endpoint:  cfg.Artifacts.MinIO.Endpoint,
			AccessKey: cfg.Artifacts.MinIO.AccessKey,
			SecretKey: cfg.Artifacts.MinIO.SecretKey,
			Bucket:    cfg.Artifacts.MinIO.Bucket,
			UseSSL:    cfg.Artifacts.MinIO.UseSSL,
			Region:    cfg.Artifacts.MinIO.Region,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := sink.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return sink, nil
	case "file":
		return internalrepo.NewFileSink(cfg.Artifacts.Dir), nil
	default:
		return nil, nil
	}
}

// ProvidePipeline assembles the orchestrator.
func ProvidePipeline(
	cfg *config.Config,
	gate *mode.Gate,
	market domrepo.MarketData,
	agents *agentclient.Gateway,
	lg *ledger.Ledger,
	sink domrepo.ArtifactSink,
	pub domrepo.DecisionPublisher,
	runs domrepo.RunStore,
	c cache.Service,
	m domrepo.Metrics,
	l *logger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(gate, market, agents, lg,
		usecase.WithPipelineConfig(usecase.PipelineConfig{
			Workers:         cfg.Pipeline.Workers,
			MinPriceHistory: cfg.Pipeline.MinPriceHistory,
			RunTimeout:      cfg.Pipeline.RunTimeout,
			LockTTL:         cfg.Pipeline.LockTTL,
		}),
		usecase.WithArtifactSink(sink),
		usecase.WithDecisionPublisher(pub),
		usecase.WithRunStore(runs),
		usecase.WithRunLock(c),
		usecase.WithPipelineMetrics(m),
		usecase.WithPipelineLogger(l),
	)
}

// ProvideRunner wraps the pipeline for background triggers.
func ProvideRunner(p *usecase.Pipeline, l *logger.Logger) *usecase.Runner {
	return usecase.NewRunner(p, l)
}

// ProvideSeeder creates the synthetic market data seeder.
func ProvideSeeder(w domrepo.MarketWriter, l *logger.Logger) *usecase.Seeder {
	return usecase.NewSeeder(w, usecase.WithSeedLogger(l))
}

// ProvideControlHandler handles the Kafka control topic.
func ProvideControlHandler(cfg *config.Config, gate *mode.Gate, runner *usecase.Runner, m domrepo.Metrics, l *logger.Logger) *usecase.ControlHandler {
	return usecase.NewControlHandler(cfg.Kafka.ControlTopic, gate, runner, m, l)
}

// ProvideRateLimiter creates the per-IP admin API limiter.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Security.RateLimit.Requests, cfg.Security.RateLimit.Window)
}

// ProvideAdminHandler creates the operator API.
func ProvideAdminHandler(
	cfg *config.Config,
	l *logger.Logger,
	gate *mode.Gate,
	runner *usecase.Runner,
	runs domrepo.RunStore,
	lg *ledger.Ledger,
	store domrepo.LedgerStore,
	hub *feed.Hub,
	limiter *ratelimit.Limiter,
) *api.AdminEchoHandler {
	return api.NewAdminEchoHandler(l, api.AdminDeps{
		Modes:   gate,
		Runs:    runner,
		Latest:  runs,
		Ledger:  lg,
		Entries: store,
		Feed:    hub,
		Limiter: limiter,
		APIKey:  cfg.Security.APIKey,
	})
}

// ProvideHTTPServer creates the admin HTTP server.
func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, admin *api.AdminEchoHandler) *xhttp.Server {
	return xhttp.NewServer(l, []xhttp.Handler{admin},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	runner *usecase.Runner,
	consumer *pkgkafka.Consumer,
	control *usecase.ControlHandler,
	seeder *usecase.Seeder,
	limiter *ratelimit.Limiter,
) *server.App {
	return server.New(cfg, l, httpServer, runner, consumer, control, seeder, limiter)
}
