//go:build wireinject
// +build wireinject

package di

import (
	"PortfolioAgents/pkg/config"
	"PortfolioAgents/pkg/server"

	"github.com/google/wire"
)

var storageSet = wire.NewSet(
	ProvidePostgresPool,
	ProvideLedgerStore,
	ProvideMarketBackend,
	ProvideClickHouseClient,
)

var pipelineSet = wire.NewSet(
	storageSet,
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideModeGate,
	ProvideMarketData,
	ProvideLedger,
	ProvideAgentGateway,
	ProvideCache,
	ProvideRunStore,
	ProvideFeedHub,
	ProvideDecisionPublisher,
	ProvideArtifactSink,
	ProvidePipeline,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		pipelineSet,
		ProvideMarketWriter,
		ProvideSeeder,
		ProvideRunner,
		ProvideKafkaConsumer,
		ProvideControlHandler,
		ProvideRateLimiter,
		ProvideAdminHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeToolkit wires the one-shot operations behind the CLI.
func InitializeToolkit(cfg *config.Config) (*Toolkit, func(), error) {
	wire.Build(
		pipelineSet,
		ProvideMarketWriter,
		ProvideSeeder,
		wire.Struct(new(Toolkit), "*"),
	)
	return nil, nil, nil
}
