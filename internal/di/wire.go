//go:build wireinject
// +build wireinject

package di

import (
	"github.com/Mengjun74/ibkr-mvp/pkg/config"
	"github.com/Mengjun74/ibkr-mvp/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideKillSwitchStore,

		// Repositories
		ProvideSnapshotStore,
		ProvideSignalPublisher,
		ProvideBarStream,

		// Engine
		ProvideAdvisor,
		ProvideRiskGate,
		ProvideOrchestrator,

		// Use cases
		ProvideBarCollector,
		ProvideFillsHandler,

		// HTTP surface
		ProvideOpsHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
