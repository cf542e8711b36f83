package di

import (
	"context"
	"fmt"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/advisory"
	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	"github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	domsvc "github.com/Mengjun74/ibkr-mvp/internal/domain/service"
	"github.com/Mengjun74/ibkr-mvp/internal/engine"
	"github.com/Mengjun74/ibkr-mvp/internal/handler/api"
	mid "github.com/Mengjun74/ibkr-mvp/internal/middleware"
	internalrepo "github.com/Mengjun74/ibkr-mvp/internal/repository"
	"github.com/Mengjun74/ibkr-mvp/internal/risk"
	"github.com/Mengjun74/ibkr-mvp/internal/service/gateway"
	"github.com/Mengjun74/ibkr-mvp/internal/service/killswitch"
	"github.com/Mengjun74/ibkr-mvp/internal/usecase"
	pkgch "github.com/Mengjun74/ibkr-mvp/pkg/clickhouse"
	"github.com/Mengjun74/ibkr-mvp/pkg/config"
	pkgkafka "github.com/Mengjun74/ibkr-mvp/pkg/kafka"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
	"github.com/Mengjun74/ibkr-mvp/pkg/metrics"
	"github.com/Mengjun74/ibkr-mvp/pkg/server"
)

// ProvideLogger creates the application logger with a recent-entry buffer
// for the ops surface.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.WithRecentBuffer(100), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates the ClickHouse client for the audit store.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSnapshotStore creates the ClickHouse audit store and its schema.
func ProvideSnapshotStore(ch *pkgch.Client, l *logger.Logger) (*internalrepo.CHSnapshotStore, error) {
	store := internalrepo.NewCHSnapshotStore(ch, l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvideKillSwitchStore creates the durable Redis-backed kill switch.
func ProvideKillSwitchStore(cfg *config.Config) (*killswitch.RedisStore, error) {
	store, err := killswitch.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	if err != nil {
		return nil, fmt.Errorf("kill switch store: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer for the signals topic.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideSignalPublisher creates the Kafka-backed signal publisher.
func ProvideSignalPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SignalPublisher {
	return internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalsTopic)
}

// ProvideKafkaConsumer creates a Kafka consumer for the fills topic.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideBarStream creates the gateway WebSocket bar feed.
func ProvideBarStream(cfg *config.Config, l *logger.Logger) repository.BarStream {
	return gateway.New(
		l,
		cfg.Gateway.WebSocketURL,
		cfg.Gateway.Symbol,
		cfg.Gateway.Exchange,
		cfg.Gateway.Currency,
		cfg.Gateway.BackfillBars,
		cfg.Gateway.ReconnectDelay,
		cfg.Gateway.PingInterval,
	)
}

// ProvideAdvisor creates the advisory veto client, or a noop when disabled.
func ProvideAdvisor(cfg *config.Config, l *logger.Logger) domsvc.Advisor {
	if !cfg.Advisory.Enabled {
		return advisory.NewNoopAdvisor()
	}
	return advisory.NewHTTPAdvisor(cfg.Advisory.BaseURL, cfg.Advisory.Timeout, cfg.Advisory.CallCooldown, l)
}

// ProvideRiskGate creates the risk gate wired to the kill switch and the
// audit store's risk-event sink.
func ProvideRiskGate(cfg *config.Config, ks *killswitch.RedisStore, store *internalrepo.CHSnapshotStore, l *logger.Logger) *risk.Gate {
	sink := func(e models.RiskEvent) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.StoreRiskEvent(ctx, &e); err != nil {
				l.Warn("risk event store failed", logger.Error(err))
			}
		}()
	}
	return risk.NewGate(risk.Params{
		DailyLossFloor:   cfg.Risk.DailyLossFloor,
		TradeLossFloor:   cfg.Risk.TradeLossFloor,
		MaxDailyTrades:   cfg.Risk.MaxDailyTrades,
		MaxPosition:      cfg.Risk.MaxPosition,
		CooldownDuration: cfg.Risk.CooldownDuration,
	}, ks, l, risk.WithEventSink(sink))
}

// ProvideOrchestrator builds the engine core from the strategy config.
func ProvideOrchestrator(
	cfg *config.Config,
	l *logger.Logger,
	gate *risk.Gate,
	advisor domsvc.Advisor,
	pub repository.SignalPublisher,
	store *internalrepo.CHSnapshotStore,
	m repository.Metrics,
) (*engine.Orchestrator, error) {
	end, err := cfg.EndOfTradingTime()
	if err != nil {
		return nil, err
	}
	spec, err := engine.NewWindowSpec(cfg.WindowStartTimes(), cfg.Strategy.RangeDuration, end)
	if err != nil {
		return nil, fmt.Errorf("window spec: %w", err)
	}
	ind := engine.NewIndicatorEngine(cfg.Strategy.TrendSpan, cfg.Strategy.VolatilitySpan, cfg.Strategy.BufferBars)
	gen := engine.NewBreakoutGenerator(engine.BreakoutParams{
		VolMin:      cfg.Strategy.VolatilityMin,
		VolMax:      cfg.Strategy.VolatilityMax,
		TickBuffer:  cfg.Strategy.TickBuffer,
		TickSize:    cfg.Strategy.TickSize,
		StopFloor:   cfg.Strategy.StopFloor,
		StopVolMult: cfg.Strategy.StopVolMult,
		RewardMult:  cfg.Strategy.RewardMult,
	})
	return engine.NewOrchestrator(l, spec, ind, gen, gate, advisor, pub, store, m), nil
}

// ProvideBarCollector creates the collector with its intake queue.
func ProvideBarCollector(l *logger.Logger, stream repository.BarStream, orch *engine.Orchestrator, m repository.Metrics) *usecase.BarCollector {
	intake := mid.NewBarIntake(orch, m, mid.WithQueueSize(256))
	return usecase.NewBarCollector(l, stream, orch, intake, m)
}

// ProvideFillsHandler registers the handler for the fills topic.
func ProvideFillsHandler(orch *engine.Orchestrator, m repository.Metrics, cfg *config.Config) *usecase.KafkaFillsHandler {
	return usecase.NewKafkaFillsHandler(cfg.Kafka.FillsTopic, orch, m)
}

// ProvideOpsHandler creates the HTTP ops surface.
func ProvideOpsHandler(l *logger.Logger, orch *engine.Orchestrator, collector *usecase.BarCollector, ks *killswitch.RedisStore, store *internalrepo.CHSnapshotStore) *api.OpsHandler {
	return api.NewOpsHandler(l, orch, collector, ks, store)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	fh *usecase.KafkaFillsHandler,
	ops *api.OpsHandler,
	chClient *pkgch.Client,
	ks *killswitch.RedisStore,
	pub repository.SignalPublisher,
) *server.App {
	return server.New(cfg, l, collector, consumer, fh, ops, chClient, ks, pub)
}
