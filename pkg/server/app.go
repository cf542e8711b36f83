package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	"github.com/Mengjun74/ibkr-mvp/internal/handler/api"
	"github.com/Mengjun74/ibkr-mvp/internal/service/killswitch"
	"github.com/Mengjun74/ibkr-mvp/internal/usecase"
	pkgch "github.com/Mengjun74/ibkr-mvp/pkg/clickhouse"
	"github.com/Mengjun74/ibkr-mvp/pkg/config"
	xhttp "github.com/Mengjun74/ibkr-mvp/pkg/http"
	pkgkafka "github.com/Mengjun74/ibkr-mvp/pkg/kafka"
	applogger "github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	collector  *usecase.BarCollector
	consumer   *pkgkafka.Consumer
	fills      *usecase.KafkaFillsHandler
	ops        *api.OpsHandler
	chClient   *pkgch.Client
	ks         *killswitch.RedisStore
	pub        repository.SignalPublisher
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	fills *usecase.KafkaFillsHandler,
	ops *api.OpsHandler,
	chClient *pkgch.Client,
	ks *killswitch.RedisStore,
	pub repository.SignalPublisher,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		collector: collector,
		consumer:  consumer,
		fills:     fills,
		ops:       ops,
		chClient:  chClient,
		ks:        ks,
		pub:       pub,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.ops,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRequestMetrics(a.log, time.Second),
	)

	go func() {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("collector error", applogger.Error(err))
		}
	}()
	a.log.Info("collector started",
		applogger.String("symbol", a.cfg.Gateway.Symbol),
		applogger.Strings("windows", a.cfg.Strategy.WindowStarts))

	// fills feedback from the executor
	if a.consumer != nil && a.fills != nil {
		a.consumer.RegisterHandler(a.fills)
		a.consumer.WithConsumerHook(pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, err error) {
				a.log.Warn("fills consumer handler error",
					applogger.String("topic", topic),
					applogger.Error(err))
			},
		})
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.fills.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("ops server listening", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	if err := a.collector.Shutdown(ctx); err != nil {
		a.log.Warn("collector stop error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if a.ks != nil {
		if err := a.ks.Close(); err != nil {
			a.log.Warn("kill switch store close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
